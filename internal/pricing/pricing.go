package pricing

import (
	"math"

	"github.com/example/ridepool/internal/geo"
	"github.com/example/ridepool/internal/models"
)

// Default tariff, PKR.
const (
	BaseFare  = 50.0
	PerKmRate = 15.0

	// PoolDiscountRate is the flat discount Quote applies to pooled
	// trips. Deliberately distinct from ScaledPoolDiscountRate and from
	// pool.DisplayDiscountPercent; the three policies are not
	// interchangeable and must not be unified silently.
	PoolDiscountRate = 0.25
)

// Quote is a fare breakdown for a single trip.
type Quote struct {
	DistanceKm   float64 `json:"distance"`
	BaseFare     float64 `json:"baseFare"`
	DistanceFare float64 `json:"distanceFare"`
	Discount     float64 `json:"discount"`
	TotalFare    float64 `json:"totalFare"`
}

// PoolQuote extends Quote with the capacity-scaled rate that produced it.
type PoolQuote struct {
	Quote
	DiscountRatePercent float64 `json:"discountRate"`
}

// Calculator prices trips from great-circle distance. The zero value is
// unusable; use NewCalculator.
type Calculator struct {
	baseFare  float64
	perKmRate float64
}

func NewCalculator() *Calculator {
	return &Calculator{baseFare: BaseFare, perKmRate: PerKmRate}
}

// Trip quotes a single pickup-to-dropoff trip. Pooled trips get the flat
// PoolDiscountRate off the subtotal.
func (c *Calculator) Trip(pickup, dropoff models.Coordinate, pooled bool) Quote {
	dist := geo.Distance(pickup, dropoff)
	distanceFare := dist * c.perKmRate
	subtotal := c.baseFare + distanceFare
	var discount float64
	if pooled {
		discount = subtotal * PoolDiscountRate
	}
	return Quote{
		DistanceKm:   round2(dist),
		BaseFare:     c.baseFare,
		DistanceFare: round2(distanceFare),
		Discount:     round2(discount),
		TotalFare:    round2(subtotal - discount),
	}
}

// ScaledPoolDiscountRate is the capacity-scaled discount used by Pool:
// 0.20 at two passengers, 0.25 at three, capped at 0.30. Monotonically
// non-decreasing in passenger count.
func ScaledPoolDiscountRate(passengerCount int) float64 {
	if passengerCount < 0 {
		passengerCount = 0
	}
	return math.Min(0.30, 0.15+0.05*float64(passengerCount))
}

// Pool quotes one leg of a pooled ride using the capacity-scaled rate.
func (c *Calculator) Pool(pickup, dropoff models.Coordinate, passengerCount int) PoolQuote {
	dist := geo.Distance(pickup, dropoff)
	distanceFare := dist * c.perKmRate
	subtotal := c.baseFare + distanceFare
	rate := ScaledPoolDiscountRate(passengerCount)
	discount := subtotal * rate
	return PoolQuote{
		Quote: Quote{
			DistanceKm:   round2(dist),
			BaseFare:     c.baseFare,
			DistanceFare: round2(distanceFare),
			Discount:     round2(discount),
			TotalFare:    round2(subtotal - discount),
		},
		DiscountRatePercent: math.Round(rate * 100),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
