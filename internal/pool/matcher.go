package pool

import (
	"context"
	"math"
	"sort"

	"github.com/example/ridepool/internal/geo"
	"github.com/example/ridepool/internal/models"
	"github.com/example/ridepool/internal/observability"
)

// CandidateSource lists rides a new passenger could still join: pooled,
// non-terminal, under capacity.
type CandidateSource interface {
	OpenPooledRides(ctx context.Context) ([]models.Ride, error)
}

// ReferenceLeg selects the leg whose pickup/dropoff act as the route
// reference for deviation scoring. Returns false when the ride carries
// no usable reference.
type ReferenceLeg func(r models.Ride) (models.PassengerLeg, bool)

// FirstPassenger is the default reference policy: the ride's first leg.
func FirstPassenger(r models.Ride) (models.PassengerLeg, bool) {
	if len(r.Passengers) == 0 {
		return models.PassengerLeg{}, false
	}
	return r.Passengers[0], true
}

// Match is one joinable ride, scored by detour distance.
type Match struct {
	RideID            string  `json:"rideId"`
	DriverID          string  `json:"driverId,omitempty"`
	CurrentPassengers int     `json:"currentPassengers"`
	DeviationKm       float64 `json:"deviation"`
	DiscountPercent   int     `json:"discountPercentage"`
}

// Matcher searches active pooled rides for viable insertion of a new
// passenger. Zero matches is an empty slice, not an error.
type Matcher struct {
	Source    CandidateSource
	Reference ReferenceLeg
}

func NewMatcher(src CandidateSource) *Matcher {
	return &Matcher{Source: src, Reference: FirstPassenger}
}

// Deviation is the extra distance a driver travels to serve the new
// passenger between the reference pickup and dropoff:
//
//	ref.pickup -> new.pickup -> new.dropoff -> ref.dropoff
//
// minus the direct reference leg.
func Deviation(refPickup, refDropoff, newPickup, newDropoff models.Coordinate) float64 {
	direct := geo.Distance(refPickup, refDropoff)
	detour := geo.Distance(refPickup, newPickup) +
		geo.Distance(newPickup, newDropoff) +
		geo.Distance(newDropoff, refDropoff)
	return detour - direct
}

// DisplayDiscountPercent is the discount shown on match results:
// min(30, 10+5n). Display only; the fare a joining rider actually pays
// comes from the pricing package, which uses different rates.
func DisplayDiscountPercent(passengerCount int) int {
	p := 10 + 5*passengerCount
	if p > 30 {
		p = 30
	}
	return p
}

// FindMatches ranks joinable rides ascending by deviation and truncates
// to maxResults. Candidates above maxDeviationKm are rejected.
func (m *Matcher) FindMatches(ctx context.Context, pickup, dropoff models.Coordinate, maxDeviationKm float64, maxResults int) ([]Match, error) {
	ref := m.Reference
	if ref == nil {
		ref = FirstPassenger
	}
	rides, err := m.Source.OpenPooledRides(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(rides))
	for _, r := range rides {
		leg, ok := ref(r)
		if !ok {
			continue
		}
		dev := Deviation(leg.Pickup, leg.Dropoff, pickup, dropoff)
		if dev > maxDeviationKm {
			continue
		}
		matches = append(matches, Match{
			RideID:            r.ID,
			DriverID:          r.DriverID,
			CurrentPassengers: len(r.Passengers),
			DeviationKm:       round2(dev),
			DiscountPercent:   DisplayDiscountPercent(len(r.Passengers)),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].DeviationKm < matches[j].DeviationKm })
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	observability.PoolMatchSearches.Inc()
	return matches, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
