package payments

import (
	"math"

	"github.com/example/ridepool/internal/models"
)

// Summary aggregates revenue over a set of rides. Only completed rides
// count toward revenue.
type Summary struct {
	TotalRides     int     `json:"totalRides"`
	CompletedRides int     `json:"completedRides"`
	PooledRides    int     `json:"pooledRides"`
	TotalRevenue   float64 `json:"totalRevenue"`
	AverageFare    float64 `json:"averageFare"`
}

func Summarize(rides []models.Ride) Summary {
	var s Summary
	s.TotalRides = len(rides)
	for _, r := range rides {
		if r.Status == models.RideCompleted {
			s.CompletedRides++
			s.TotalRevenue += r.TotalFare
		}
		if r.IsPooled {
			s.PooledRides++
		}
	}
	s.TotalRevenue = math.Round(s.TotalRevenue*100) / 100
	if s.CompletedRides > 0 {
		s.AverageFare = math.Round(s.TotalRevenue/float64(s.CompletedRides)*100) / 100
	}
	return s
}
