package route

import (
	"math"

	"github.com/example/ridepool/internal/geo"
	"github.com/example/ridepool/internal/models"
)

// DefaultAvgSpeedKmh is the city average used for duration estimates.
// Great-circle only; road-network ETAs are out of scope.
const DefaultAvgSpeedKmh = 40.0

// Strategy sequences a multi-passenger ride's waypoints. pickups[i] and
// dropoffs[i] belong to the same passenger, and a valid output never
// visits dropoffs[i] before pickups[i].
type Strategy interface {
	Sequence(pickups, dropoffs []models.Coordinate) []models.Waypoint
}

// NearestNeighbor is a greedy sequencing strategy: from the current
// waypoint, always move to the closest point whose precedence constraint
// is satisfied. An approximation, not optimal TSP-with-precedence.
type NearestNeighbor struct{}

// Sequence returns a full permutation of the 2n waypoints starting at
// pickups[0]. Empty pickups yields an empty sequence. Ties on distance
// resolve to the earliest point in enumeration order (pickups before
// dropoffs, then by index), which makes the output deterministic.
func (NearestNeighbor) Sequence(pickups, dropoffs []models.Coordinate) []models.Waypoint {
	if len(pickups) == 0 {
		return nil
	}

	type point struct {
		wp      models.Waypoint
		visited bool
	}
	points := make([]point, 0, len(pickups)+len(dropoffs))
	for i, p := range pickups {
		points = append(points, point{wp: models.Waypoint{Kind: models.WaypointPickup, Index: i, Location: p}})
	}
	for i, d := range dropoffs {
		points = append(points, point{wp: models.Waypoint{Kind: models.WaypointDropoff, Index: i, Location: d}})
	}

	pickedUp := make([]bool, len(pickups))
	available := func(pt point) bool {
		if pt.wp.Kind == models.WaypointPickup {
			return true
		}
		return pt.wp.Index < len(pickedUp) && pickedUp[pt.wp.Index]
	}

	out := make([]models.Waypoint, 0, len(points))
	points[0].visited = true
	pickedUp[0] = true
	out = append(out, points[0].wp)
	current := points[0].wp.Location

	for {
		best := -1
		bestDist := 0.0
		for i := range points {
			if points[i].visited || !available(points[i]) {
				continue
			}
			d := geo.Distance(current, points[i].wp.Location)
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}
		if best == -1 {
			break
		}
		points[best].visited = true
		if points[best].wp.Kind == models.WaypointPickup {
			pickedUp[points[best].wp.Index] = true
		}
		out = append(out, points[best].wp)
		current = points[best].wp.Location
	}
	return out
}

// TotalDistanceKm sums consecutive great-circle legs of a route.
func TotalDistanceKm(waypoints []models.Waypoint) float64 {
	if len(waypoints) < 2 {
		return 0
	}
	total := 0.0
	for i := 0; i < len(waypoints)-1; i++ {
		total += geo.Distance(waypoints[i].Location, waypoints[i+1].Location)
	}
	return math.Round(total*100) / 100
}

// EstimateDurationMinutes converts route distance to minutes at the
// given average speed.
func EstimateDurationMinutes(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAvgSpeedKmh
	}
	return int(math.Round(distanceKm / avgSpeedKmh * 60))
}
