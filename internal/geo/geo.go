package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ridepool/internal/models"
)

// Locator is the minimal interface the handlers and lifecycle need to
// rank available drivers by proximity.
type Locator interface {
	Nearby(origin models.Coordinate, radiusKm float64, limit int) []RankedDriver
	Upsert(d models.Driver)
}

// RankedDriver is a driver plus its great-circle distance from the
// query origin, in kilometers.
type RankedDriver struct {
	Driver     models.Driver `json:"driver"`
	DistanceKm float64       `json:"distanceKm"`
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(origin models.Coordinate, radiusKm float64, limit int) []RankedDriver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := make([]RankedDriver, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.IsAvailable || d.CurrentLocation == nil {
			continue
		}
		dist := Distance(origin, *d.CurrentLocation)
		if dist > radiusKm {
			continue
		}
		arr = append(arr, RankedDriver{Driver: d, DistanceKm: dist})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].DistanceKm < arr[j].DistanceKm })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	return arr
}

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// Distance returns the great-circle distance between two coordinates in
// kilometers, using the haversine formula. Symmetric, non-negative, and
// zero for identical points.
func Distance(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}
