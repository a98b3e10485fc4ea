package geo

import (
	"math"
	"testing"

	"github.com/example/ridepool/internal/models"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	pts := []models.Coordinate{
		{Lat: 0, Lng: 0},
		{Lat: 33.6844, Lng: 73.0479},
		{Lat: -45.1, Lng: 170.2},
	}
	for _, p := range pts {
		if d := Distance(p, p); d != 0 {
			t.Fatalf("Distance(%v,%v) = %f, want 0", p, p, d)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := models.Coordinate{Lat: 33.6844, Lng: 73.0479}
	b := models.Coordinate{Lat: 31.5204, Lng: 74.3587}
	if d1, d2 := Distance(a, b), Distance(b, a); d1 != d2 {
		t.Fatalf("asymmetric: %f vs %f", d1, d2)
	}
}

func TestDistanceIslamabadLahore(t *testing.T) {
	isb := models.Coordinate{Lat: 33.6844, Lng: 73.0479}
	lhr := models.Coordinate{Lat: 31.5204, Lng: 74.3587}
	d := Distance(isb, lhr)
	if math.Abs(d-275.0) > 2.0 {
		t.Fatalf("Islamabad-Lahore distance = %f, want ~275", d)
	}
}

func TestDistanceTriangleInequality(t *testing.T) {
	a := models.Coordinate{Lat: 0, Lng: 0}
	b := models.Coordinate{Lat: 1, Lng: 1}
	c := models.Coordinate{Lat: 2, Lng: 0.5}
	if Distance(a, c) > Distance(a, b)+Distance(b, c)+1e-9 {
		t.Fatal("triangle inequality violated")
	}
}

func TestIndexNearbyFiltersAndRanks(t *testing.T) {
	idx := NewIndex()
	loc := func(lat, lng float64) *models.Coordinate { return &models.Coordinate{Lat: lat, Lng: lng} }
	idx.Upsert(models.Driver{ID: "far", CurrentLocation: loc(0, 0.5), IsAvailable: true})
	idx.Upsert(models.Driver{ID: "near", CurrentLocation: loc(0, 0.01), IsAvailable: true})
	idx.Upsert(models.Driver{ID: "busy", CurrentLocation: loc(0, 0.005), IsAvailable: false})
	idx.Upsert(models.Driver{ID: "nowhere", IsAvailable: true})

	got := idx.Nearby(models.Coordinate{Lat: 0, Lng: 0}, 100, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers, got %d", len(got))
	}
	if got[0].Driver.ID != "near" || got[1].Driver.ID != "far" {
		t.Fatalf("wrong order: %s, %s", got[0].Driver.ID, got[1].Driver.ID)
	}
	if got[0].DistanceKm >= got[1].DistanceKm {
		t.Fatal("not ranked ascending by distance")
	}
}

func TestIndexNearbyRadiusAndLimit(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: "a", CurrentLocation: &models.Coordinate{Lat: 0, Lng: 0.01}, IsAvailable: true})
	idx.Upsert(models.Driver{ID: "b", CurrentLocation: &models.Coordinate{Lat: 0, Lng: 0.02}, IsAvailable: true})
	idx.Upsert(models.Driver{ID: "c", CurrentLocation: &models.Coordinate{Lat: 0, Lng: 2}, IsAvailable: true})

	origin := models.Coordinate{Lat: 0, Lng: 0}
	if got := idx.Nearby(origin, 10, 10); len(got) != 2 {
		t.Fatalf("radius filter: expected 2, got %d", len(got))
	}
	if got := idx.Nearby(origin, 10, 1); len(got) != 1 || got[0].Driver.ID != "a" {
		t.Fatalf("limit: expected [a], got %v", got)
	}
}
