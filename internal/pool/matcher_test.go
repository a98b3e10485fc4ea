package pool

import (
	"context"
	"math"
	"testing"

	"github.com/example/ridepool/internal/geo"
	"github.com/example/ridepool/internal/models"
)

type fakeSource struct{ rides []models.Ride }

func (f *fakeSource) OpenPooledRides(ctx context.Context) ([]models.Ride, error) {
	return f.rides, nil
}

func leg(rider string, p, d models.Coordinate) models.PassengerLeg {
	return models.PassengerLeg{RiderID: rider, Pickup: p, Dropoff: d, Status: models.LegPending}
}

// reference route runs ~10km east along the equator
var (
	refPickup  = models.Coordinate{Lat: 0, Lng: 0}
	refDropoff = models.Coordinate{Lat: 0, Lng: 0.09}
)

func TestFindMatchesAcceptsSmallDetour(t *testing.T) {
	// a passenger slightly off the reference corridor
	newPickup := models.Coordinate{Lat: 0.004, Lng: 0.02}
	newDropoff := models.Coordinate{Lat: 0.004, Lng: 0.07}

	src := &fakeSource{rides: []models.Ride{{
		ID: "r1", DriverID: "d1", IsPooled: true, Status: models.RideRequested,
		Passengers: []models.PassengerLeg{leg("p1", refPickup, refDropoff)},
	}}}
	m := NewMatcher(src)

	got, err := m.FindMatches(context.Background(), newPickup, newDropoff, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	want := Deviation(refPickup, refDropoff, newPickup, newDropoff)
	if math.Abs(got[0].DeviationKm-want) > 0.01 {
		t.Fatalf("reported deviation %f, recomputed %f", got[0].DeviationKm, want)
	}
	if got[0].DeviationKm > 5 {
		t.Fatalf("deviation %f above threshold", got[0].DeviationKm)
	}
	if got[0].CurrentPassengers != 1 || got[0].DiscountPercent != 15 {
		t.Fatalf("unexpected match fields: %+v", got[0])
	}
}

func TestFindMatchesRejectsLargeDetour(t *testing.T) {
	// perpendicular detour ~100km off-route
	newPickup := models.Coordinate{Lat: 0.9, Lng: 0.02}
	newDropoff := models.Coordinate{Lat: 0.9, Lng: 0.07}

	src := &fakeSource{rides: []models.Ride{{
		ID: "r1", IsPooled: true, Status: models.RideRequested,
		Passengers: []models.PassengerLeg{leg("p1", refPickup, refDropoff)},
	}}}
	got, err := NewMatcher(src).FindMatches(context.Background(), newPickup, newDropoff, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
}

func TestFindMatchesSortedAscendingAndTruncated(t *testing.T) {
	mk := func(id string, lat float64) models.Ride {
		// shifting the reference corridor away from the query grows the detour
		return models.Ride{
			ID: id, IsPooled: true, Status: models.RideAccepted,
			Passengers: []models.PassengerLeg{leg("p-"+id, models.Coordinate{Lat: lat, Lng: 0}, models.Coordinate{Lat: lat, Lng: 0.09})},
		}
	}
	src := &fakeSource{rides: []models.Ride{mk("far", 0.02), mk("mid", 0.01), mk("close", 0.001)}}
	m := NewMatcher(src)
	pickup := models.Coordinate{Lat: 0, Lng: 0.02}
	dropoff := models.Coordinate{Lat: 0, Lng: 0.07}

	got, err := m.FindMatches(context.Background(), pickup, dropoff, 50, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].DeviationKm < got[i-1].DeviationKm {
			t.Fatalf("not sorted ascending: %v", got)
		}
	}
	if got[0].RideID != "close" {
		t.Fatalf("closest ride should rank first, got %s", got[0].RideID)
	}

	trunc, err := m.FindMatches(context.Background(), pickup, dropoff, 50, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trunc) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(trunc))
	}
}

func TestFindMatchesSkipsRidesWithoutReference(t *testing.T) {
	src := &fakeSource{rides: []models.Ride{{ID: "empty", IsPooled: true, Status: models.RideRequested}}}
	got, err := NewMatcher(src).FindMatches(context.Background(), refPickup, refDropoff, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatal("ride with no passengers must not match")
	}
}

func TestReferenceLegPolicyIsPluggable(t *testing.T) {
	r := models.Ride{
		ID: "r1", IsPooled: true, Status: models.RideRequested,
		Passengers: []models.PassengerLeg{
			leg("p1", models.Coordinate{Lat: 50, Lng: 50}, models.Coordinate{Lat: 51, Lng: 51}),
			leg("p2", refPickup, refDropoff),
		},
	}
	m := NewMatcher(&fakeSource{rides: []models.Ride{r}})
	m.Reference = func(r models.Ride) (models.PassengerLeg, bool) {
		return r.Passengers[len(r.Passengers)-1], true
	}
	got, err := m.FindMatches(context.Background(), models.Coordinate{Lat: 0, Lng: 0.01}, models.Coordinate{Lat: 0, Lng: 0.08}, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatal("expected match against the substituted reference leg")
	}
}

func TestDeviationMatchesScenarioGeometry(t *testing.T) {
	// detour route totalling ~2km more than the direct reference route
	newPickup := models.Coordinate{Lat: 0.008, Lng: 0.03}
	newDropoff := models.Coordinate{Lat: 0.008, Lng: 0.06}
	dev := Deviation(refPickup, refDropoff, newPickup, newDropoff)
	direct := geo.Distance(refPickup, refDropoff)
	detour := geo.Distance(refPickup, newPickup) + geo.Distance(newPickup, newDropoff) + geo.Distance(newDropoff, refDropoff)
	if math.Abs(dev-(detour-direct)) > 1e-9 {
		t.Fatalf("deviation %f != detour-direct %f", dev, detour-direct)
	}
	if dev <= 0 {
		t.Fatal("detour must cost extra distance")
	}
}

func TestDisplayDiscountPercent(t *testing.T) {
	cases := map[int]int{0: 10, 1: 15, 2: 20, 3: 25, 4: 30, 6: 30}
	for n, want := range cases {
		if got := DisplayDiscountPercent(n); got != want {
			t.Fatalf("DisplayDiscountPercent(%d) = %d, want %d", n, got, want)
		}
	}
}
