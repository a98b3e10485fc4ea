package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ridepool/internal/models"
)

func seedRide(t *testing.T, m *MemoryStore, r models.Ride) {
	t.Helper()
	if err := m.InsertRide(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
}

func pooledRide(id string, legs ...models.PassengerLeg) models.Ride {
	return models.Ride{
		ID:         id,
		IsPooled:   true,
		Status:     models.RideRequested,
		Passengers: legs,
	}
}

func passengerLeg(rider string) models.PassengerLeg {
	return models.PassengerLeg{
		RiderID: rider,
		Pickup:  models.Coordinate{Lat: 33.6844, Lng: 73.0479},
		Dropoff: models.Coordinate{Lat: 31.5204, Lng: 74.3587},
		Status:  models.LegPending,
		Fare:    100,
	}
}

func TestGetRideNotFound(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.GetRide(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRideReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, pooledRide("r1", passengerLeg("p1")))

	got, err := m.GetRide(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	got.Passengers[0].RiderID = "mutated"
	got.Status = models.RideCompleted

	again, err := m.GetRide(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Passengers[0].RiderID != "p1" || again.Status != models.RideRequested {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestAppendPassengerGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("not pooled", func(t *testing.T) {
		m := NewMemoryStore()
		r := pooledRide("r1", passengerLeg("p1"))
		r.IsPooled = false
		seedRide(t, m, r)
		_, err := m.AppendPassenger(ctx, "r1", passengerLeg("p2"))
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("ride already started", func(t *testing.T) {
		m := NewMemoryStore()
		r := pooledRide("r1", passengerLeg("p1"))
		r.Status = models.RideInProgress
		seedRide(t, m, r)
		_, err := m.AppendPassenger(ctx, "r1", passengerLeg("p2"))
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("at capacity", func(t *testing.T) {
		m := NewMemoryStore()
		seedRide(t, m, pooledRide("r1",
			passengerLeg("p1"), passengerLeg("p2"), passengerLeg("p3"), passengerLeg("p4")))
		_, err := m.AppendPassenger(ctx, "r1", passengerLeg("p5"))
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("expected ErrCapacityExceeded, got %v", err)
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatal("capacity error must also be a conflict")
		}
	})

	t.Run("duplicate rider", func(t *testing.T) {
		m := NewMemoryStore()
		seedRide(t, m, pooledRide("r1", passengerLeg("p1")))
		_, err := m.AppendPassenger(ctx, "r1", passengerLeg("p1"))
		if !errors.Is(err, ErrDuplicateRider) {
			t.Fatalf("expected ErrDuplicateRider, got %v", err)
		}
	})

	t.Run("success adds leg and fare", func(t *testing.T) {
		m := NewMemoryStore()
		r := pooledRide("r1", passengerLeg("p1"))
		r.TotalFare = 100
		seedRide(t, m, r)
		got, err := m.AppendPassenger(ctx, "r1", passengerLeg("p2"))
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Passengers) != 2 || got.TotalFare != 200 {
			t.Fatalf("unexpected ride after join: passengers=%d fare=%f", len(got.Passengers), got.TotalFare)
		}
	})
}

func TestAppendPassengerNeverExceedsCapacity(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, pooledRide("r1", passengerLeg("p0")))

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.AppendPassenger(context.Background(), "r1", passengerLeg("rider-"+string(rune('a'+i))))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != models.MaxPoolPassengers-1 {
		t.Fatalf("expected %d successful joins, got %d", models.MaxPoolPassengers-1, wins)
	}
	r, err := m.GetRide(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Passengers) != models.MaxPoolPassengers {
		t.Fatalf("ride holds %d passengers, cap is %d", len(r.Passengers), models.MaxPoolPassengers)
	}
}

func TestUpdateRideStatusCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedRide(t, m, pooledRide("r1", passengerLeg("p1")))
	now := time.Now()

	_, err := m.UpdateRideStatus(ctx, "r1", []models.RideStatus{models.RideInProgress}, models.RideCompleted, now)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for wrong precondition, got %v", err)
	}

	r, err := m.UpdateRideStatus(ctx, "r1", []models.RideStatus{models.RideRequested}, models.RideAccepted, now)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.RideAccepted {
		t.Fatalf("status = %s", r.Status)
	}
}

func TestUpdateRideStatusSetsTimestampsOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := pooledRide("r1", passengerLeg("p1"))
	r.Status = models.RideAccepted
	seedRide(t, m, r)

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	started, err := m.UpdateRideStatus(ctx, "r1", []models.RideStatus{models.RideAccepted}, models.RideInProgress, t1)
	if err != nil {
		t.Fatal(err)
	}
	if started.StartTime == nil || !started.StartTime.Equal(t1) {
		t.Fatalf("start time = %v", started.StartTime)
	}

	t2 := t1.Add(30 * time.Minute)
	done, err := m.UpdateRideStatus(ctx, "r1", []models.RideStatus{models.RideInProgress}, models.RideCompleted, t2)
	if err != nil {
		t.Fatal(err)
	}
	if done.EndTime == nil || !done.EndTime.Equal(t2) {
		t.Fatalf("end time = %v", done.EndTime)
	}
	if !done.StartTime.Equal(t1) {
		t.Fatal("start time must not move after it is set")
	}
}

func TestConcurrentStatusUpdateSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	r := pooledRide("r1", passengerLeg("p1"))
	r.Status = models.RideInProgress
	seedRide(t, m, r)

	const racers = 10
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.UpdateRideStatus(context.Background(), "r1",
				[]models.RideStatus{models.RideInProgress}, models.RideCompleted, time.Now())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestClaimBookingOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.InsertBooking(ctx, &models.Booking{ID: "b1", Status: models.BookingRequested}); err != nil {
		t.Fatal(err)
	}

	b, err := m.ClaimBooking(ctx, "b1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.BookingMatched || b.RideID != "r1" {
		t.Fatalf("claimed booking: %+v", b)
	}
	if _, err := m.ClaimBooking(ctx, "b1", "r2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second claim should conflict, got %v", err)
	}
}

func TestConcurrentClaimBookingSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	if err := m.InsertBooking(context.Background(), &models.Booking{ID: "b1", Status: models.BookingRequested}); err != nil {
		t.Fatal(err)
	}

	const racers = 10
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.ClaimBooking(context.Background(), "b1", "r1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one claim to succeed, got %d", wins)
	}
}

func TestReleaseBookingRestoresRequested(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.InsertBooking(ctx, &models.Booking{ID: "b1", Status: models.BookingRequested}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ClaimBooking(ctx, "b1", "r1"); err != nil {
		t.Fatal(err)
	}
	if err := m.ReleaseBooking(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	b, err := m.GetBooking(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.BookingRequested || b.RideID != "" {
		t.Fatalf("released booking: %+v", b)
	}
	if err := m.ReleaseBooking(ctx, "b1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("releasing an unclaimed booking should conflict, got %v", err)
	}
}

func TestSettleBookingsForRide(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, id := range []string{"b1", "b2"} {
		if err := m.InsertBooking(ctx, &models.Booking{ID: id, Status: models.BookingMatched, RideID: "r1"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.InsertBooking(ctx, &models.Booking{ID: "other", Status: models.BookingMatched, RideID: "r2"}); err != nil {
		t.Fatal(err)
	}

	if err := m.SettleBookingsForRide(ctx, "r1", models.BookingCompleted, models.PaymentPaid); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"b1", "b2"} {
		b, err := m.GetBooking(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if b.Status != models.BookingCompleted || b.PaymentStatus != models.PaymentPaid {
			t.Fatalf("booking %s not settled: %+v", id, b)
		}
	}
	other, err := m.GetBooking(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if other.Status != models.BookingMatched {
		t.Fatal("settlement leaked to another ride's booking")
	}
}

func TestSetDriverBusyCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.UpsertDriver(ctx, &models.Driver{ID: "d1", IsAvailable: true}); err != nil {
		t.Fatal(err)
	}

	if err := m.SetDriverBusy(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDriverBusy(ctx, "d1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("busy driver cannot be claimed again, got %v", err)
	}

	if err := m.FreeDriver(ctx, "d1", true); err != nil {
		t.Fatal(err)
	}
	d, err := m.GetDriver(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsAvailable || d.TotalTrips != 1 {
		t.Fatalf("freed driver: %+v", d)
	}
}

func TestOpenPooledRidesFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	seedRide(t, m, pooledRide("open", passengerLeg("p1")))

	solo := pooledRide("solo", passengerLeg("p2"))
	solo.IsPooled = false
	seedRide(t, m, solo)

	done := pooledRide("done", passengerLeg("p3"))
	done.Status = models.RideCompleted
	seedRide(t, m, done)

	seedRide(t, m, pooledRide("full",
		passengerLeg("a"), passengerLeg("b"), passengerLeg("c"), passengerLeg("d")))

	rides, err := m.OpenPooledRides(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rides) != 1 || rides[0].ID != "open" {
		t.Fatalf("expected only the open ride, got %+v", rides)
	}
}

func TestActiveRideForDriver(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	r := pooledRide("r1", passengerLeg("p1"))
	r.DriverID = "d1"
	r.Status = models.RideAccepted
	seedRide(t, m, r)

	got, err := m.ActiveRideForDriver(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "r1" {
		t.Fatalf("active ride = %s", got.ID)
	}
	if _, err := m.ActiveRideForDriver(ctx, "d2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
