package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ridepool/internal/models"
)

var (
	// ErrNotFound means the ride/booking/driver id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a conditional write's predicate did not hold at
	// commit time. The write is an atomic no-op; callers decide whether
	// to retry.
	ErrConflict = errors.New("conflict")

	// ErrCapacityExceeded is the conflict raised when a pool join would
	// produce a fifth passenger. errors.Is(err, ErrConflict) also holds.
	ErrCapacityExceeded = fmt.Errorf("pool at capacity: %w", ErrConflict)

	// ErrDuplicateRider is the conflict raised when a rider already
	// holds a leg on the ride they are joining.
	ErrDuplicateRider = fmt.Errorf("rider already on ride: %w", ErrConflict)
)

// RideStore persists rides. Each ride's passengers are colocated within
// the ride's own record so every guard below commits as one atomic
// single-document write; no multi-document transactions are assumed.
type RideStore interface {
	InsertRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// OpenPooledRides returns rides that could still take a passenger:
	// pooled, status in {requested, accepted, in-progress}, under
	// capacity.
	OpenPooledRides(ctx context.Context) ([]models.Ride, error)

	// ActiveRideForDriver returns the driver's accepted or in-progress
	// ride, or ErrNotFound.
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error)

	// UpdateRideStatus transitions the ride to `to` iff its current
	// status is in `from`. StartTime is set on the first transition into
	// in-progress, EndTime on the transition into completed. Returns the
	// updated ride, or ErrConflict when the predicate fails.
	UpdateRideStatus(ctx context.Context, id string, from []models.RideStatus, to models.RideStatus, at time.Time) (*models.Ride, error)

	// AppendPassenger appends a leg and adds its fare to totalFare as a
	// single atomic mutation, iff the ride is pooled, its status is
	// requested or accepted, it is under capacity, and the rider is not
	// already aboard. Failures classify as ErrCapacityExceeded,
	// ErrDuplicateRider, or ErrConflict.
	AppendPassenger(ctx context.Context, rideID string, leg models.PassengerLeg) (*models.Ride, error)

	// SetRoute stores the re-sequenced waypoint list.
	SetRoute(ctx context.Context, rideID string, waypoints []models.Waypoint) error
}

// BookingStore persists bookings.
type BookingStore interface {
	InsertBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)

	// ClaimBooking is the accept race's linearization point: it moves
	// the booking from requested to matched and binds rideID iff the
	// booking is still requested. Exactly one concurrent claimant wins;
	// the rest get ErrConflict.
	ClaimBooking(ctx context.Context, id, rideID string) (*models.Booking, error)

	// ReleaseBooking compensates a failed accept: matched back to
	// requested, rideID cleared.
	ReleaseBooking(ctx context.Context, id string) error

	// SettleBookingsForRide applies a terminal status (and payment state)
	// to every booking bound to the ride. Absolute writes, safe to
	// reapply.
	SettleBookingsForRide(ctx context.Context, rideID string, status models.BookingStatus, pay models.PaymentStatus) error
}

// DriverStore persists driver records.
type DriverStore interface {
	UpsertDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)

	// SetDriverBusy flips isAvailable to false iff currently true.
	SetDriverBusy(ctx context.Context, id string) error

	// FreeDriver restores availability; incTrips additionally increments
	// totalTrips (ride completion).
	FreeDriver(ctx context.Context, id string, incTrips bool) error

	UpdateDriverLocation(ctx context.Context, id string, loc models.Coordinate) error
}

// Store is the full persistence collaborator required by the lifecycle.
type Store interface {
	RideStore
	BookingStore
	DriverStore
}
