package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ridepool/internal/models"
)

// MemoryStore keeps everything in maps under one mutex. Every guarded
// mutation checks its predicate and applies its effect inside the same
// critical section, giving the same commit-time semantics as the
// Postgres store's conditional writes.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	bookings map[string]*models.Booking
	drivers  map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		bookings: make(map[string]*models.Booking),
		drivers:  make(map[string]*models.Driver),
	}
}

func (m *MemoryStore) InsertRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.Passengers = append([]models.PassengerLeg(nil), r.Passengers...)
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRide(r), nil
}

func (m *MemoryStore) OpenPooledRides(ctx context.Context) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if !r.IsPooled || r.Status.Terminal() || len(r.Passengers) >= models.MaxPoolPassengers {
			continue
		}
		out = append(out, *copyRide(r))
	}
	return out, nil
}

func (m *MemoryStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && (r.Status == models.RideAccepted || r.Status == models.RideInProgress) {
			return copyRide(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateRideStatus(ctx context.Context, id string, from []models.RideStatus, to models.RideStatus, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrConflict
	}
	r.Status = to
	if to == models.RideInProgress && r.StartTime == nil {
		t := at
		r.StartTime = &t
	}
	if to == models.RideCompleted && r.EndTime == nil {
		t := at
		r.EndTime = &t
	}
	r.UpdatedAt = at
	return copyRide(r), nil
}

func (m *MemoryStore) AppendPassenger(ctx context.Context, rideID string, leg models.PassengerLeg) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	// guard order matches the join contract: pooled/status first, then
	// capacity, then duplicate rider
	if !r.IsPooled || (r.Status != models.RideRequested && r.Status != models.RideAccepted) {
		return nil, ErrConflict
	}
	if len(r.Passengers) >= models.MaxPoolPassengers {
		return nil, ErrCapacityExceeded
	}
	if r.HasRider(leg.RiderID) {
		return nil, ErrDuplicateRider
	}
	r.Passengers = append(r.Passengers, leg)
	r.TotalFare += leg.Fare
	r.UpdatedAt = time.Now()
	return copyRide(r), nil
}

func (m *MemoryStore) SetRoute(ctx context.Context, rideID string, waypoints []models.Waypoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	r.Route = append([]models.Waypoint(nil), waypoints...)
	return nil
}

func (m *MemoryStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ClaimBooking(ctx context.Context, id, rideID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != models.BookingRequested {
		return nil, ErrConflict
	}
	b.Status = models.BookingMatched
	b.RideID = rideID
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ReleaseBooking(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status != models.BookingMatched {
		return ErrConflict
	}
	b.Status = models.BookingRequested
	b.RideID = ""
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SettleBookingsForRide(ctx context.Context, rideID string, status models.BookingStatus, pay models.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.RideID != rideID {
			continue
		}
		b.Status = status
		b.PaymentStatus = pay
		b.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	if d.CurrentLocation != nil {
		loc := *d.CurrentLocation
		cp.CurrentLocation = &loc
	}
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	if d.CurrentLocation != nil {
		loc := *d.CurrentLocation
		cp.CurrentLocation = &loc
	}
	return &cp, nil
}

func (m *MemoryStore) SetDriverBusy(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	if !d.IsAvailable {
		return ErrConflict
	}
	d.IsAvailable = false
	d.Updated = time.Now()
	return nil
}

func (m *MemoryStore) FreeDriver(ctx context.Context, id string, incTrips bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.IsAvailable = true
	if incTrips {
		d.TotalTrips++
	}
	d.Updated = time.Now()
	return nil
}

func (m *MemoryStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	l := loc
	d.CurrentLocation = &l
	d.Updated = time.Now()
	return nil
}

func copyRide(r *models.Ride) *models.Ride {
	cp := *r
	cp.Passengers = append([]models.PassengerLeg(nil), r.Passengers...)
	cp.Route = append([]models.Waypoint(nil), r.Route...)
	if r.StartTime != nil {
		t := *r.StartTime
		cp.StartTime = &t
	}
	if r.EndTime != nil {
		t := *r.EndTime
		cp.EndTime = &t
	}
	return &cp
}
