package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridepool/internal/geo"
	"github.com/example/ridepool/internal/models"
	"github.com/example/ridepool/internal/notify"
	"github.com/example/ridepool/internal/observability"
	"github.com/example/ridepool/internal/payments"
	"github.com/example/ridepool/internal/pricing"
	"github.com/example/ridepool/internal/route"
	"github.com/example/ridepool/internal/storage"
)

// Service drives rides, their bookings, and their drivers through the
// lifecycle. Every guarded transition commits through the store's
// conditional writes; a failed guard is a terminal outcome for the call,
// never retried here.
type Service struct {
	Store     storage.Store
	Pricing   *pricing.Calculator
	Sequencer route.Strategy
	Notifier  notify.Notifier
	Payments  payments.Processor // optional
	Locator   geo.Locator        // optional, for new-request fan-out
	Logger    *slog.Logger

	// NotifyRadiusKm bounds which drivers hear about a new request.
	NotifyRadiusKm float64
	NotifyLimit    int

	// holds maps booking id -> payment hold id for capture/cancel.
	holds sync.Map
}

func NewService(store storage.Store, calc *pricing.Calculator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:          store,
		Pricing:        calc,
		Sequencer:      route.NearestNeighbor{},
		Notifier:       notify.Nop{},
		Logger:         logger,
		NotifyRadiusKm: 10,
		NotifyLimit:    10,
	}
}

// transitions maps an explicit status target to the set of statuses it
// may be entered from.
var transitions = map[models.RideStatus][]models.RideStatus{
	models.RideInProgress: {models.RideAccepted},
	models.RideCompleted:  {models.RideInProgress},
	models.RideCancelled:  {models.RideRequested, models.RideAccepted, models.RideInProgress},
}

type RequestCommand struct {
	RiderID     string
	Pickup      models.Coordinate
	Dropoff     models.Coordinate
	WantPooling bool
}

// RequestRide creates a booking with an up-front fare quote and fans the
// request out to nearby available drivers. No ride exists yet.
func (s *Service) RequestRide(ctx context.Context, cmd RequestCommand) (*models.Booking, pricing.Quote, error) {
	if cmd.RiderID == "" {
		return nil, pricing.Quote{}, &models.ValidationError{Field: "riderId", Reason: "required"}
	}
	if err := cmd.Pickup.Validate("pickup"); err != nil {
		return nil, pricing.Quote{}, err
	}
	if err := cmd.Dropoff.Validate("dropoff"); err != nil {
		return nil, pricing.Quote{}, err
	}

	quote := s.Pricing.Trip(cmd.Pickup, cmd.Dropoff, cmd.WantPooling)
	now := time.Now()
	b := &models.Booking{
		ID:            uuid.NewString(),
		RiderID:       cmd.RiderID,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		WantPooling:   cmd.WantPooling,
		Status:        models.BookingRequested,
		Fare:          quote.TotalFare,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.InsertBooking(ctx, b); err != nil {
		return nil, pricing.Quote{}, err
	}

	if s.Locator != nil {
		payload := map[string]any{"bookingId": b.ID, "pickup": b.Pickup, "dropoff": b.Dropoff, "wantPooling": b.WantPooling, "fare": b.Fare}
		for _, rd := range s.Locator.Nearby(cmd.Pickup, s.NotifyRadiusKm, s.NotifyLimit) {
			s.emit(ctx, notify.EventNewRideRequest, notify.Audience{notify.Driver(rd.Driver.ID)}, payload)
		}
	}
	return b, quote, nil
}

type AcceptCommand struct {
	BookingID string
	DriverID  string
}

// AcceptBooking wraps a requested booking into a brand-new ride bound to
// the driver. The booking claim is the linearization point: of two
// drivers racing on the same booking, exactly one claim succeeds and the
// loser observes a conflict with no partial effect. The driver-busy flip
// happens first because it is cheap to revert; the ride insert comes
// last because nothing references the ride until this returns.
func (s *Service) AcceptBooking(ctx context.Context, cmd AcceptCommand) (*models.Ride, error) {
	if _, err := s.Store.GetDriver(ctx, cmd.DriverID); err != nil {
		return nil, err
	}

	if err := s.Store.SetDriverBusy(ctx, cmd.DriverID); err != nil {
		if isConflict(err) {
			observability.ConflictsTotal.WithLabelValues("accept").Inc()
		}
		return nil, err
	}

	rideID := uuid.NewString()
	b, err := s.Store.ClaimBooking(ctx, cmd.BookingID, rideID)
	if err != nil {
		if ferr := s.Store.FreeDriver(ctx, cmd.DriverID, false); ferr != nil {
			s.Logger.Error("accept compensation: free driver", "driver", cmd.DriverID, "error", ferr)
		}
		if isConflict(err) {
			observability.ConflictsTotal.WithLabelValues("accept").Inc()
		}
		return nil, err
	}

	now := time.Now()
	ride := &models.Ride{
		ID:       rideID,
		DriverID: cmd.DriverID,
		Passengers: []models.PassengerLeg{{
			RiderID: b.RiderID,
			Pickup:  b.Pickup,
			Dropoff: b.Dropoff,
			Status:  models.LegPending,
			Fare:    b.Fare,
		}},
		IsPooled:  b.WantPooling,
		Status:    models.RideAccepted,
		TotalFare: b.Fare,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.InsertRide(ctx, ride); err != nil {
		if rerr := s.Store.ReleaseBooking(ctx, cmd.BookingID); rerr != nil {
			s.Logger.Error("accept compensation: release booking", "booking", cmd.BookingID, "error", rerr)
		}
		if ferr := s.Store.FreeDriver(ctx, cmd.DriverID, false); ferr != nil {
			s.Logger.Error("accept compensation: free driver", "driver", cmd.DriverID, "error", ferr)
		}
		return nil, err
	}

	s.holdFare(ctx, b.ID, b.Fare)
	observability.AcceptsTotal.Inc()
	s.emit(ctx, notify.EventRideAccepted, notify.Audience{notify.Rider(b.RiderID)},
		map[string]any{"rideId": ride.ID, "driverId": cmd.DriverID, "fare": b.Fare})
	return ride, nil
}

type JoinCommand struct {
	RideID  string
	RiderID string
	Pickup  models.Coordinate
	Dropoff models.Coordinate
}

// JoinPool merges a new passenger into an existing pooled ride. The
// append-and-increment is one atomic document mutation: the capacity,
// status, and duplicate-rider guards are re-checked at commit time, so a
// racing join can never seat a fifth passenger. After a successful join
// the ride's waypoints are re-sequenced.
func (s *Service) JoinPool(ctx context.Context, cmd JoinCommand) (*models.Ride, *models.Booking, error) {
	if cmd.RiderID == "" {
		return nil, nil, &models.ValidationError{Field: "riderId", Reason: "required"}
	}
	if err := cmd.Pickup.Validate("pickup"); err != nil {
		return nil, nil, err
	}
	if err := cmd.Dropoff.Validate("dropoff"); err != nil {
		return nil, nil, err
	}

	quote := s.Pricing.Trip(cmd.Pickup, cmd.Dropoff, true)
	leg := models.PassengerLeg{
		RiderID: cmd.RiderID,
		Pickup:  cmd.Pickup,
		Dropoff: cmd.Dropoff,
		Status:  models.LegPending,
		Fare:    quote.TotalFare,
	}
	ride, err := s.Store.AppendPassenger(ctx, cmd.RideID, leg)
	if err != nil {
		if isConflict(err) {
			observability.ConflictsTotal.WithLabelValues("join").Inc()
		}
		return nil, nil, err
	}

	now := time.Now()
	b := &models.Booking{
		ID:            uuid.NewString(),
		RiderID:       cmd.RiderID,
		RideID:        ride.ID,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		WantPooling:   true,
		Status:        models.BookingMatched,
		Fare:          quote.TotalFare,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.InsertBooking(ctx, b); err != nil {
		// The leg is committed; the booking mirror is reconciled by the
		// recovery pass rather than unwinding a served passenger.
		s.Logger.Error("pool join: booking insert failed after append", "ride", ride.ID, "rider", cmd.RiderID, "error", err)
		return nil, nil, err
	}

	s.resequence(ctx, ride)
	s.holdFare(ctx, b.ID, b.Fare)
	observability.PoolJoinsTotal.Inc()
	s.emit(ctx, notify.EventPoolMatchFound, notify.Audience{notify.Rider(cmd.RiderID)},
		map[string]any{"rideId": ride.ID, "fare": b.Fare, "passengers": len(ride.Passengers)})
	s.emit(ctx, notify.EventRideStatusChanged, notify.RideAudience(ride.DriverID, ride.RiderIDs()),
		map[string]any{"rideId": ride.ID, "status": ride.Status, "passengers": len(ride.Passengers), "totalFare": ride.TotalFare})
	return ride, b, nil
}

type StatusCommand struct {
	RideID   string
	DriverID string
	Target   models.RideStatus
}

// UpdateStatus applies an explicit status target on behalf of the ride's
// own driver. Only in-progress, completed, and cancelled are accepted.
func (s *Service) UpdateStatus(ctx context.Context, cmd StatusCommand) (*models.Ride, error) {
	from, ok := transitions[cmd.Target]
	if !ok {
		return nil, fmt.Errorf("status %q is not a valid target: %w", cmd.Target, storage.ErrConflict)
	}
	ride, err := s.Store.GetRide(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != cmd.DriverID {
		return nil, fmt.Errorf("ride %s is not bound to driver %s: %w", cmd.RideID, cmd.DriverID, storage.ErrConflict)
	}
	return s.transition(ctx, cmd.RideID, from, cmd.Target)
}

// CancelRide is the system-initiated cancellation; it skips the
// driver-ownership check but honors every other guard.
func (s *Service) CancelRide(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, transitions[models.RideCancelled], models.RideCancelled)
}

func (s *Service) transition(ctx context.Context, rideID string, from []models.RideStatus, to models.RideStatus) (*models.Ride, error) {
	ride, err := s.Store.UpdateRideStatus(ctx, rideID, from, to, time.Now())
	if err != nil {
		if isConflict(err) {
			observability.ConflictsTotal.WithLabelValues("status").Inc()
		}
		return nil, err
	}

	audience := notify.RideAudience(ride.DriverID, ride.RiderIDs())
	switch to {
	case models.RideInProgress:
		s.emit(ctx, notify.EventRideStarted, riders(ride), map[string]any{"rideId": ride.ID, "startTime": ride.StartTime})

	case models.RideCompleted:
		if err := s.Store.SettleBookingsForRide(ctx, ride.ID, models.BookingCompleted, models.PaymentPaid); err != nil {
			s.Logger.Error("complete: settle bookings", "ride", ride.ID, "error", err)
		}
		if ride.DriverID != "" {
			if err := s.Store.FreeDriver(ctx, ride.DriverID, true); err != nil {
				s.Logger.Error("complete: free driver", "ride", ride.ID, "driver", ride.DriverID, "error", err)
			}
		}
		s.settleHolds(ctx, ride, true)
		observability.RidesCompleted.Inc()
		s.emit(ctx, notify.EventRideCompleted, riders(ride), map[string]any{"rideId": ride.ID, "totalFare": ride.TotalFare, "endTime": ride.EndTime})

	case models.RideCancelled:
		if err := s.Store.SettleBookingsForRide(ctx, ride.ID, models.BookingCancelled, models.PaymentPending); err != nil {
			s.Logger.Error("cancel: settle bookings", "ride", ride.ID, "error", err)
		}
		if ride.DriverID != "" {
			if err := s.Store.FreeDriver(ctx, ride.DriverID, false); err != nil {
				s.Logger.Error("cancel: free driver", "ride", ride.ID, "driver", ride.DriverID, "error", err)
			}
		}
		s.settleHolds(ctx, ride, false)
	}

	s.emit(ctx, notify.EventRideStatusChanged, audience, map[string]any{"rideId": ride.ID, "status": ride.Status})
	return ride, nil
}

// UpdateDriverLocation records a driver position and streams it to the
// participants of the driver's active ride, if any.
func (s *Service) UpdateDriverLocation(ctx context.Context, driverID string, loc models.Coordinate) error {
	if err := loc.Validate("location"); err != nil {
		return err
	}
	if err := s.Store.UpdateDriverLocation(ctx, driverID, loc); err != nil {
		return err
	}
	if s.Locator != nil {
		if d, err := s.Store.GetDriver(ctx, driverID); err == nil {
			s.Locator.Upsert(*d)
		}
	}
	ride, err := s.Store.ActiveRideForDriver(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil // no active ride, nothing to fan out
	}
	if err != nil {
		return err
	}
	s.emit(ctx, notify.EventDriverLocation, notify.RideAudience("", ride.RiderIDs()),
		map[string]any{"rideId": ride.ID, "driverId": driverID, "location": loc})
	return nil
}

// resequence rebuilds the ride's waypoint order after a passenger set
// change. Best-effort: the route is advisory, the passenger set is the
// record.
func (s *Service) resequence(ctx context.Context, ride *models.Ride) {
	pickups := make([]models.Coordinate, len(ride.Passengers))
	dropoffs := make([]models.Coordinate, len(ride.Passengers))
	for i, p := range ride.Passengers {
		pickups[i] = p.Pickup
		dropoffs[i] = p.Dropoff
	}
	wps := s.Sequencer.Sequence(pickups, dropoffs)
	ride.Route = wps
	if err := s.Store.SetRoute(ctx, ride.ID, wps); err != nil {
		s.Logger.Error("resequence: set route", "ride", ride.ID, "error", err)
	}
}

func (s *Service) holdFare(ctx context.Context, bookingID string, fare float64) {
	if s.Payments == nil {
		return
	}
	holdID, err := s.Payments.Hold(ctx, bookingID, fare)
	if err != nil {
		s.Logger.Warn("payment hold failed", "booking", bookingID, "error", err)
		return
	}
	s.holds.Store(bookingID, holdID)
}

func (s *Service) settleHolds(ctx context.Context, ride *models.Ride, capture bool) {
	if s.Payments == nil {
		return
	}
	s.holds.Range(func(k, v any) bool {
		bookingID, holdID := k.(string), v.(string)
		b, err := s.Store.GetBooking(ctx, bookingID)
		if err != nil || b.RideID != ride.ID {
			return true
		}
		if capture {
			err = s.Payments.Capture(ctx, holdID)
		} else {
			err = s.Payments.Cancel(ctx, holdID)
		}
		if err != nil {
			s.Logger.Warn("payment settle failed", "booking", bookingID, "capture", capture, "error", err)
			return true
		}
		s.holds.Delete(bookingID)
		return true
	})
}

func (s *Service) emit(ctx context.Context, ev notify.Event, audience notify.Audience, payload any) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Emit(ctx, ev, audience, payload); err != nil {
		s.Logger.Warn("emit failed", "event", string(ev), "error", err)
	}
}

func riders(r *models.Ride) notify.Audience {
	return notify.RideAudience("", r.RiderIDs())
}

func isConflict(err error) bool {
	return errors.Is(err, storage.ErrConflict)
}
