package notify

import "context"

// Event names match the wire protocol clients already listen on.
type Event string

const (
	EventNewRideRequest    Event = "new_ride_request"
	EventRideAccepted      Event = "ride_accepted"
	EventRideStarted       Event = "ride_started"
	EventRideCompleted     Event = "ride_completed"
	EventPoolMatchFound    Event = "pool_match_found"
	EventDriverLocation    Event = "driver_location"
	EventRideStatusChanged Event = "ride_status_changed"
)

type ParticipantKind string

const (
	KindRider  ParticipantKind = "rider"
	KindDriver ParticipantKind = "driver"
)

// Participant identifies one event recipient.
type Participant struct {
	Kind ParticipantKind `json:"kind"`
	ID   string          `json:"id"`
}

func Rider(id string) Participant  { return Participant{Kind: KindRider, ID: id} }
func Driver(id string) Participant { return Participant{Kind: KindDriver, ID: id} }

// Audience is the set of participants an event targets.
type Audience []Participant

// RideAudience is everyone on a ride: the bound driver (if any) plus all
// passengers.
func RideAudience(driverID string, riderIDs []string) Audience {
	a := make(Audience, 0, len(riderIDs)+1)
	if driverID != "" {
		a = append(a, Driver(driverID))
	}
	for _, id := range riderIDs {
		a = append(a, Rider(id))
	}
	return a
}

// Notifier emits events; delivery transport is the implementation's
// concern. Emitting is best-effort and never blocks a state transition.
type Notifier interface {
	Emit(ctx context.Context, event Event, audience Audience, payload any) error
}

// Fanout emits to every child notifier, returning the first error after
// all have been tried.
type Fanout []Notifier

func (f Fanout) Emit(ctx context.Context, event Event, audience Audience, payload any) error {
	var first error
	for _, n := range f {
		if err := n.Emit(ctx, event, audience, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(context.Context, Event, Audience, any) error { return nil }
