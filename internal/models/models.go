package models

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 point with an optional display address.
// Immutable once attached to a passenger leg.
type Coordinate struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// ValidationError reports a malformed input field. It is returned before
// any side effect takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks lat/lng ranges. The field name prefixes error messages
// so callers can distinguish pickup from dropoff.
func (c Coordinate) Validate(field string) error {
	if c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("lat %.6f out of range [-90,90]", c.Lat)}
	}
	if c.Lng < -180 || c.Lng > 180 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("lng %.6f out of range [-180,180]", c.Lng)}
	}
	return nil
}

type LegStatus string

const (
	LegPending LegStatus = "pending"
	LegPicked  LegStatus = "picked"
	LegDropped LegStatus = "dropped"
)

// PassengerLeg is one rider's pickup-to-dropoff segment within a ride.
// Each leg is owned by exactly one ride and mirrored by exactly one booking.
type PassengerLeg struct {
	RiderID string     `json:"riderId"`
	Pickup  Coordinate `json:"pickupLocation"`
	Dropoff Coordinate `json:"dropoffLocation"`
	Status  LegStatus  `json:"status"`
	Fare    float64    `json:"fare"`
}

type RideStatus string

const (
	RideRequested  RideStatus = "requested"
	RideAccepted   RideStatus = "accepted"
	RideInProgress RideStatus = "in-progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

// MaxPoolPassengers caps how many legs a pooled ride may carry.
const MaxPoolPassengers = 4

type Ride struct {
	ID         string         `json:"id"`
	DriverID   string         `json:"driverId,omitempty"`
	Passengers []PassengerLeg `json:"passengers"`
	IsPooled   bool           `json:"isPooled"`
	Status     RideStatus     `json:"status"`
	Route      []Waypoint     `json:"route,omitempty"`
	TotalFare  float64        `json:"totalFare"`
	StartTime  *time.Time     `json:"startTime,omitempty"`
	EndTime    *time.Time     `json:"endTime,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// HasRider reports whether the rider already holds a leg on this ride.
func (r *Ride) HasRider(riderID string) bool {
	for _, p := range r.Passengers {
		if p.RiderID == riderID {
			return true
		}
	}
	return false
}

// RiderIDs returns the ride's passengers in leg order.
func (r *Ride) RiderIDs() []string {
	out := make([]string, 0, len(r.Passengers))
	for _, p := range r.Passengers {
		out = append(out, p.RiderID)
	}
	return out
}

type WaypointKind string

const (
	WaypointPickup  WaypointKind = "pickup"
	WaypointDropoff WaypointKind = "dropoff"
)

// Waypoint is one stop on a ride's route. Index is the position of the
// passenger whose pickup/dropoff this is.
type Waypoint struct {
	Kind     WaypointKind `json:"type"`
	Index    int          `json:"index"`
	Location Coordinate   `json:"location"`
}

type BookingStatus string

const (
	BookingRequested  BookingStatus = "requested"
	BookingMatched    BookingStatus = "matched"
	BookingInProgress BookingStatus = "in-progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Booking is the rider-facing mirror of one passenger leg. RideID is
// empty until the booking is consumed by an accept or a pool join, then
// fixed for the booking's lifetime.
type Booking struct {
	ID            string        `json:"id"`
	RiderID       string        `json:"riderId"`
	RideID        string        `json:"rideId,omitempty"`
	Pickup        Coordinate    `json:"pickupLocation"`
	Dropoff       Coordinate    `json:"dropoffLocation"`
	WantPooling   bool          `json:"wantPooling"`
	Status        BookingStatus `json:"status"`
	Fare          float64       `json:"fare"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Driver is a driver record. IsAvailable is false whenever the driver
// holds a ride in accepted or in-progress.
type Driver struct {
	ID              string      `json:"id"`
	RiderAccountID  string      `json:"userId"`
	VehicleType     string      `json:"vehicleType"`
	VehicleNumber   string      `json:"vehicleNumber"`
	CurrentLocation *Coordinate `json:"currentLocation,omitempty"`
	IsAvailable     bool        `json:"isAvailable"`
	Rating          float64     `json:"rating"`
	TotalTrips      int         `json:"totalTrips"`
	Updated         time.Time   `json:"updated"`
}
