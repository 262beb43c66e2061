package models

import (
	"errors"
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat" firestore:"lat"`
	Lon float64 `json:"lon" firestore:"lon"`
}

// Place is a coordinate with the address string shown to the passenger.
type Place struct {
	Coord   Coord  `json:"coord" firestore:"coord"`
	Address string `json:"address" firestore:"address"`
}

// RideClass is the service tier picked by the passenger.
type RideClass string

const (
	ClassPrivate RideClass = "private"
	ClassMoto    RideClass = "moto"
)

func (c RideClass) Valid() bool {
	switch c {
	case ClassPrivate, ClassMoto:
		return true
	}
	return false
}

// Status is the lifecycle state of a ride request document.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusAssigned  Status = "assigned"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDeclined  Status = "declined"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusAssigned, StatusActive, StatusCompleted, StatusDeclined:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusDeclined }

// Party identifies who cancelled a ride.
type Party string

const (
	PartyPassenger Party = "passenger"
	PartyDriver    Party = "driver"
	PartySystem    Party = "system"
)

// CancelReason is one of the fixed reasons offered after a driver is assigned.
type CancelReason string

const (
	ReasonDriverLate      CancelReason = "driver_late"
	ReasonDriverNotMoving CancelReason = "driver_not_moving"
	ReasonWrongPickup     CancelReason = "wrong_pickup"
	ReasonChangedMind     CancelReason = "changed_mind"
	ReasonFoundOtherRide  CancelReason = "found_other_ride"
	ReasonDriverAsked     CancelReason = "driver_asked"
	ReasonOther           CancelReason = "other"
)

// CancelReasons lists reasons in display order.
var CancelReasons = []CancelReason{
	ReasonDriverLate,
	ReasonDriverNotMoving,
	ReasonWrongPickup,
	ReasonChangedMind,
	ReasonFoundOtherRide,
	ReasonDriverAsked,
	ReasonOther,
}

func (r CancelReason) Valid() bool {
	for _, v := range CancelReasons {
		if r == v {
			return true
		}
	}
	return false
}

// DriverInfo is the driver-assignment field group. It is written as a unit.
type DriverInfo struct {
	ID       string `json:"id" firestore:"id"`
	Name     string `json:"name" firestore:"name"`
	Phone    string `json:"phone" firestore:"phone"`
	PhotoURL string `json:"photo_url" firestore:"photoUrl"`
}

// RideRequest is the shared lifecycle document of one trip attempt.
type RideRequest struct {
	ID             string `json:"id" firestore:"id"`
	PassengerID    string `json:"passenger_id" firestore:"passengerId"`
	PassengerName  string `json:"passenger_name" firestore:"passengerName"`
	PassengerPhone string `json:"passenger_phone" firestore:"passengerPhone"`
	PassengerPhoto string `json:"passenger_photo" firestore:"passengerPhoto"`

	Pickup      Place `json:"pickup" firestore:"pickup"`
	Destination Place `json:"destination" firestore:"destination"`

	Class           RideClass `json:"class" firestore:"class"`
	Fare            int64     `json:"fare" firestore:"fare"`
	DistanceKm      float64   `json:"distance_km" firestore:"distanceKm"`
	DurationMin     float64   `json:"duration_min" firestore:"durationMin"`
	Polyline        string    `json:"polyline,omitempty" firestore:"polyline"`
	PaymentMethodID string    `json:"payment_method_id" firestore:"paymentMethodId"`

	Status       Status       `json:"status" firestore:"status"`
	CreatedAt    time.Time    `json:"created_at" firestore:"createdAt"`
	AssignedAt   *time.Time   `json:"assigned_at,omitempty" firestore:"assignedAt"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty" firestore:"cancelledAt"`
	CancelReason CancelReason `json:"cancel_reason,omitempty" firestore:"cancelReason"`
	CancelledBy  Party        `json:"cancelled_by,omitempty" firestore:"cancelledBy"`

	Driver           *DriverInfo `json:"driver,omitempty" firestore:"driver"`
	CustomerPickedUp bool        `json:"customer_picked_up" firestore:"customerPickedUp"`

	Version int64 `json:"version" firestore:"version"`
}

var (
	ErrMissingID          = errors.New("ride id is required")
	ErrMissingPassenger   = errors.New("passenger id is required")
	ErrPartialDriverGroup = errors.New("driver fields must be all set or all empty")
)

// Validate checks the structural invariants of a ride document.
func (r *RideRequest) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.PassengerID == "" {
		return ErrMissingPassenger
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if !r.Class.Valid() {
		return fmt.Errorf("unknown ride class %q", r.Class)
	}
	if r.Driver != nil && r.Driver.ID == "" {
		return ErrPartialDriverGroup
	}
	return nil
}

// HasDriver reports whether the driver group has been populated.
func (r *RideRequest) HasDriver() bool { return r.Driver != nil && r.Driver.ID != "" }

// Clone returns a deep copy so snapshots handed to subscribers are never shared.
func (r RideRequest) Clone() RideRequest {
	out := r
	if r.Driver != nil {
		d := *r.Driver
		out.Driver = &d
	}
	if r.AssignedAt != nil {
		t := *r.AssignedAt
		out.AssignedAt = &t
	}
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		out.CancelledAt = &t
	}
	return out
}

// DriverOffer is the driver-facing duplicate written when a ride is requested.
type DriverOffer struct {
	RideID      string    `json:"ride_id" firestore:"rideId"`
	Pickup      Place     `json:"pickup" firestore:"pickup"`
	Destination Place     `json:"destination" firestore:"destination"`
	Class       RideClass `json:"class" firestore:"class"`
	Fare        int64     `json:"fare" firestore:"fare"`
	DistanceKm  float64   `json:"distance_km" firestore:"distanceKm"`
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
}

// DriverLocationSample is the latest position reported by a driver's own client.
type DriverLocationSample struct {
	DriverID  string    `json:"driver_id"`
	Loc       Coord     `json:"loc"`
	Heading   float64   `json:"heading,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Driver is a candidate known to the location index.
type Driver struct {
	ID      string    `json:"id"`
	Name    string    `json:"name,omitempty"`
	Phone   string    `json:"phone,omitempty"`
	Photo   string    `json:"photo_url,omitempty"`
	Loc     Coord     `json:"loc"`
	Rating  float64   `json:"rating"` // 0..5
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}

func (d Driver) Info() DriverInfo {
	return DriverInfo{ID: d.ID, Name: d.Name, Phone: d.Phone, PhotoURL: d.Photo}
}

// Rating is written at most once per completed ride and passenger.
type Rating struct {
	RideID      string    `json:"ride_id"`
	PassengerID string    `json:"passenger_id"`
	DriverID    string    `json:"driver_id"`
	Stars       int       `json:"stars"`
	Comments    []string  `json:"comments,omitempty"`
	Other       string    `json:"other,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DriverAggregate is the running rating of a driver kept as a counter pair.
type DriverAggregate struct {
	DriverID string `json:"driver_id"`
	Sum      int64  `json:"sum"`
	Count    int64  `json:"count"`
}

func (a DriverAggregate) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.Sum) / float64(a.Count)
}

type PaymentMethod struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"` // cash, card
	Label string `json:"label"`
}

// CashMethod is always offered regardless of the registry backend.
var CashMethod = PaymentMethod{ID: "cash", Kind: "cash", Label: "Cash"}

// StatusChange is emitted after a status write lands in the store.
type StatusChange struct {
	RideID      string    `json:"ride_id"`
	PassengerID string    `json:"passenger_id"`
	DriverID    string    `json:"driver_id,omitempty"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	At          time.Time `json:"at"`
}
