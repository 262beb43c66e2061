package session

import (
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
)

type EventKind string

const (
	EventPhaseChanged   EventKind = "phase_changed"
	EventRideUpdated    EventKind = "ride_updated"
	EventDriverLocation EventKind = "driver_location"
	EventSettlement     EventKind = "settlement"
	EventRated          EventKind = "rated"
	EventExitHome       EventKind = "exit_home"
	EventHoldStarted    EventKind = "cancel_hold_started"
	EventHoldReleased   EventKind = "cancel_hold_released"
	EventAlert          EventKind = "alert"
)

// Event is pushed to the passenger's UI. Alerts carry a message with a single
// acknowledgement; State stays authoritative.
type Event struct {
	Kind     EventKind                    `json:"kind"`
	RideID   string                       `json:"ride_id,omitempty"`
	Phase    lifecycle.Phase              `json:"phase"`
	Ride     *models.RideRequest          `json:"ride,omitempty"`
	Location *models.DriverLocationSample `json:"location,omitempty"`
	Message  string                       `json:"message,omitempty"`
	// Retry is set on alerts whose action can be attempted again.
	Retry bool `json:"retry,omitempty"`
}

// State is the read model rendered by the passenger screens.
type State struct {
	Phase          lifecycle.Phase              `json:"phase"`
	Ride           *models.RideRequest          `json:"ride,omitempty"`
	DriverLocation *models.DriverLocationSample `json:"driver_location,omitempty"`

	// CanCall and CanSMS are false when no driver phone is known.
	CanCall bool `json:"can_call"`
	CanSMS  bool `json:"can_sms"`

	CanCancel            bool `json:"can_cancel"`
	CancelReasonRequired bool `json:"cancel_reason_required"`
	CancelHolding        bool `json:"cancel_holding"`

	AwaitingRating bool `json:"awaiting_rating"`
}
