// Package lifecycle holds the ride state machine: which status writes are
// legal, how a ride document maps to the phase shown to the passenger, and the
// reducer that folds out-of-order snapshots into a forward-only view.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/example/ride-lifecycle/internal/models"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var rank = map[models.Status]int{
	models.StatusWaiting:   0,
	models.StatusAssigned:  1,
	models.StatusActive:    2,
	models.StatusCompleted: 3,
	models.StatusDeclined:  3,
}

// CanTransition reports whether a document in status from may be written with
// status to. Forward skips are allowed since intermediate writes can be lost;
// terminal statuses never change. Rewriting the same non-terminal status is a
// field update, not a transition, and is allowed.
func CanTransition(from, to models.Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	switch to {
	case models.StatusDeclined:
		return true
	case models.StatusWaiting:
		return false
	}
	return rank[to] > rank[from]
}

// CheckTransition is CanTransition with an error describing the rejection.
func CheckTransition(from, to models.Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Phase is what the passenger sees.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseDriverFound
	PhasePickup
	PhaseToDestination
	PhaseCompleted
	PhaseDeclined
)

var phaseNames = map[Phase]string{
	PhaseIdle:          "idle",
	PhaseSearching:     "searching",
	PhaseDriverFound:   "driver_found",
	PhasePickup:        "pickup",
	PhaseToDestination: "to_destination",
	PhaseCompleted:     "completed",
	PhaseDeclined:      "declined",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p Phase) Terminal() bool { return p == PhaseCompleted || p == PhaseDeclined }

// PhaseOf derives the passenger phase from a snapshot. The driver group, not
// the status field, decides whether a driver has been found: the two may
// arrive in separate notifications.
func PhaseOf(r models.RideRequest) Phase {
	switch r.Status {
	case models.StatusCompleted:
		return PhaseCompleted
	case models.StatusDeclined:
		return PhaseDeclined
	}
	if !r.HasDriver() {
		return PhaseSearching
	}
	if r.Status == models.StatusActive {
		if r.CustomerPickedUp {
			return PhaseToDestination
		}
		return PhasePickup
	}
	return PhaseDriverFound
}
