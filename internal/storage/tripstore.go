package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/stream"
)

var (
	ErrNotFound = errors.New("ride not found")
	ErrExists   = errors.New("ride already exists")
	ErrTerminal = errors.New("ride is in a terminal status")
	ErrConflict = errors.New("concurrent write conflict")
)

// RideStore is the shared, multi-writer ride document store. Subscriptions
// push the whole document after every write; they give no ordering guarantee
// beyond eventually delivering the latest state.
type RideStore interface {
	Create(ctx context.Context, r models.RideRequest) error
	Get(ctx context.Context, id string) (models.RideRequest, error)
	Update(ctx context.Context, id string, m Mutation) (models.RideRequest, error)
	Subscribe(ctx context.Context, id string) (*stream.Subscription[models.RideRequest], error)

	// ActiveForPassenger returns the newest non-terminal ride of a passenger.
	ActiveForPassenger(ctx context.Context, passengerID string) (models.RideRequest, error)
	// WatchPassenger streams the passenger's non-terminal rides, newest first.
	WatchPassenger(ctx context.Context, passengerID string) (*stream.Subscription[[]models.RideRequest], error)

	// PutOffer writes the driver-facing duplicate of a request. It is not
	// coupled to the ride document: either write can fail alone.
	PutOffer(ctx context.Context, o models.DriverOffer) error
	// ListWaiting returns waiting rides, oldest first.
	ListWaiting(ctx context.Context, limit int) ([]models.RideRequest, error)
}

// Mutation is a typed field-group update. Nil fields are left untouched.
type Mutation struct {
	Status           *models.Status
	Driver           *models.DriverInfo
	AssignedAt       *time.Time
	CustomerPickedUp *bool
	CancelledAt      *time.Time
	CancelReason     models.CancelReason
	CancelledBy      models.Party
}

// Assign is the matching actor's write: driver group and status together.
func Assign(d models.DriverInfo, at time.Time) Mutation {
	s := models.StatusAssigned
	return Mutation{Status: &s, Driver: &d, AssignedAt: &at}
}

func SetStatus(s models.Status) Mutation { return Mutation{Status: &s} }

func PickedUp() Mutation {
	v := true
	return Mutation{CustomerPickedUp: &v}
}

func Cancel(by models.Party, reason models.CancelReason, at time.Time) Mutation {
	s := models.StatusDeclined
	return Mutation{Status: &s, CancelledAt: &at, CancelledBy: by, CancelReason: reason}
}

// ApplyTo validates m against the current document and writes it into r,
// bumping the version.
func (m Mutation) ApplyTo(r *models.RideRequest) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, r.Status)
	}
	if m.Status != nil {
		if err := lifecycle.CheckTransition(r.Status, *m.Status); err != nil {
			return err
		}
	}
	if m.Driver != nil && m.Driver.ID == "" {
		return models.ErrPartialDriverGroup
	}
	if m.CancelReason != "" && !m.CancelReason.Valid() {
		return fmt.Errorf("unknown cancel reason %q", m.CancelReason)
	}

	if m.Status != nil {
		r.Status = *m.Status
	}
	if m.Driver != nil {
		d := *m.Driver
		r.Driver = &d
	}
	if m.AssignedAt != nil {
		t := *m.AssignedAt
		r.AssignedAt = &t
	}
	if m.CustomerPickedUp != nil {
		r.CustomerPickedUp = *m.CustomerPickedUp
	}
	if m.CancelledAt != nil {
		t := *m.CancelledAt
		r.CancelledAt = &t
	}
	if m.CancelReason != "" {
		r.CancelReason = m.CancelReason
	}
	if m.CancelledBy != "" {
		r.CancelledBy = m.CancelledBy
	}
	r.Version++
	return nil
}

// sortNewestFirst orders rides by creation time, newest first.
func sortNewestFirst(rides []models.RideRequest) {
	sort.SliceStable(rides, func(i, j int) bool { return rides[i].CreatedAt.After(rides[j].CreatedAt) })
}
