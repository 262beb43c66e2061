// Package session hosts the passenger-side controller of one ride lifecycle:
// request creation, snapshot reduction, driver tracking, hold-to-cancel and
// settlement.
package session

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lifecycle/internal/fare"
	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/routing"
	"github.com/example/ride-lifecycle/internal/storage"
)

// ErrUnauthenticated is the one unrecoverable error of the flow: callers must
// send the passenger back to authentication.
var ErrUnauthenticated = errors.New("no authenticated passenger")

// Context is the passenger identity injected into a controller.
type Context struct {
	PassengerID string
	Name        string
	Phone       string
	PhotoURL    string
}

func (c Context) Validate() error {
	if strings.TrimSpace(c.PassengerID) == "" {
		return ErrUnauthenticated
	}
	return nil
}

// Deps are the collaborators of a controller. Store is required; the rest
// fall back to local implementations.
type Deps struct {
	Store    storage.RideStore
	Feed     geo.Feed
	Router   routing.Client
	Payments payments.Registry
	Fares    *fare.Calculator
	Ratings  *rating.Service
	History  storage.HistoryStore

	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
	AfterFunc AfterFunc

	HoldDuration time.Duration
	// RequireReasonAfterAssignment makes a cancel reason mandatory once a
	// driver is assigned.
	RequireReasonAfterAssignment bool
	// WriteTimeout bounds writes issued from timers and other non-request paths.
	WriteTimeout time.Duration
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Store == nil {
		return d, errors.New("session: ride store is required")
	}
	if d.Router == nil {
		d.Router = routing.StraightLine{}
	}
	if d.Payments == nil {
		d.Payments = payments.NewStaticRegistry()
	}
	if d.Fares == nil {
		d.Fares = fare.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Ratings == nil {
		d.Ratings = rating.NewService(rating.NewMemoryStore(), d.Logger)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.AfterFunc == nil {
		d.AfterFunc = realAfterFunc
	}
	if d.HoldDuration <= 0 {
		d.HoldDuration = DefaultHoldDuration
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = 5 * time.Second
	}
	return d, nil
}
