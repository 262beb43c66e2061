package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-lifecycle/internal/fare"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/routing"
	"github.com/example/ride-lifecycle/internal/stream"
)

var (
	ErrClosed           = errors.New("session closed")
	ErrRideInProgress   = errors.New("a ride is already in progress")
	ErrRouteUnavailable = errors.New("route unavailable")
)

// Draft is the trip the passenger is about to request.
type Draft struct {
	Pickup          models.Place     `json:"pickup"`
	Destination     models.Place     `json:"destination"`
	Class           models.RideClass `json:"class"`
	PaymentMethodID string           `json:"payment_method_id,omitempty"`
}

// TripQuote is a priced route shown before the passenger confirms.
type TripQuote struct {
	Pickup      models.Place  `json:"pickup"`
	Destination models.Place  `json:"destination"`
	Route       routing.Route `json:"route"`
	Fare        fare.Quote    `json:"fare"`
}

// Controller follows one passenger's current ride. Snapshot handling, timers
// and user actions are serialized on mu; store and network calls run outside
// it.
type Controller struct {
	sess   Context
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events *stream.Subscription[Event]

	mu         sync.Mutex
	closed     bool
	requesting bool
	reducer    *lifecycle.Reducer
	rideSub    *stream.Subscription[models.RideRequest]
	feedSub    *stream.Subscription[models.DriverLocationSample]
	driverLoc  *models.DriverLocationSample

	hold           *HoldTimer
	holdReason     models.CancelReason
	cancelInFlight bool
	cancelled      bool

	awaitingRating bool
	ratingInFlight bool
	rated          bool
	archived       bool
}

func New(sess Context, deps Deps) (*Controller, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		sess:   sess,
		deps:   deps,
		logger: deps.Logger.With("passenger_id", sess.PassengerID),
		ctx:    ctx,
		cancel: cancel,
		events: stream.New[Event](ctx, 64),
	}, nil
}

// Events streams UI events until Close.
func (c *Controller) Events() <-chan Event { return c.events.C() }

func (c *Controller) PassengerID() string { return c.sess.PassengerID }

func (c *Controller) PaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	return c.deps.Payments.List(ctx, c.sess.PassengerID)
}

// History returns the passenger's archived rides, newest first.
func (c *Controller) History(ctx context.Context, limit int) ([]models.RideRequest, error) {
	if c.deps.History == nil {
		return nil, nil
	}
	return c.deps.History.History(ctx, c.sess.PassengerID, limit)
}

// Quote resolves missing addresses, fetches the route and prices it. Route
// failures are returned as ErrRouteUnavailable; no fare is guessed.
func (c *Controller) Quote(ctx context.Context, d Draft) (TripQuote, error) {
	if !d.Class.Valid() {
		return TripQuote{}, fmt.Errorf("%w: %q", fare.ErrUnknownClass, d.Class)
	}
	var err error
	if d.Pickup.Address == "" {
		if d.Pickup.Address, err = c.deps.Router.ReverseGeocode(ctx, d.Pickup.Coord); err != nil {
			return TripQuote{}, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
		}
	}
	if d.Destination.Address == "" {
		if d.Destination.Address, err = c.deps.Router.ReverseGeocode(ctx, d.Destination.Coord); err != nil {
			return TripQuote{}, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
		}
	}
	route, err := c.deps.Router.Route(ctx, d.Pickup.Coord, d.Destination.Coord)
	if err != nil {
		return TripQuote{}, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}
	q, err := c.deps.Fares.Quote(route.DistanceKm, d.Class)
	if err != nil {
		return TripQuote{}, err
	}
	return TripQuote{Pickup: d.Pickup, Destination: d.Destination, Route: route, Fare: q}, nil
}

// RequestRide creates a waiting ride, writes the driver-facing offer and
// starts following the ride.
func (c *Controller) RequestRide(ctx context.Context, d Draft) (models.RideRequest, error) {
	if err := c.sess.Validate(); err != nil {
		return models.RideRequest{}, err
	}
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return models.RideRequest{}, ErrClosed
	case c.requesting, c.reducer != nil && !c.reducer.Phase().Terminal():
		c.mu.Unlock()
		return models.RideRequest{}, ErrRideInProgress
	}
	c.requesting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.requesting = false
		c.mu.Unlock()
	}()

	q, err := c.Quote(ctx, d)
	if err != nil {
		return models.RideRequest{}, err
	}
	pm, err := payments.Resolve(ctx, c.deps.Payments, c.sess.PassengerID, d.PaymentMethodID)
	if err != nil {
		return models.RideRequest{}, err
	}

	now := c.deps.Now().UTC()
	ride := models.RideRequest{
		ID:              c.deps.NewID(),
		PassengerID:     c.sess.PassengerID,
		PassengerName:   c.sess.Name,
		PassengerPhone:  c.sess.Phone,
		PassengerPhoto:  c.sess.PhotoURL,
		Pickup:          q.Pickup,
		Destination:     q.Destination,
		Class:           d.Class,
		Fare:            q.Fare.Fare,
		DistanceKm:      q.Route.DistanceKm,
		DurationMin:     q.Route.DurationMin,
		Polyline:        q.Route.Polyline,
		PaymentMethodID: pm.ID,
		Status:          models.StatusWaiting,
		CreatedAt:       now,
		Version:         1,
	}
	if err := c.deps.Store.Create(ctx, ride); err != nil {
		return models.RideRequest{}, fmt.Errorf("create ride: %w", err)
	}
	observability.RidesRequested.WithLabelValues(string(ride.Class)).Inc()
	c.logger.Info("ride requested", "ride_id", ride.ID, "class", ride.Class, "fare", ride.Fare, "distance_km", ride.DistanceKm)

	offer := models.DriverOffer{
		RideID:      ride.ID,
		Pickup:      ride.Pickup,
		Destination: ride.Destination,
		Class:       ride.Class,
		Fare:        ride.Fare,
		DistanceKm:  ride.DistanceKm,
		CreatedAt:   now,
	}
	if err := c.deps.Store.PutOffer(ctx, offer); err != nil {
		// the ride stands; the two records are not coupled
		c.logger.Warn("driver offer write failed", "ride_id", ride.ID, "error", err)
	}

	if err := c.follow(ride); err != nil {
		return ride, err
	}
	return ride, nil
}

// Resume reattaches to the passenger's newest non-terminal ride, or
// resubscribes when the live feed was lost.
func (c *Controller) Resume(ctx context.Context) (State, error) {
	if err := c.sess.Validate(); err != nil {
		return State{}, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return State{}, ErrClosed
	}
	if c.reducer != nil && !c.reducer.Phase().Terminal() {
		id, live := c.reducer.RideID(), c.rideSub != nil
		c.mu.Unlock()
		if !live {
			if err := c.watch(id); err != nil {
				return c.State(), err
			}
		}
		return c.State(), nil
	}
	c.mu.Unlock()

	ride, err := c.deps.Store.ActiveForPassenger(ctx, c.sess.PassengerID)
	if err != nil {
		if isNotFound(err) {
			return c.State(), nil
		}
		return c.State(), fmt.Errorf("load active ride: %w", err)
	}
	if err := c.follow(ride); err != nil {
		return c.State(), err
	}
	return c.State(), nil
}

// State returns the current read model.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{Phase: lifecycle.PhaseIdle}
	if c.reducer == nil {
		return st
	}
	st.Phase = c.reducer.Phase()
	snap, ok := c.reducer.Snapshot()
	if ok {
		st.Ride = &snap
	}
	if c.driverLoc != nil {
		loc := *c.driverLoc
		st.DriverLocation = &loc
	}
	tracking := st.Phase >= lifecycle.PhaseDriverFound && st.Phase <= lifecycle.PhaseToDestination
	if tracking && ok && snap.HasDriver() && snap.Driver.Phone != "" {
		st.CanCall = true
		st.CanSMS = true
	}
	live := st.Phase >= lifecycle.PhaseSearching && st.Phase <= lifecycle.PhaseToDestination
	st.CanCancel = live && !c.cancelInFlight && !c.cancelled
	st.CancelReasonRequired = live && c.deps.RequireReasonAfterAssignment && ok && snap.HasDriver()
	st.CancelHolding = c.hold != nil && c.hold.Holding()
	st.AwaitingRating = c.awaitingRating && !c.rated
	return st
}

// Close releases every subscription. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ride, feed := c.detachLocked()
	c.mu.Unlock()

	unsubscribe(ride, feed)
	c.cancel()
	c.events.Unsubscribe()
}

func (c *Controller) follow(ride models.RideRequest) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	oldRide, oldFeed := c.detachLocked()
	c.reducer = lifecycle.NewReducer(ride.ID)
	c.driverLoc = nil
	c.holdReason = ""
	c.cancelInFlight, c.cancelled = false, false
	c.awaitingRating, c.ratingInFlight, c.rated, c.archived = false, false, false, false
	c.mu.Unlock()
	unsubscribe(oldRide, oldFeed)

	c.apply(ride)
	return c.watch(ride.ID)
}

// watch subscribes to the ride document unless it is already watched or over.
func (c *Controller) watch(id string) error {
	sub, err := c.deps.Store.Subscribe(c.ctx, id)
	if err != nil {
		return fmt.Errorf("subscribe ride %s: %w", id, err)
	}
	c.mu.Lock()
	if c.closed || c.reducer == nil || c.reducer.RideID() != id || c.reducer.Phase().Terminal() || c.rideSub != nil {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.rideSub = sub
	c.mu.Unlock()
	go c.pumpRide(sub)
	return nil
}

func (c *Controller) pumpRide(sub *stream.Subscription[models.RideRequest]) {
	for snap := range sub.C() {
		c.apply(snap)
	}
	err := sub.Err()
	c.mu.Lock()
	if c.rideSub == sub {
		c.rideSub = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if err != nil && !closed {
		c.logger.Warn("ride updates interrupted", "error", err)
		c.alert("Lost connection to ride updates.", true)
	}
}

// apply folds one snapshot and performs the effects it yields.
func (c *Controller) apply(snap models.RideRequest) {
	c.mu.Lock()
	if c.closed || c.reducer == nil {
		c.mu.Unlock()
		return
	}
	res := c.reducer.Apply(snap)
	if !res.Applied {
		c.mu.Unlock()
		observability.SnapshotsIgnored.Inc()
		return
	}
	observability.SnapshotsApplied.Inc()

	ride := snap.Clone()
	kind := EventRideUpdated
	if res.Phase != res.From {
		kind = EventPhaseChanged
	}
	evs := []Event{{Kind: kind, RideID: ride.ID, Phase: res.Phase, Ride: &ride}}

	var (
		startFeed string
		stopFeed  *stream.Subscription[models.DriverLocationSample]
		stopRide  *stream.Subscription[models.RideRequest]
		archive   bool
	)
	for _, e := range res.Effects {
		switch e {
		case lifecycle.EffectStartDriverFeed:
			if ride.HasDriver() {
				startFeed = ride.Driver.ID
			}
		case lifecycle.EffectStopDriverFeed:
			stopFeed, c.feedSub = c.feedSub, nil
		case lifecycle.EffectPromptSettlement:
			c.awaitingRating = true
			evs = append(evs, Event{Kind: EventSettlement, RideID: ride.ID, Phase: res.Phase, Ride: &ride})
		case lifecycle.EffectExitHome:
			evs = append(evs, Event{Kind: EventExitHome, RideID: ride.ID, Phase: res.Phase})
		}
	}
	if res.Phase.Terminal() {
		if c.hold != nil {
			c.hold.Release()
			c.hold = nil
		}
		if stopFeed == nil {
			stopFeed, c.feedSub = c.feedSub, nil
		}
		stopRide, c.rideSub = c.rideSub, nil
		if !c.archived {
			c.archived = true
			archive = true
		}
	}
	c.mu.Unlock()

	c.logger.Debug("snapshot applied", "ride_id", ride.ID, "phase", res.Phase, "version", ride.Version, "effects", res.Effects)
	unsubscribe(stopRide, stopFeed)
	for _, ev := range evs {
		c.emit(ev)
	}
	if startFeed != "" {
		c.startFeed(startFeed)
	}
	if archive {
		observability.RidesFinished.WithLabelValues(res.Phase.String()).Inc()
		c.archive(ride)
	}
}

func (c *Controller) startFeed(driverID string) {
	if c.deps.Feed == nil {
		return
	}
	sub, err := c.deps.Feed.Subscribe(c.ctx, driverID)
	if err != nil {
		c.logger.Warn("driver location feed unavailable", "driver_id", driverID, "error", err)
		c.alert("Driver location is unavailable right now.", false)
		return
	}
	c.mu.Lock()
	if c.closed || c.reducer == nil || c.reducer.Phase().Terminal() || c.feedSub != nil {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	c.feedSub = sub
	c.mu.Unlock()
	go c.pumpFeed(sub)
}

func (c *Controller) pumpFeed(sub *stream.Subscription[models.DriverLocationSample]) {
	for s := range sub.C() {
		c.mu.Lock()
		if c.feedSub != sub {
			c.mu.Unlock()
			return
		}
		loc := s
		c.driverLoc = &loc
		rideID, phase := c.reducer.RideID(), c.reducer.Phase()
		c.mu.Unlock()
		c.emit(Event{Kind: EventDriverLocation, RideID: rideID, Phase: phase, Location: &loc})
	}
	if err := sub.Err(); err != nil {
		c.logger.Warn("driver location feed ended", "error", err)
	}
}

func (c *Controller) archive(ride models.RideRequest) {
	if c.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.deps.WriteTimeout)
	defer cancel()
	if err := c.deps.History.Archive(ctx, ride); err != nil {
		c.logger.Warn("ride archive failed", "ride_id", ride.ID, "error", err)
	}
}

func (c *Controller) emit(ev Event) { c.events.Send(ev) }

func (c *Controller) alert(msg string, retry bool) {
	c.mu.Lock()
	ev := Event{Kind: EventAlert, Message: msg, Retry: retry}
	if c.reducer != nil {
		ev.RideID, ev.Phase = c.reducer.RideID(), c.reducer.Phase()
	}
	c.mu.Unlock()
	c.emit(ev)
}

// detachLocked takes the live subscriptions and stops any hold.
func (c *Controller) detachLocked() (*stream.Subscription[models.RideRequest], *stream.Subscription[models.DriverLocationSample]) {
	ride, feed := c.rideSub, c.feedSub
	c.rideSub, c.feedSub = nil, nil
	if c.hold != nil {
		c.hold.Release()
		c.hold = nil
	}
	return ride, feed
}

func unsubscribe(ride *stream.Subscription[models.RideRequest], feed *stream.Subscription[models.DriverLocationSample]) {
	if ride != nil {
		ride.Unsubscribe()
	}
	if feed != nil {
		feed.Unsubscribe()
	}
}
