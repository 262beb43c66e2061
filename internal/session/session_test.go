package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/routing"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/stream"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type countingStore struct {
	*storage.MemoryStore

	mu           sync.Mutex
	cancelWrites int
	failCancels  int
	failOffers   bool
	live         int
}

func (s *countingStore) Update(ctx context.Context, id string, m storage.Mutation) (models.RideRequest, error) {
	if m.CancelledBy != "" {
		s.mu.Lock()
		s.cancelWrites++
		if s.failCancels > 0 {
			s.failCancels--
			s.mu.Unlock()
			return models.RideRequest{}, errors.New("network down")
		}
		s.mu.Unlock()
	}
	return s.MemoryStore.Update(ctx, id, m)
}

func (s *countingStore) Subscribe(ctx context.Context, id string) (*stream.Subscription[models.RideRequest], error) {
	sub, err := s.MemoryStore.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.live++
	s.mu.Unlock()
	sub.OnUnsubscribe(func() {
		s.mu.Lock()
		s.live--
		s.mu.Unlock()
	})
	return sub, nil
}

func (s *countingStore) PutOffer(ctx context.Context, o models.DriverOffer) error {
	if s.failOffers {
		return errors.New("offer write failed")
	}
	return s.MemoryStore.PutOffer(ctx, o)
}

func (s *countingStore) counts() (cancels, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelWrites, s.live
}

type fakeRouter struct {
	km  float64
	err error
}

func (f fakeRouter) Route(ctx context.Context, from, to models.Coord) (routing.Route, error) {
	if f.err != nil {
		return routing.Route{}, f.err
	}
	return routing.Route{DistanceKm: f.km, DurationMin: f.km * 2, Polyline: "poly"}, nil
}

func (f fakeRouter) ReverseGeocode(ctx context.Context, at models.Coord) (string, error) {
	return fmt.Sprintf("near %.2f,%.2f", at.Lat, at.Lon), f.err
}

type fakeHistory struct {
	mu       sync.Mutex
	archived []models.RideRequest
}

func (f *fakeHistory) Archive(ctx context.Context, r models.RideRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, r)
	return nil
}

func (f *fakeHistory) History(ctx context.Context, passengerID string, limit int) ([]models.RideRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RideRequest(nil), f.archived...), nil
}

func (f *fakeHistory) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.archived)
}

type harness struct {
	c       *Controller
	store   *countingStore
	feed    *geo.Index
	clock   *fakeClock
	history *fakeHistory

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store:   &countingStore{MemoryStore: storage.NewMemoryStore()},
		feed:    geo.NewIndex(),
		clock:   &fakeClock{},
		history: &fakeHistory{},
	}
	n := 0
	deps := Deps{
		Store:     h.store,
		Feed:      h.feed,
		Router:    fakeRouter{km: 5},
		History:   h.history,
		AfterFunc: h.clock.AfterFunc,
		NewID: func() string {
			n++
			return fmt.Sprintf("ride-%d", n)
		},
	}
	for _, o := range opts {
		o(&deps)
	}
	c, err := New(Context{PassengerID: "p1", Name: "Sari", Phone: "+628111"}, deps)
	require.NoError(t, err)
	h.c = c
	t.Cleanup(c.Close)
	go func() {
		for ev := range c.Events() {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		}
	}()
	return h
}

func (h *harness) count(kind EventKind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) last(kind EventKind) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Kind == kind {
			return h.events[i], true
		}
	}
	return Event{}, false
}

func (h *harness) request(t *testing.T) models.RideRequest {
	t.Helper()
	ride, err := h.c.RequestRide(context.Background(), Draft{
		Pickup:      models.Place{Coord: models.Coord{Lat: -6.2, Lon: 106.8}},
		Destination: models.Place{Coord: models.Coord{Lat: -6.25, Lon: 106.85}, Address: "Blok M"},
		Class:       models.ClassPrivate,
	})
	require.NoError(t, err)
	return ride
}

func (h *harness) update(t *testing.T, id string, m storage.Mutation) {
	t.Helper()
	_, err := h.store.MemoryStore.Update(context.Background(), id, m)
	require.NoError(t, err)
}

func waitPhase(t *testing.T, c *Controller, want lifecycle.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State().Phase == want }, 2*time.Second, 5*time.Millisecond,
		"want phase %s, have %s", want, c.State().Phase)
}

func driver(phone string) models.DriverInfo {
	return models.DriverInfo{ID: "d1", Name: "Budi", Phone: phone, PhotoURL: "https://img/d1.png"}
}

func TestNew_RequiresPassenger(t *testing.T) {
	_, err := New(Context{}, Deps{Store: storage.NewMemoryStore()})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = New(Context{PassengerID: "p1"}, Deps{})
	assert.Error(t, err)
}

func TestRequestRide_CreatesWaitingRideWithRoundedFare(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)

	assert.Equal(t, "ride-1", ride.ID)
	assert.Equal(t, models.StatusWaiting, ride.Status)
	assert.Equal(t, int64(550), ride.Fare)
	assert.Equal(t, "near -6.20,106.80", ride.Pickup.Address)
	assert.Equal(t, "Blok M", ride.Destination.Address)
	assert.Equal(t, "cash", ride.PaymentMethodID)
	assert.Equal(t, "Sari", ride.PassengerName)
	assert.Nil(t, ride.Driver)

	stored, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.Fare, stored.Fare)

	offer, ok := h.store.Offer(ride.ID)
	require.True(t, ok)
	assert.Equal(t, int64(550), offer.Fare)

	st := h.c.State()
	assert.Equal(t, lifecycle.PhaseSearching, st.Phase)
	assert.True(t, st.CanCancel)
	assert.False(t, st.CanCall)

	_, err = h.c.RequestRide(context.Background(), Draft{Class: models.ClassMoto})
	assert.ErrorIs(t, err, ErrRideInProgress)
}

func TestRequestRide_RouteFailureCreatesNothing(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Router = fakeRouter{err: errors.New("timeout")} })
	_, err := h.c.RequestRide(context.Background(), Draft{Class: models.ClassPrivate})
	assert.ErrorIs(t, err, ErrRouteUnavailable)

	_, err = h.store.ActiveForPassenger(context.Background(), "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, lifecycle.PhaseIdle, h.c.State().Phase)
}

func TestRequestRide_UnknownPaymentMethod(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.RequestRide(context.Background(), Draft{Class: models.ClassPrivate, PaymentMethodID: "pm_nope"})
	assert.ErrorIs(t, err, payments.ErrUnknownMethod)
}

func TestRequestRide_OfferFailureKeepsRide(t *testing.T) {
	h := newHarness(t)
	h.store.failOffers = true
	ride := h.request(t)

	_, ok := h.store.Offer(ride.ID)
	assert.False(t, ok)
	assert.Equal(t, lifecycle.PhaseSearching, h.c.State().Phase)
}

func TestLifecycle_FullTripWithDriverTracking(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)

	h.update(t, ride.ID, storage.Assign(driver("+62812"), time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDriverFound)

	st := h.c.State()
	assert.True(t, st.CanCall)
	assert.True(t, st.CanSMS)
	assert.Equal(t, "Budi", st.Ride.Driver.Name)

	require.NoError(t, h.feed.Publish(context.Background(), models.DriverLocationSample{DriverID: "d1", Loc: models.Coord{Lat: -6.21, Lon: 106.81}}))
	require.Eventually(t, func() bool {
		loc := h.c.State().DriverLocation
		return loc != nil && loc.Loc.Lat == -6.21
	}, 2*time.Second, 5*time.Millisecond)

	h.update(t, ride.ID, storage.SetStatus(models.StatusActive))
	waitPhase(t, h.c, lifecycle.PhasePickup)

	h.update(t, ride.ID, storage.PickedUp())
	waitPhase(t, h.c, lifecycle.PhaseToDestination)

	h.update(t, ride.ID, storage.SetStatus(models.StatusCompleted))
	waitPhase(t, h.c, lifecycle.PhaseCompleted)

	st = h.c.State()
	assert.True(t, st.AwaitingRating)
	assert.False(t, st.CanCancel)
	assert.False(t, st.CanCall)
	require.Eventually(t, func() bool { return h.count(EventSettlement) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.history.len() == 1 }, time.Second, 5*time.Millisecond)

	// both the ride and the driver feed are released after completion
	require.Eventually(t, func() bool {
		_, live := h.store.counts()
		return live == 0
	}, time.Second, 5*time.Millisecond)

	// a duplicate terminal snapshot does not prompt settlement again
	snap, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)
	h.c.apply(snap)
	h.c.apply(snap)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.count(EventSettlement))
}

func TestLifecycle_MissingPhoneDisablesCall(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	h.update(t, ride.ID, storage.Assign(driver(""), time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDriverFound)

	st := h.c.State()
	assert.False(t, st.CanCall)
	assert.False(t, st.CanSMS)
	assert.True(t, st.CanCancel)
}

func TestLifecycle_DriverFieldsBeforeStatus(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)

	d := driver("+62812")
	h.update(t, ride.ID, storage.Mutation{Driver: &d})
	waitPhase(t, h.c, lifecycle.PhaseDriverFound)

	snap, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, snap.Status)
}

func TestLifecycle_StaleSnapshotNeverRegresses(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	stale, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)

	h.update(t, ride.ID, storage.Assign(driver("+62812"), time.Now()))
	h.update(t, ride.ID, storage.SetStatus(models.StatusActive))
	waitPhase(t, h.c, lifecycle.PhasePickup)

	h.c.apply(stale)
	assert.Equal(t, lifecycle.PhasePickup, h.c.State().Phase)
}

func TestLifecycle_DriverCancellationExitsHome(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	h.update(t, ride.ID, storage.Assign(driver("+62812"), time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDriverFound)

	h.update(t, ride.ID, storage.Cancel(models.PartyDriver, models.ReasonOther, time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDeclined)
	require.Eventually(t, func() bool { return h.count(EventExitHome) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.c.State().AwaitingRating)

	// a new ride can be requested after the terminal phase
	next := h.request(t)
	assert.Equal(t, "ride-2", next.ID)
	assert.Equal(t, lifecycle.PhaseSearching, h.c.State().Phase)
}

func TestCancelHold_ReleasedEarlyWritesNothing(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	before, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)

	require.NoError(t, h.c.BeginCancelHold(""))
	assert.True(t, h.c.State().CancelHolding)

	h.clock.Advance(600 * time.Millisecond)
	assert.True(t, h.c.ReleaseCancelHold())
	h.clock.Advance(time.Second)

	after, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	cancels, _ := h.store.counts()
	assert.Equal(t, 0, cancels)
	assert.False(t, h.c.State().CancelHolding)
	assert.Equal(t, lifecycle.PhaseSearching, h.c.State().Phase)
}

func TestCancelHold_CompletesAndDeclines(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)

	require.NoError(t, h.c.BeginCancelHold(models.ReasonChangedMind))
	assert.ErrorIs(t, h.c.BeginCancelHold(""), ErrHoldActive)
	h.clock.Advance(DefaultHoldDuration)

	waitPhase(t, h.c, lifecycle.PhaseDeclined)
	assert.False(t, h.c.ReleaseCancelHold())

	stored, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, stored.Status)
	assert.Equal(t, models.PartyPassenger, stored.CancelledBy)
	assert.Equal(t, models.ReasonChangedMind, stored.CancelReason)
	require.NotNil(t, stored.CancelledAt)
	require.Eventually(t, func() bool { return h.count(EventExitHome) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCommitCancel_DoubleSubmitWritesOnce(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	h.c.mu.Lock()
	h.c.holdReason = models.ReasonFoundOtherRide
	h.c.mu.Unlock()

	require.NoError(t, h.c.commitCancel())
	require.NoError(t, h.c.commitCancel())

	cancels, _ := h.store.counts()
	assert.Equal(t, 1, cancels)
	stored, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonFoundOtherRide, stored.CancelReason)
}

func TestCommitCancel_ConcurrentSubmitWritesOnce(t *testing.T) {
	h := newHarness(t)
	h.request(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.c.commitCancel()
		}()
	}
	wg.Wait()
	cancels, _ := h.store.counts()
	assert.Equal(t, 1, cancels)
}

func TestCommitCancel_FailureAllowsRetry(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	h.store.failCancels = 1

	require.NoError(t, h.c.BeginCancelHold(""))
	h.clock.Advance(DefaultHoldDuration)

	require.Eventually(t, func() bool { return h.count(EventAlert) == 1 }, time.Second, 5*time.Millisecond)
	ev, _ := h.last(EventAlert)
	assert.True(t, ev.Retry)
	assert.Equal(t, lifecycle.PhaseSearching, h.c.State().Phase)
	assert.True(t, h.c.State().CanCancel)

	require.NoError(t, h.c.BeginCancelHold(""))
	h.clock.Advance(DefaultHoldDuration)
	waitPhase(t, h.c, lifecycle.PhaseDeclined)

	cancels, _ := h.store.counts()
	assert.Equal(t, 2, cancels)
	stored, err := h.store.Get(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, stored.Status)
}

func TestCancelHold_ReasonRequiredAfterAssignment(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.RequireReasonAfterAssignment = true })
	ride := h.request(t)

	// no reason needed while searching
	require.NoError(t, h.c.BeginCancelHold(""))
	assert.True(t, h.c.ReleaseCancelHold())

	h.update(t, ride.ID, storage.Assign(driver("+62812"), time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDriverFound)
	assert.True(t, h.c.State().CancelReasonRequired)

	assert.ErrorIs(t, h.c.BeginCancelHold(""), ErrReasonRequired)
	assert.ErrorIs(t, h.c.BeginCancelHold("bogus"), ErrInvalidReason)
	require.NoError(t, h.c.BeginCancelHold(models.ReasonDriverLate))
	h.clock.Advance(DefaultHoldDuration)
	waitPhase(t, h.c, lifecycle.PhaseDeclined)
}

func TestCancelHold_NoRide(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.c.BeginCancelHold(""), ErrNoActiveRide)
	assert.False(t, h.c.ReleaseCancelHold())
	assert.Len(t, h.c.CancelReasons(), len(models.CancelReasons))
}

func TestCancelHold_TerminalSnapshotStopsHold(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	require.NoError(t, h.c.BeginCancelHold(""))

	h.update(t, ride.ID, storage.Cancel(models.PartySystem, "", time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDeclined)
	h.clock.Advance(DefaultHoldDuration)

	cancels, _ := h.store.counts()
	assert.Equal(t, 0, cancels)
}

func completeTrip(t *testing.T, h *harness) models.RideRequest {
	t.Helper()
	ride := h.request(t)
	h.update(t, ride.ID, storage.Assign(driver("+62812"), time.Now()))
	h.update(t, ride.ID, storage.SetStatus(models.StatusCompleted))
	waitPhase(t, h.c, lifecycle.PhaseCompleted)
	return ride
}

func TestSubmitRating_Gate(t *testing.T) {
	store := rating.NewMemoryStore()
	h := newHarness(t, func(d *Deps) { d.Ratings = rating.NewService(store, nil) })

	_, err := h.c.SubmitRating(context.Background(), rating.Input{Stars: 4})
	assert.ErrorIs(t, err, ErrNothingToRate)

	completeTrip(t, h)

	_, err = h.c.SubmitRating(context.Background(), rating.Input{Stars: 0})
	assert.ErrorIs(t, err, rating.ErrRatingRequired)
	assert.True(t, h.c.State().AwaitingRating)

	agg, err := h.c.SubmitRating(context.Background(), rating.Input{Stars: 5, Comments: []string{"on_time"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.Count)
	assert.False(t, h.c.State().AwaitingRating)

	_, err = h.c.SubmitRating(context.Background(), rating.Input{Stars: 3})
	assert.ErrorIs(t, err, rating.ErrAlreadyRated)

	stored, err := store.Aggregate(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored.Sum)
	assert.Contains(t, h.c.RatingSuggestions(2), rating.OtherOption)
}

func TestSubmitRating_AcceptsEveryStarValue(t *testing.T) {
	for stars := 1; stars <= 5; stars++ {
		t.Run(fmt.Sprint(stars), func(t *testing.T) {
			h := newHarness(t)
			completeTrip(t, h)
			_, err := h.c.SubmitRating(context.Background(), rating.Input{Stars: stars})
			assert.NoError(t, err)
		})
	}
}

func TestResume_AttachesToActiveRide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.c.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PhaseIdle, st.Phase)

	r := models.RideRequest{ID: "existing", PassengerID: "p1", Class: models.ClassMoto, Status: models.StatusWaiting, CreatedAt: time.Now(), Version: 1}
	require.NoError(t, h.store.Create(ctx, r))

	st, err = h.c.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PhaseSearching, st.Phase)
	assert.Equal(t, "existing", st.Ride.ID)

	h.update(t, "existing", storage.Assign(driver("+62812"), time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDriverFound)
}

func TestClose_ReleasesSubscriptions(t *testing.T) {
	h := newHarness(t)
	ride := h.request(t)
	h.update(t, ride.ID, storage.Assign(driver("+62812"), time.Now()))
	waitPhase(t, h.c, lifecycle.PhaseDriverFound)

	_, live := h.store.counts()
	assert.Equal(t, 1, live)

	h.c.Close()
	h.c.Close()
	_, live = h.store.counts()
	assert.Equal(t, 0, live)

	_, err := h.c.RequestRide(context.Background(), Draft{Class: models.ClassPrivate})
	assert.ErrorIs(t, err, ErrClosed)

	h.update(t, ride.ID, storage.SetStatus(models.StatusActive))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, lifecycle.PhaseDriverFound, h.c.State().Phase)
}

func TestHoldTimer(t *testing.T) {
	clock := &fakeClock{}
	fired := 0
	h := NewHoldTimer(0, clock.AfterFunc)
	assert.Equal(t, DefaultHoldDuration, h.Duration())

	require.NoError(t, h.Start(func() { fired++ }))
	assert.ErrorIs(t, h.Start(func() {}), ErrHoldActive)
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, fired)
	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.False(t, h.Release())
	assert.False(t, h.Holding())
}

func TestManager(t *testing.T) {
	got := make(chan Event, 8)
	m := NewManager(Deps{Store: storage.NewMemoryStore(), Router: fakeRouter{km: 1}}, func(pid string, ev Event) {
		if pid == "p1" {
			got <- ev
		}
	})
	defer m.Close()

	_, err := m.Get(Context{})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	a, err := m.Get(Context{PassengerID: "p1"})
	require.NoError(t, err)
	b, err := m.Get(Context{PassengerID: "p1"})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Len())

	_, err = a.RequestRide(context.Background(), Draft{Class: models.ClassMoto})
	require.NoError(t, err)
	select {
	case ev := <-got:
		assert.Equal(t, EventPhaseChanged, ev.Kind)
		assert.Equal(t, lifecycle.PhaseSearching, ev.Phase)
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}

	m.Drop("p1")
	assert.Equal(t, 0, m.Len())
}
