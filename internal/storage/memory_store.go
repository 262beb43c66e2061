package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/stream"
)

// MemoryStore is an in-process RideStore used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.RideRequest
	offers   map[string]models.DriverOffer
	subs     map[string]map[*stream.Subscription[models.RideRequest]]struct{}
	watchers map[string]map[*stream.Subscription[[]models.RideRequest]]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.RideRequest),
		offers:   make(map[string]models.DriverOffer),
		subs:     make(map[string]map[*stream.Subscription[models.RideRequest]]struct{}),
		watchers: make(map[string]map[*stream.Subscription[[]models.RideRequest]]struct{}),
	}
}

func (m *MemoryStore) Create(ctx context.Context, r models.RideRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, r.ID)
	}
	c := r.Clone()
	m.rides[r.ID] = &c
	m.notifyLocked(c)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.RideRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, mut Mutation) (models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return models.RideRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := r.Clone()
	if err := mut.ApplyTo(&next); err != nil {
		return models.RideRequest{}, err
	}
	m.rides[id] = &next
	m.notifyLocked(next)
	return next.Clone(), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, id string) (*stream.Subscription[models.RideRequest], error) {
	m.mu.Lock()
	r, ok := m.rides[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sub := stream.New[models.RideRequest](ctx, 8)
	if m.subs[id] == nil {
		m.subs[id] = make(map[*stream.Subscription[models.RideRequest]]struct{})
	}
	m.subs[id][sub] = struct{}{}
	sub.Send(r.Clone())
	m.mu.Unlock()

	// registered outside the lock: the hook runs inline if ctx is already done
	sub.OnUnsubscribe(func() {
		m.mu.Lock()
		delete(m.subs[id], sub)
		m.mu.Unlock()
	})
	return sub, nil
}

func (m *MemoryStore) ActiveForPassenger(ctx context.Context, passengerID string) (models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := m.activeLocked(passengerID)
	if len(active) == 0 {
		return models.RideRequest{}, fmt.Errorf("%w: no active ride for %s", ErrNotFound, passengerID)
	}
	return active[0], nil
}

func (m *MemoryStore) WatchPassenger(ctx context.Context, passengerID string) (*stream.Subscription[[]models.RideRequest], error) {
	m.mu.Lock()
	sub := stream.New[[]models.RideRequest](ctx, 4)
	if m.watchers[passengerID] == nil {
		m.watchers[passengerID] = make(map[*stream.Subscription[[]models.RideRequest]]struct{})
	}
	m.watchers[passengerID][sub] = struct{}{}
	sub.Send(m.activeLocked(passengerID))
	m.mu.Unlock()

	sub.OnUnsubscribe(func() {
		m.mu.Lock()
		delete(m.watchers[passengerID], sub)
		m.mu.Unlock()
	})
	return sub, nil
}

func (m *MemoryStore) PutOffer(ctx context.Context, o models.DriverOffer) error {
	if o.RideID == "" {
		return models.ErrMissingID
	}
	m.mu.Lock()
	m.offers[o.RideID] = o
	m.mu.Unlock()
	return nil
}

// Offer returns the driver-facing duplicate of a ride, if written.
func (m *MemoryStore) Offer(rideID string) (models.DriverOffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[rideID]
	return o, ok
}

func (m *MemoryStore) ListWaiting(ctx context.Context, limit int) ([]models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RideRequest, 0)
	for _, r := range m.rides {
		if r.Status == models.StatusWaiting {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) activeLocked(passengerID string) []models.RideRequest {
	out := make([]models.RideRequest, 0)
	for _, r := range m.rides {
		if r.PassengerID == passengerID && !r.Status.Terminal() {
			out = append(out, r.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func (m *MemoryStore) notifyLocked(r models.RideRequest) {
	for sub := range m.subs[r.ID] {
		sub.Send(r.Clone())
	}
	if ws := m.watchers[r.PassengerID]; len(ws) > 0 {
		active := m.activeLocked(r.PassengerID)
		for sub := range ws {
			sub.Send(active)
		}
	}
}
