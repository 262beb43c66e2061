package rating

import (
	"context"
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
)

type MemoryStore struct {
	mu      sync.Mutex
	ratings map[string]models.Rating
	aggs    map[string]models.DriverAggregate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ratings: make(map[string]models.Rating),
		aggs:    make(map[string]models.DriverAggregate),
	}
}

func ratingKey(rideID, passengerID string) string { return rideID + "/" + passengerID }

func (m *MemoryStore) Put(ctx context.Context, r models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ratingKey(r.RideID, r.PassengerID)
	if _, ok := m.ratings[k]; ok {
		return ErrAlreadyRated
	}
	m.ratings[k] = r
	return nil
}

func (m *MemoryStore) AddToAggregate(ctx context.Context, driverID string, stars int) (models.DriverAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.aggs[driverID]
	a.DriverID = driverID
	a.Sum += int64(stars)
	a.Count++
	m.aggs[driverID] = a
	return a, nil
}

func (m *MemoryStore) Aggregate(ctx context.Context, driverID string) (models.DriverAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.aggs[driverID]
	a.DriverID = driverID
	return a, nil
}

func (m *MemoryStore) Reconcile(ctx context.Context, driverID string) (models.DriverAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := models.DriverAggregate{DriverID: driverID}
	for _, r := range m.ratings {
		if r.DriverID == driverID {
			a.Sum += int64(r.Stars)
			a.Count++
		}
	}
	m.aggs[driverID] = a
	return a, nil
}
