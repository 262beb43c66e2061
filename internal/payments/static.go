package payments

import (
	"context"
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
)

type PaymentMethod = models.PaymentMethod

var Cash = models.CashMethod

// StaticRegistry serves methods configured in memory. Cash is always listed.
type StaticRegistry struct {
	mu      sync.RWMutex
	methods map[string][]PaymentMethod
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{methods: make(map[string][]PaymentMethod)}
}

func (s *StaticRegistry) Add(passengerID string, m PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[passengerID] = append(s.methods[passengerID], m)
}

func (s *StaticRegistry) List(ctx context.Context, passengerID string) ([]PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PaymentMethod, 0, len(s.methods[passengerID])+1)
	out = append(out, Cash)
	return append(out, s.methods[passengerID]...), nil
}
