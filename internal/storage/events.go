package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// StatusPublisher receives status changes after they land in the store.
type StatusPublisher interface {
	PublishStatusChange(ctx context.Context, c models.StatusChange) error
}

// EventedStore decorates a RideStore so every status write is followed by a
// best-effort StatusChange event. Publishing never fails the write.
type EventedStore struct {
	RideStore
	pub    StatusPublisher
	logger *slog.Logger
}

func WithEvents(s RideStore, pub StatusPublisher, logger *slog.Logger) *EventedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventedStore{RideStore: s, pub: pub, logger: logger}
}

func (e *EventedStore) Create(ctx context.Context, r models.RideRequest) error {
	if err := e.RideStore.Create(ctx, r); err != nil {
		return err
	}
	e.publish(ctx, models.StatusChange{RideID: r.ID, PassengerID: r.PassengerID, To: r.Status, At: r.CreatedAt})
	return nil
}

func (e *EventedStore) Update(ctx context.Context, id string, m Mutation) (models.RideRequest, error) {
	if m.Status == nil {
		return e.RideStore.Update(ctx, id, m)
	}
	// the prior status is advisory: another writer may land in between
	var from models.Status
	if prev, err := e.RideStore.Get(ctx, id); err == nil {
		from = prev.Status
	}
	next, err := e.RideStore.Update(ctx, id, m)
	if err != nil {
		return next, err
	}
	if from != next.Status {
		c := models.StatusChange{RideID: next.ID, PassengerID: next.PassengerID, From: from, To: next.Status, At: time.Now()}
		if next.Driver != nil {
			c.DriverID = next.Driver.ID
		}
		e.publish(ctx, c)
	}
	return next, nil
}

func (e *EventedStore) publish(ctx context.Context, c models.StatusChange) {
	if e.pub == nil {
		return
	}
	if err := e.pub.PublishStatusChange(ctx, c); err != nil {
		e.logger.Warn("status change publish failed", "ride_id", c.RideID, "to", c.To, "error", err)
	}
}
