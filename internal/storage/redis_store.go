package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/stream"
)

const (
	waitingKey     = "rides:waiting"
	offerTTL       = 30 * time.Minute
	maxTxnAttempts = 5
)

func rideKey(id string) string            { return "ride:" + id }
func rideChannel(id string) string        { return "ride:" + id + ":snapshots" }
func offerKey(id string) string           { return "ride:" + id + ":offer" }
func passengerRidesKey(pid string) string { return "passenger:" + pid + ":rides" }
func passengerChannel(pid string) string  { return "passenger:" + pid + ":rides:changed" }

// RedisStore keeps each ride as a JSON document and pushes every write on a
// per-ride pub/sub channel.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Create(ctx context.Context, r models.RideRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, rideKey(r.ID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("create ride %s: %w", r.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExists, r.ID)
	}
	score := float64(r.CreatedAt.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, passengerRidesKey(r.PassengerID), redis.Z{Score: score, Member: r.ID})
		if r.Status == models.StatusWaiting {
			p.ZAdd(ctx, waitingKey, redis.Z{Score: score, Member: r.ID})
		}
		p.Publish(ctx, rideChannel(r.ID), b)
		p.Publish(ctx, passengerChannel(r.PassengerID), r.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index ride %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (models.RideRequest, error) {
	b, err := s.client.Get(ctx, rideKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RideRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.RideRequest{}, fmt.Errorf("get ride %s: %w", id, err)
	}
	var r models.RideRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return models.RideRequest{}, fmt.Errorf("decode ride %s: %w", id, err)
	}
	return r, nil
}

// Update applies m under WATCH so concurrent writers cannot interleave a
// read-modify-write on the same document.
func (s *RedisStore) Update(ctx context.Context, id string, m Mutation) (models.RideRequest, error) {
	key := rideKey(id)
	var out models.RideRequest
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		var cur models.RideRequest
		if err := json.Unmarshal(b, &cur); err != nil {
			return fmt.Errorf("decode ride %s: %w", id, err)
		}
		if err := m.ApplyTo(&cur); err != nil {
			return err
		}
		nb, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, nb, 0)
			if cur.Status != models.StatusWaiting {
				p.ZRem(ctx, waitingKey, id)
			}
			p.Publish(ctx, rideChannel(id), nb)
			p.Publish(ctx, passengerChannel(cur.PassengerID), id)
			return nil
		})
		out = cur
		return err
	}
	for i := 0; i < maxTxnAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return models.RideRequest{}, err
		}
		s.logger.Debug("ride update conflict, retrying", "ride_id", id, "attempt", i+1)
	}
	return models.RideRequest{}, fmt.Errorf("%w: %s", ErrConflict, id)
}

func (s *RedisStore) Subscribe(ctx context.Context, id string) (*stream.Subscription[models.RideRequest], error) {
	ps := s.client.Subscribe(ctx, rideChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe ride %s: %w", id, err)
	}
	// read after subscribing so no write can fall between the two
	cur, err := s.Get(ctx, id)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := stream.New[models.RideRequest](ctx, 8)
	sub.Send(cur)
	sub.OnUnsubscribe(func() { _ = ps.Close() })

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-sub.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					sub.Fail(errors.New("ride channel closed"))
					return
				}
				var r models.RideRequest
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					s.logger.Warn("dropping undecodable ride snapshot", "ride_id", id, "error", err)
					continue
				}
				sub.Send(r)
			}
		}
	}()
	return sub, nil
}

func (s *RedisStore) ActiveForPassenger(ctx context.Context, passengerID string) (models.RideRequest, error) {
	active, err := s.activeRides(ctx, passengerID)
	if err != nil {
		return models.RideRequest{}, err
	}
	if len(active) == 0 {
		return models.RideRequest{}, fmt.Errorf("%w: no active ride for %s", ErrNotFound, passengerID)
	}
	return active[0], nil
}

func (s *RedisStore) WatchPassenger(ctx context.Context, passengerID string) (*stream.Subscription[[]models.RideRequest], error) {
	ps := s.client.Subscribe(ctx, passengerChannel(passengerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("watch passenger %s: %w", passengerID, err)
	}
	active, err := s.activeRides(ctx, passengerID)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := stream.New[[]models.RideRequest](ctx, 4)
	sub.Send(active)
	sub.OnUnsubscribe(func() { _ = ps.Close() })

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-sub.Done():
				return
			case _, ok := <-ch:
				if !ok {
					sub.Fail(errors.New("passenger channel closed"))
					return
				}
				active, err := s.activeRides(sub.Context(), passengerID)
				if err != nil {
					s.logger.Warn("reload active rides failed", "passenger_id", passengerID, "error", err)
					continue
				}
				sub.Send(active)
			}
		}
	}()
	return sub, nil
}

func (s *RedisStore) PutOffer(ctx context.Context, o models.DriverOffer) error {
	if o.RideID == "" {
		return models.ErrMissingID
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, offerKey(o.RideID), b, offerTTL).Err()
}

func (s *RedisStore) ListWaiting(ctx context.Context, limit int) ([]models.RideRequest, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRange(ctx, waitingKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	rides, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := rides[:0]
	for _, r := range rides {
		if r.Status == models.StatusWaiting {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RedisStore) activeRides(ctx context.Context, passengerID string) ([]models.RideRequest, error) {
	ids, err := s.client.ZRevRange(ctx, passengerRidesKey(passengerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list passenger rides: %w", err)
	}
	rides, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.RideRequest, 0, len(rides))
	for _, r := range rides {
		if !r.Status.Terminal() {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) load(ctx context.Context, ids []string) ([]models.RideRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rideKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load rides: %w", err)
	}
	out := make([]models.RideRequest, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r models.RideRequest
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			s.logger.Warn("skipping undecodable ride", "ride_id", ids[i], "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
