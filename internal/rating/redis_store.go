package rating

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

func ratingDocKey(rideID, passengerID string) string { return "rating:" + rideID + ":" + passengerID }
func driverRatingsKey(driverID string) string      { return "driver:" + driverID + ":ratings" }
func driverAggKey(driverID string) string          { return "driver:" + driverID + ":rating_agg" }

// RedisStore keeps one JSON document per rating, a per-driver list of stars
// for reconciliation and a (sum, count) hash updated with HINCRBY.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore { return &RedisStore{client: client} }

func (s *RedisStore) Put(ctx context.Context, r models.Rating) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, ratingDocKey(r.RideID, r.PassengerID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("put rating: %w", err)
	}
	if !ok {
		return ErrAlreadyRated
	}
	if err := s.client.RPush(ctx, driverRatingsKey(r.DriverID), r.Stars).Err(); err != nil {
		return fmt.Errorf("index rating: %w", err)
	}
	return nil
}

func (s *RedisStore) AddToAggregate(ctx context.Context, driverID string, stars int) (models.DriverAggregate, error) {
	var sum, count *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		sum = p.HIncrBy(ctx, driverAggKey(driverID), "sum", int64(stars))
		count = p.HIncrBy(ctx, driverAggKey(driverID), "count", 1)
		return nil
	})
	if err != nil {
		return models.DriverAggregate{}, err
	}
	return models.DriverAggregate{DriverID: driverID, Sum: sum.Val(), Count: count.Val()}, nil
}

func (s *RedisStore) Aggregate(ctx context.Context, driverID string) (models.DriverAggregate, error) {
	m, err := s.client.HGetAll(ctx, driverAggKey(driverID)).Result()
	if err != nil {
		return models.DriverAggregate{}, err
	}
	a := models.DriverAggregate{DriverID: driverID}
	a.Sum, _ = strconv.ParseInt(m["sum"], 10, 64)
	a.Count, _ = strconv.ParseInt(m["count"], 10, 64)
	return a, nil
}

func (s *RedisStore) Reconcile(ctx context.Context, driverID string) (models.DriverAggregate, error) {
	vals, err := s.client.LRange(ctx, driverRatingsKey(driverID), 0, -1).Result()
	if err != nil {
		return models.DriverAggregate{}, err
	}
	a := models.DriverAggregate{DriverID: driverID}
	for _, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		a.Sum += int64(n)
		a.Count++
	}
	if err := s.client.HSet(ctx, driverAggKey(driverID), "sum", a.Sum, "count", a.Count).Err(); err != nil {
		return models.DriverAggregate{}, err
	}
	return a, nil
}
