package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/stream"
)

// RedisGeo implements Geo and Feed using Redis GEO commands and pub/sub.
type RedisGeo struct {
	client *redis.Client
	key    string
	radius float64
	logger *slog.Logger
}

func NewRedisGeo(client *redis.Client, key string, logger *slog.Logger) *RedisGeo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGeo{client: client, key: key, radius: 5000, logger: logger}
}

func (r *RedisGeo) Upsert(d models.Driver) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// store as GEOADD and HSET for metadata
	_ = r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"name":   d.Name,
		"phone":  d.Phone,
		"photo":  d.Photo,
		"rating": fmt.Sprintf("%f", d.Rating),
		"online": strconv.FormatBool(d.Online),
	}).Err()
	if err := r.Publish(ctx, models.DriverLocationSample{DriverID: d.ID, Loc: d.Loc, UpdatedAt: time.Now()}); err != nil {
		r.logger.Warn("driver upsert failed", "driver_id", d.ID, "error", err)
	}
}

// Publish stores the sample and fans it out on the driver's channel.
func (r *RedisGeo) Publish(ctx context.Context, s models.DriverLocationSample) error {
	if s.DriverID == "" {
		return ErrMissingDriver
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: s.Loc.Lon, Latitude: s.Loc.Lat, Name: s.DriverID})
		p.HSet(ctx, metaKey(s.DriverID), "updated", s.UpdatedAt.Format(time.RFC3339Nano), "heading", s.Heading)
		p.Publish(ctx, locationChannel(s.DriverID), b)
		return nil
	})
	return err
}

func (r *RedisGeo) Subscribe(ctx context.Context, driverID string) (*stream.Subscription[models.DriverLocationSample], error) {
	if driverID == "" {
		return nil, ErrMissingDriver
	}
	ps := r.client.Subscribe(ctx, locationChannel(driverID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe driver %s: %w", driverID, err)
	}
	sub := stream.New[models.DriverLocationSample](ctx, 4)
	sub.OnUnsubscribe(func() { _ = ps.Close() })
	if last, ok := r.last(ctx, driverID); ok {
		sub.Send(last)
	}

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-sub.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					sub.Fail(errors.New("driver location channel closed"))
					return
				}
				var s models.DriverLocationSample
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					r.logger.Warn("dropping undecodable location sample", "driver_id", driverID, "error", err)
					continue
				}
				sub.Send(s)
			}
		}
	}()
	return sub, nil
}

func (r *RedisGeo) last(ctx context.Context, driverID string) (models.DriverLocationSample, bool) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.DriverLocationSample{}, false
	}
	s := models.DriverLocationSample{DriverID: driverID, Loc: models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}}
	if v, err := r.client.HGet(ctx, metaKey(driverID), "updated").Result(); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.UpdatedAt = t
		}
	}
	return s, true
}

func (r *RedisGeo) Nearby(lat, lon float64, limit int) []models.Driver {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: r.radius, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Online: true}
		d.Loc.Lat = g.Latitude
		d.Loc.Lon = g.Longitude
		// try to fetch metadata
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					d.Rating = f
				}
			}
			if v, ok := m["online"]; ok {
				d.Online = (v == "true")
			}
			d.Name, d.Phone, d.Photo = m["name"], m["phone"], m["photo"]
		}
		if d.Online {
			out = append(out, d)
		}
	}
	return out
}

func metaKey(id string) string         { return "driver:meta:" + id }
func locationChannel(id string) string { return "driver:" + id + ":location" }
