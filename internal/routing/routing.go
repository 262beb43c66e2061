// Package routing is the geocoding adapter: reverse geocoding and trip routes.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

var ErrNoRoute = errors.New("no route found")

// Route is what the ride request needs from a routing engine.
type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Polyline    string  `json:"polyline,omitempty"`
}

// Client is the interface used by the session controller.
type Client interface {
	ReverseGeocode(ctx context.Context, at models.Coord) (string, error)
	Route(ctx context.Context, from, to models.Coord) (Route, error)
}

// Cache is a tiny in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Cached wraps a client so repeated quotes for the same trip skip the network.
// Failures are never cached.
type Cached struct {
	Client
	cache *Cache
}

func WithCache(c Client, ttl time.Duration) *Cached {
	return &Cached{Client: c, cache: NewCache(ttl)}
}

func (c *Cached) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	if r, ok := c.cache.Get(from, to); ok {
		return r, nil
	}
	r, err := c.Client.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	c.cache.Set(from, to, r)
	return r, nil
}

// StraightLine estimates routes from great-circle distance. Used when no
// routing engine is configured; it never fails.
type StraightLine struct {
	SpeedKmh float64
	// Detour multiplies the straight-line distance to approximate streets.
	Detour float64
}

func (s StraightLine) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = 28.8 // ~8 m/s city speed
	}
	detour := s.Detour
	if detour < 1 {
		detour = 1
	}
	km := haversine(from.Lat, from.Lon, to.Lat, to.Lon) / 1000 * detour
	return Route{DistanceKm: km, DurationMin: km / speed * 60}, nil
}

func (s StraightLine) ReverseGeocode(ctx context.Context, at models.Coord) (string, error) {
	return fmtCoord(at), nil
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
