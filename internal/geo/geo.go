package geo

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/stream"
)

var ErrMissingDriver = errors.New("driver id is required")

// Feed is the driver location feed: driver clients publish, passengers
// subscribe to the one driver assigned to their ride.
type Feed interface {
	Publish(ctx context.Context, s models.DriverLocationSample) error
	Subscribe(ctx context.Context, driverID string) (*stream.Subscription[models.DriverLocationSample], error)
}

// Geo is the minimal interface required by the matcher and handlers.
type Geo interface {
	Nearby(lat, lon float64, limit int) []models.Driver
	Upsert(d models.Driver)
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	subs    map[string]map[*stream.Subscription[models.DriverLocationSample]]struct{}
}

func NewIndex() *Index {
	return &Index{
		drivers: make(map[string]models.Driver),
		subs:    make(map[string]map[*stream.Subscription[models.DriverLocationSample]]struct{}),
	}
}

func (g *Index) Upsert(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	g.notifyLocked(sampleOf(d))
}

// Publish records a location sample, keeping any profile data already known.
func (g *Index) Publish(ctx context.Context, s models.DriverLocationSample) error {
	if s.DriverID == "" {
		return ErrMissingDriver
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[s.DriverID]
	if !ok {
		d = models.Driver{ID: s.DriverID, Online: true}
	}
	d.Loc = s.Loc
	d.Updated = s.UpdatedAt
	g.drivers[s.DriverID] = d
	g.notifyLocked(s)
	return nil
}

func (g *Index) Subscribe(ctx context.Context, driverID string) (*stream.Subscription[models.DriverLocationSample], error) {
	if driverID == "" {
		return nil, ErrMissingDriver
	}
	g.mu.Lock()
	sub := stream.New[models.DriverLocationSample](ctx, 4)
	if g.subs[driverID] == nil {
		g.subs[driverID] = make(map[*stream.Subscription[models.DriverLocationSample]]struct{})
	}
	g.subs[driverID][sub] = struct{}{}
	if d, ok := g.drivers[driverID]; ok {
		sub.Send(sampleOf(d))
	}
	g.mu.Unlock()

	sub.OnUnsubscribe(func() {
		g.mu.Lock()
		delete(g.subs[driverID], sub)
		g.mu.Unlock()
	})
	return sub, nil
}

// Driver returns what the index knows about a driver.
func (g *Index) Driver(id string) (models.Driver, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[id]
	return d, ok
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon float64, limit int) []models.Driver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		dist := Haversine(lat, lon, d.Loc.Lat, d.Loc.Lon)
		arr = append(arr, pair{d, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Driver, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].d)
	}
	return out
}

func (g *Index) notifyLocked(s models.DriverLocationSample) {
	for sub := range g.subs[s.DriverID] {
		sub.Send(s)
	}
}

func sampleOf(d models.Driver) models.DriverLocationSample {
	return models.DriverLocationSample{DriverID: d.ID, Loc: d.Loc, UpdatedAt: d.Updated}
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
