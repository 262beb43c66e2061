// Package matcher is a reference matching actor. It honours the external
// contract: pick a driver for a waiting ride and write the whole driver group
// together with status=assigned in one update.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/example/ride-lifecycle/internal/geo"
	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/routing"
	"github.com/example/ride-lifecycle/internal/storage"
)

type Geo interface {
	Nearby(lat, lon float64, limit int) []models.Driver
}

// Offer is the chosen candidate.
type Offer struct {
	DriverID string  `json:"driver_id"`
	ETA      float64 `json:"eta_seconds"`
	Cost     float64 `json:"cost"`
}

type Service struct {
	Geo             Geo
	Store           storage.RideStore
	Router          routing.Client // optional, straight line otherwise
	DefaultSpeedMps float64
	TopN            int
	Now             func() time.Time
	Logger          *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Choose ranks nearby drivers by cost = eta + 30*(5 - rating), skipping busy.
func (s *Service) Choose(ctx context.Context, ride models.RideRequest, busy map[string]bool) (models.Driver, Offer, bool) {
	topN := s.TopN
	if topN <= 0 {
		topN = 10
	}
	pickup := ride.Pickup.Coord
	cands := s.Geo.Nearby(pickup.Lat, pickup.Lon, topN)
	type scored struct {
		d      models.Driver
		etaSec float64
		cost   float64
	}
	list := make([]scored, 0, len(cands))
	for _, d := range cands {
		if busy[d.ID] {
			continue
		}
		etaSec := s.eta(ctx, d.Loc, pickup)
		list = append(list, scored{d, etaSec, etaSec + 30.0*(5.0-d.Rating)})
	}
	if len(list) == 0 {
		return models.Driver{}, Offer{}, false
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].cost < list[j].cost })
	best := list[0]
	return best.d, Offer{DriverID: best.d.ID, ETA: best.etaSec, Cost: best.cost}, true
}

func (s *Service) eta(ctx context.Context, from, to models.Coord) float64 {
	if s.Router != nil {
		if r, err := s.Router.Route(ctx, from, to); err == nil {
			return r.DurationMin * 60
		}
	}
	speed := s.DefaultSpeedMps
	if speed <= 0 {
		speed = 8
	}
	return geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon) / speed
}

// Match assigns the best driver to ride. It reports false when no driver is
// free or the ride moved on before the write landed.
func (s *Service) Match(ctx context.Context, ride models.RideRequest, busy map[string]bool) (Offer, bool, error) {
	start := time.Now()
	d, offer, ok := s.Choose(ctx, ride, busy)
	if !ok {
		return Offer{}, false, nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err := s.Store.Update(ctx, ride.ID, storage.Assign(d.Info(), now().UTC()))
	switch {
	case errors.Is(err, storage.ErrTerminal), errors.Is(err, lifecycle.ErrInvalidTransition):
		s.logger().Info("ride moved on before assignment", "ride_id", ride.ID, "error", err)
		return Offer{}, false, nil
	case err != nil:
		return Offer{}, false, err
	}
	observability.MatchesTotal.Inc()
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	s.logger().Info("driver assigned", "ride_id", ride.ID, "driver_id", d.ID, "eta_seconds", offer.ETA)
	return offer, true, nil
}

// RunOnce tries to match every waiting ride, oldest first.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	rides, err := s.Store.ListWaiting(ctx, 50)
	if err != nil {
		return 0, err
	}
	busy := make(map[string]bool)
	matched := 0
	for _, r := range rides {
		if r.HasDriver() {
			continue
		}
		offer, ok, err := s.Match(ctx, r, busy)
		if err != nil {
			s.logger().Warn("match failed", "ride_id", r.ID, "error", err)
			continue
		}
		if ok {
			busy[offer.DriverID] = true
			matched++
		}
	}
	return matched, nil
}

// Run polls for waiting rides until ctx is done.
func (s *Service) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger().Warn("matcher pass failed", "error", err)
			}
		}
	}
}
