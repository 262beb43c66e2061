package lifecycle

import (
	"github.com/example/ride-lifecycle/internal/models"
)

// Effect is a side effect the session controller must perform after a
// snapshot is applied.
type Effect string

const (
	EffectStartDriverFeed      Effect = "start_driver_feed"
	EffectStopDriverFeed       Effect = "stop_driver_feed"
	EffectDriverFound          Effect = "driver_found"
	EffectPickupStarted        Effect = "pickup_started"
	EffectHeadingToDestination Effect = "heading_to_destination"
	EffectPromptSettlement     Effect = "prompt_settlement"
	EffectExitHome             Effect = "exit_home"
	EffectRefresh              Effect = "refresh"
)

// Result describes what a single Apply did.
type Result struct {
	Applied bool
	From    Phase
	Phase   Phase
	Effects []Effect
}

func (r Result) Has(e Effect) bool {
	for _, x := range r.Effects {
		if x == e {
			return true
		}
	}
	return false
}

// Reducer folds snapshots of one ride into a forward-only phase. Every snapshot
// is treated as the whole current truth; stale and duplicate deliveries are
// ignored rather than rejected. It is not safe for concurrent use.
type Reducer struct {
	rideID  string
	phase   Phase
	version int64
	current *models.RideRequest

	feedStarted bool
	settled     bool
	exited      bool
}

// NewReducer returns a reducer bound to rideID. An empty id binds to the first
// snapshot applied.
func NewReducer(rideID string) *Reducer {
	return &Reducer{rideID: rideID, phase: PhaseIdle, version: -1}
}

func (r *Reducer) RideID() string { return r.rideID }

func (r *Reducer) Phase() Phase { return r.phase }

// Snapshot returns the last applied snapshot.
func (r *Reducer) Snapshot() (models.RideRequest, bool) {
	if r.current == nil {
		return models.RideRequest{}, false
	}
	return r.current.Clone(), true
}

// Apply folds snap into the reducer.
func (r *Reducer) Apply(snap models.RideRequest) Result {
	res := Result{From: r.phase, Phase: r.phase}
	if r.rideID == "" {
		r.rideID = snap.ID
	}
	if snap.ID != r.rideID {
		return res
	}
	if r.phase.Terminal() {
		return res
	}

	next := PhaseOf(snap)
	switch {
	case next < r.phase:
		return res
	case next == r.phase:
		if snap.Version <= r.version {
			return res
		}
		r.store(snap)
		res.Applied = true
		res.Effects = append(res.Effects, EffectRefresh)
		return res
	}

	r.store(snap)
	r.phase = next
	res.Applied = true
	res.Phase = next

	if next >= PhaseDriverFound && next <= PhaseToDestination && !r.feedStarted {
		r.feedStarted = true
		res.Effects = append(res.Effects, EffectDriverFound, EffectStartDriverFeed)
	}
	switch next {
	case PhasePickup:
		res.Effects = append(res.Effects, EffectPickupStarted)
	case PhaseToDestination:
		res.Effects = append(res.Effects, EffectHeadingToDestination)
	case PhaseCompleted:
		res.Effects = append(res.Effects, r.stopFeed()...)
		if !r.settled {
			r.settled = true
			res.Effects = append(res.Effects, EffectPromptSettlement)
		}
	case PhaseDeclined:
		res.Effects = append(res.Effects, r.stopFeed()...)
		if !r.exited {
			r.exited = true
			res.Effects = append(res.Effects, EffectExitHome)
		}
	}
	return res
}

func (r *Reducer) stopFeed() []Effect {
	if !r.feedStarted {
		return nil
	}
	r.feedStarted = false
	return []Effect{EffectStopDriverFeed}
}

func (r *Reducer) store(snap models.RideRequest) {
	c := snap.Clone()
	r.current = &c
	if snap.Version > r.version {
		r.version = snap.Version
	}
}
