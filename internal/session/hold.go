package session

import (
	"errors"
	"sync"
	"time"
)

// DefaultHoldDuration is how long the cancel button must be held.
const DefaultHoldDuration = 1000 * time.Millisecond

var ErrHoldActive = errors.New("hold already in progress")

// Stopper is the part of *time.Timer the hold needs.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc in production, a fake clock
// in tests.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// HoldTimer is the press-and-hold confirmation gesture. Releasing before the
// duration elapses aborts without side effects; otherwise onCommit runs once.
type HoldTimer struct {
	d     time.Duration
	after AfterFunc

	mu       sync.Mutex
	timer    Stopper
	fired    bool
	released bool
}

func NewHoldTimer(d time.Duration, after AfterFunc) *HoldTimer {
	if d <= 0 {
		d = DefaultHoldDuration
	}
	if after == nil {
		after = realAfterFunc
	}
	return &HoldTimer{d: d, after: after}
}

func (h *HoldTimer) Duration() time.Duration { return h.d }

func (h *HoldTimer) Start(onCommit func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		return ErrHoldActive
	}
	h.timer = h.after(h.d, func() {
		h.mu.Lock()
		if h.released || h.fired {
			h.mu.Unlock()
			return
		}
		h.fired = true
		h.mu.Unlock()
		onCommit()
	})
	return nil
}

// Release ends the gesture. It reports true when the hold was aborted before
// committing.
func (h *HoldTimer) Release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer == nil || h.fired || h.released {
		return false
	}
	h.released = true
	h.timer.Stop()
	return true
}

// Holding reports whether the gesture is still counting down.
func (h *HoldTimer) Holding() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timer != nil && !h.fired && !h.released
}
