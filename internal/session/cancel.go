package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ride-lifecycle/internal/lifecycle"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/storage"
)

var (
	ErrNoActiveRide     = errors.New("no active ride")
	ErrReasonRequired   = errors.New("a cancel reason is required once a driver is assigned")
	ErrInvalidReason    = errors.New("unknown cancel reason")
	ErrCancelInProgress = errors.New("cancellation already in progress")
)

// CancelReasons lists the reasons offered after assignment, in display order.
func (c *Controller) CancelReasons() []models.CancelReason {
	return append([]models.CancelReason(nil), models.CancelReasons...)
}

// BeginCancelHold starts the press-and-hold gesture. When it completes the
// cancellation is written with reason.
func (c *Controller) BeginCancelHold(reason models.CancelReason) error {
	c.mu.Lock()
	if err := c.canCancelLocked(reason); err != nil {
		c.mu.Unlock()
		return err
	}
	h := NewHoldTimer(c.deps.HoldDuration, c.deps.AfterFunc)
	// AfterFunc runs the callback on its own goroutine, never inline.
	if err := h.Start(func() { _ = c.commitCancel() }); err != nil {
		c.mu.Unlock()
		return err
	}
	c.hold = h
	c.holdReason = reason
	ev := Event{Kind: EventHoldStarted, RideID: c.reducer.RideID(), Phase: c.reducer.Phase()}
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

// ReleaseCancelHold ends the gesture. It reports true when the hold was
// aborted before committing, in which case nothing was written.
func (c *Controller) ReleaseCancelHold() bool {
	c.mu.Lock()
	h := c.hold
	if h == nil || !h.Release() {
		c.mu.Unlock()
		return false
	}
	c.hold = nil
	c.holdReason = ""
	ev := Event{Kind: EventHoldReleased, RideID: c.reducer.RideID(), Phase: c.reducer.Phase()}
	c.mu.Unlock()

	observability.Cancellations.WithLabelValues("aborted").Inc()
	c.emit(ev)
	return true
}

func (c *Controller) canCancelLocked(reason models.CancelReason) error {
	if c.closed {
		return ErrClosed
	}
	if c.reducer == nil {
		return ErrNoActiveRide
	}
	if p := c.reducer.Phase(); p == lifecycle.PhaseIdle || p.Terminal() {
		return ErrNoActiveRide
	}
	if c.cancelInFlight || c.cancelled {
		return ErrCancelInProgress
	}
	if c.hold != nil && c.hold.Holding() {
		return ErrHoldActive
	}
	if reason != "" && !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	snap, _ := c.reducer.Snapshot()
	if reason == "" && snap.HasDriver() && c.deps.RequireReasonAfterAssignment {
		return ErrReasonRequired
	}
	return nil
}

// commitCancel writes the cancellation. Repeated or concurrent calls issue a
// single write; a failed write releases the guard so the user can retry.
// A driver assignment landing at the same instant is not compensated: the
// store keeps whichever write lands last.
func (c *Controller) commitCancel() error {
	c.mu.Lock()
	if c.closed || c.reducer == nil || c.cancelInFlight || c.cancelled {
		c.mu.Unlock()
		return nil
	}
	if p := c.reducer.Phase(); p == lifecycle.PhaseIdle || p.Terminal() {
		c.mu.Unlock()
		return ErrNoActiveRide
	}
	c.cancelInFlight = true
	c.hold = nil
	id, reason := c.reducer.RideID(), c.holdReason
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.deps.WriteTimeout)
	defer cancel()
	next, err := c.deps.Store.Update(ctx, id, storage.Cancel(models.PartyPassenger, reason, c.deps.Now().UTC()))

	c.mu.Lock()
	c.cancelInFlight = false
	if err == nil {
		c.cancelled = true
	}
	c.mu.Unlock()

	if err != nil {
		observability.Cancellations.WithLabelValues("failed").Inc()
		c.logger.Warn("cancel write failed", "ride_id", id, "error", err)
		if errors.Is(err, storage.ErrTerminal) {
			c.alert("This ride has already ended.", false)
		} else {
			c.alert("Could not cancel the ride. Please try again.", true)
		}
		return fmt.Errorf("cancel ride %s: %w", id, err)
	}
	observability.Cancellations.WithLabelValues("committed").Inc()
	c.logger.Info("ride cancelled", "ride_id", id, "reason", reason)
	c.apply(next)
	return nil
}

func isNotFound(err error) bool { return errors.Is(err, storage.ErrNotFound) }
