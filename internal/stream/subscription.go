// Package stream provides the subscription handle shared by every push-based
// feed in the module. A subscription must be released with Unsubscribe.
package stream

import (
	"context"
	"sync"
)

// Subscription delivers values of T until it is unsubscribed or its source
// ends. Sends never block the producer: when the consumer lags, the oldest
// buffered value is dropped in favour of the newest one, because every value
// is a full snapshot of current truth.
type Subscription[T any] struct {
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	onCancel []func()
	err      error
}

// New returns a subscription bound to parent. buffer must be at least 1.
func New[T any](parent context.Context, buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription[T]{ch: make(chan T, buffer), ctx: ctx, cancel: cancel}
	go func() {
		<-ctx.Done()
		s.finish(nil)
	}()
	return s
}

// C is closed once the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed when the subscription is torn down.
func (s *Subscription[T]) Done() <-chan struct{} { return s.ctx.Done() }

// Context is cancelled on Unsubscribe; producers select on it.
func (s *Subscription[T]) Context() context.Context { return s.ctx }

// OnUnsubscribe registers cleanup run exactly once when the subscription ends.
func (s *Subscription[T]) OnUnsubscribe(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onCancel = append(s.onCancel, fn)
	s.mu.Unlock()
}

// Send offers v to the consumer and reports whether the subscription is live.
func (s *Subscription[T]) Send(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- v:
			return true
		default:
		}
		// drop the oldest buffered snapshot
		select {
		case <-s.ch:
		default:
		}
	}
}

// Fail ends the subscription with err, visible through Err.
func (s *Subscription[T]) Fail(err error) { s.finish(err) }

// Err returns the error that ended the subscription, if any.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe tears the subscription down. It is safe to call more than once.
func (s *Subscription[T]) Unsubscribe() { s.finish(nil) }

func (s *Subscription[T]) finish(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	hooks := s.onCancel
	s.onCancel = nil
	close(s.ch)
	s.mu.Unlock()

	s.cancel()
	for _, fn := range hooks {
		fn()
	}
}
