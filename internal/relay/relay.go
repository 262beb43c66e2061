// Package relay triggers the out-of-band notification side channel when a
// ride leaves waiting, and fans status changes out to several publishers.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
)

// ShouldNotify reports whether a status flip triggers the relay: waiting to
// assigned or active.
func ShouldNotify(from, to models.Status) bool {
	return from == models.StatusWaiting && (to == models.StatusAssigned || to == models.StatusActive)
}

// Publisher matches storage.StatusPublisher.
type Publisher interface {
	PublishStatusChange(ctx context.Context, c models.StatusChange) error
}

// HTTPRelay posts qualifying status changes to a webhook. Delivery is fire
// and forget: PublishStatusChange never waits on the endpoint.
type HTTPRelay struct {
	Endpoint string
	Client   *http.Client
	logger   *slog.Logger
	// done, when set, is called after each delivery attempt.
	done func(error)
}

func NewHTTPRelay(endpoint string, logger *slog.Logger) *HTTPRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRelay{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, logger: logger}
}

func (h *HTTPRelay) PublishStatusChange(ctx context.Context, c models.StatusChange) error {
	if !ShouldNotify(c.From, c.To) {
		return nil
	}
	b, err := json.Marshal(map[string]any{"event": "ride_status_changed", "change": c})
	if err != nil {
		return err
	}
	go func() {
		err := h.post(b)
		if err != nil {
			observability.RelayFailures.Inc()
			h.logger.Warn("relay post failed", "ride_id", c.RideID, "to", c.To, "error", err)
		}
		if h.done != nil {
			h.done(err)
		}
	}()
	return nil
}

func (h *HTTPRelay) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.Client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay status %d", resp.StatusCode)
	}
	return nil
}

// Fanout delivers each change to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) PublishStatusChange(ctx context.Context, c models.StatusChange) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishStatusChange(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
