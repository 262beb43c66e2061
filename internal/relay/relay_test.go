package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-lifecycle/internal/models"
)

func TestShouldNotify(t *testing.T) {
	assert.True(t, ShouldNotify(models.StatusWaiting, models.StatusAssigned))
	assert.True(t, ShouldNotify(models.StatusWaiting, models.StatusActive))
	assert.False(t, ShouldNotify(models.StatusAssigned, models.StatusActive))
	assert.False(t, ShouldNotify(models.StatusWaiting, models.StatusDeclined))
	assert.False(t, ShouldNotify("", models.StatusWaiting))
}

func TestHTTPRelay_PostsOnlyQualifyingFlips(t *testing.T) {
	bodies := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	done := make(chan error, 4)
	h := NewHTTPRelay(srv.URL, nil)
	h.done = func(err error) { done <- err }
	ctx := context.Background()

	require.NoError(t, h.PublishStatusChange(ctx, models.StatusChange{RideID: "r1", From: models.StatusAssigned, To: models.StatusActive}))
	require.NoError(t, h.PublishStatusChange(ctx, models.StatusChange{RideID: "r1", From: models.StatusWaiting, To: models.StatusAssigned}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never posted")
	}
	require.Len(t, bodies, 1)
	var payload struct {
		Event  string              `json:"event"`
		Change models.StatusChange `json:"change"`
	}
	require.NoError(t, json.Unmarshal(<-bodies, &payload))
	assert.Equal(t, "ride_status_changed", payload.Event)
	assert.Equal(t, models.StatusAssigned, payload.Change.To)
}

func TestHTTPRelay_FailureDoesNotReachCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	done := make(chan error, 1)
	h := NewHTTPRelay(srv.URL, nil)
	h.done = func(err error) { done <- err }

	err := h.PublishStatusChange(context.Background(), models.StatusChange{From: models.StatusWaiting, To: models.StatusActive})
	require.NoError(t, err)
	assert.Error(t, <-done)
}

type recorder struct {
	mu  sync.Mutex
	got []models.StatusChange
	err error
}

func (r *recorder) PublishStatusChange(ctx context.Context, c models.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, c)
	return r.err
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("broker down")}
	err := Fanout{a, b}.PublishStatusChange(context.Background(), models.StatusChange{RideID: "r1"})
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed bool
	err    error
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestHub_ReplaceAndSend(t *testing.T) {
	h := NewHub(nil)
	assert.ErrorIs(t, h.Send("p1", "x"), ErrNoSession)

	first, second := &fakeConn{}, &fakeConn{}
	h.add("p1", first)
	s2 := h.add("p1", second)
	assert.True(t, first.closed)

	require.NoError(t, h.Send("p1", "hello"))
	assert.Equal(t, []any{"hello"}, second.sent)

	h.Remove("p1", s2)
	assert.Equal(t, 0, h.Len())
}

func TestHub_DropsBrokenSession(t *testing.T) {
	h := NewHub(nil)
	c := &fakeConn{err: errors.New("broken pipe")}
	h.add("p1", c)

	assert.Error(t, h.Send("p1", "x"))
	assert.Equal(t, 0, h.Len())
	assert.True(t, c.closed)
}
