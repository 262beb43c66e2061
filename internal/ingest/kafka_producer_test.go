package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-lifecycle/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return context.DeadlineExceeded
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func newTestProducer() (*KafkaProducer, *fakeWriter) {
	w := &fakeWriter{}
	return &KafkaProducer{writer: w, locationTopic: "driver-locations", statusTopic: "ride-status", timeout: time.Second}, w
}

func TestKafkaProducer_RoutesByTopicAndKey(t *testing.T) {
	p, w := newTestProducer()
	ctx := context.Background()

	require.NoError(t, p.PublishLocation(ctx, models.DriverLocationSample{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}}))
	require.NoError(t, p.PublishStatusChange(ctx, models.StatusChange{RideID: "r1", From: models.StatusWaiting, To: models.StatusAssigned}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "driver-locations", w.msgs[0].Topic)
	assert.Equal(t, "d1", string(w.msgs[0].Key))
	assert.Equal(t, "ride-status", w.msgs[1].Topic)
	assert.Equal(t, "r1", string(w.msgs[1].Key))

	var c models.StatusChange
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &c))
	assert.Equal(t, models.StatusAssigned, c.To)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
