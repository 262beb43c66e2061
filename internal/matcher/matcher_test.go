package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
)

type fakeGeo struct{ drivers []models.Driver }

func (f *fakeGeo) Nearby(lat, lon float64, limit int) []models.Driver { return f.drivers }

func waitingRide(id string, created time.Time) models.RideRequest {
	return models.RideRequest{
		ID:          id,
		PassengerID: "p-" + id,
		Class:       models.ClassPrivate,
		Status:      models.StatusWaiting,
		CreatedAt:   created,
		Pickup:      models.Place{Coord: models.Coord{Lat: 0, Lon: 0}},
		Version:     1,
	}
}

func TestChooseHigherRatingIfETAEqual(t *testing.T) {
	g := &fakeGeo{drivers: []models.Driver{
		{ID: "A", Loc: models.Coord{Lat: 0, Lon: 0}, Rating: 4.0, Online: true},
		{ID: "B", Loc: models.Coord{Lat: 0, Lon: 0}, Rating: 5.0, Online: true},
	}}
	s := &Service{Geo: g, Store: storage.NewMemoryStore(), DefaultSpeedMps: 10, TopN: 2}
	_, offer, ok := s.Choose(context.Background(), waitingRide("r1", time.Now()), nil)
	require.True(t, ok)
	assert.Equal(t, "B", offer.DriverID)
}

func TestMatch_WritesDriverGroupAndStatusTogether(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Create(ctx, waitingRide("r1", time.Now())))

	g := &fakeGeo{drivers: []models.Driver{{ID: "d1", Name: "Budi", Phone: "+62812", Rating: 4.9, Online: true}}}
	s := &Service{Geo: g, Store: store}

	offer, ok, err := s.Match(ctx, waitingRide("r1", time.Now()), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "d1", offer.DriverID)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, got.Status)
	require.NotNil(t, got.Driver)
	assert.Equal(t, "Budi", got.Driver.Name)
	assert.Equal(t, "+62812", got.Driver.Phone)
	assert.NotNil(t, got.AssignedAt)
}

func TestMatch_CancelledRideIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Create(ctx, waitingRide("r1", time.Now())))
	_, err := store.Update(ctx, "r1", storage.Cancel(models.PartyPassenger, "", time.Now()))
	require.NoError(t, err)

	s := &Service{Geo: &fakeGeo{drivers: []models.Driver{{ID: "d1", Online: true}}}, Store: store}
	_, ok, err := s.Match(ctx, waitingRide("r1", time.Now()), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, got.Status)
	assert.Nil(t, got.Driver)
}

func TestRunOnce_OneDriverPerPass(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Create(ctx, waitingRide("old", now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, waitingRide("new", now)))

	s := &Service{Geo: &fakeGeo{drivers: []models.Driver{{ID: "d1", Rating: 5, Online: true}}}, Store: store}
	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, old.Status)
	fresh, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, fresh.Status)
}
