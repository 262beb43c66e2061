package geo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-lifecycle/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 50)
}

func TestIndex_NearbyOrdersByDistanceAndSkipsOffline(t *testing.T) {
	g := NewIndex()
	g.Upsert(models.Driver{ID: "far", Loc: models.Coord{Lat: 0.05, Lon: 0}, Online: true})
	g.Upsert(models.Driver{ID: "near", Loc: models.Coord{Lat: 0.001, Lon: 0}, Online: true})
	g.Upsert(models.Driver{ID: "off", Loc: models.Coord{Lat: 0, Lon: 0}, Online: false})

	got := g.Nearby(0, 0, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "far", got[1].ID)
}

func TestIndex_SubscribeReceivesLatestThenLive(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	require.NoError(t, g.Publish(ctx, models.DriverLocationSample{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 1}}))

	sub, err := g.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := <-sub.C()
	assert.Equal(t, 1.0, first.Loc.Lat)

	require.NoError(t, g.Publish(ctx, models.DriverLocationSample{DriverID: "d1", Loc: models.Coord{Lat: 2, Lon: 2}}))
	select {
	case s := <-sub.C():
		assert.Equal(t, 2.0, s.Loc.Lat)
	case <-time.After(time.Second):
		t.Fatal("no live sample")
	}

	_, err = g.Subscribe(ctx, "")
	assert.ErrorIs(t, err, ErrMissingDriver)
}

func TestIndex_PublishKeepsProfile(t *testing.T) {
	g := NewIndex()
	g.Upsert(models.Driver{ID: "d1", Name: "Ana", Online: true})
	require.NoError(t, g.Publish(context.Background(), models.DriverLocationSample{DriverID: "d1", Loc: models.Coord{Lat: 3}}))

	d, ok := g.Driver("d1")
	require.True(t, ok)
	assert.Equal(t, "Ana", d.Name)
	assert.Equal(t, 3.0, d.Loc.Lat)
}

func setupRedisGeo(t *testing.T) *RedisGeo {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisGeo(client, "drivers_geo", nil)
}

func TestRedisGeo_PublishAndSubscribe(t *testing.T) {
	ctx := context.Background()
	r := setupRedisGeo(t)
	require.NoError(t, r.Publish(ctx, models.DriverLocationSample{DriverID: "d1", Loc: models.Coord{Lat: -23.55, Lon: -46.63}}))

	sub, err := r.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := <-sub.C()
	assert.InDelta(t, -23.55, first.Loc.Lat, 1e-4)

	require.NoError(t, r.Publish(ctx, models.DriverLocationSample{DriverID: "d1", Loc: models.Coord{Lat: -23.56, Lon: -46.64}}))
	select {
	case s := <-sub.C():
		assert.InDelta(t, -23.56, s.Loc.Lat, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no live sample")
	}
}

func TestRedisGeo_Nearby(t *testing.T) {
	r := setupRedisGeo(t)
	r.Upsert(models.Driver{ID: "d1", Name: "Ana", Loc: models.Coord{Lat: -23.55, Lon: -46.63}, Rating: 4.8, Online: true})
	r.Upsert(models.Driver{ID: "d2", Loc: models.Coord{Lat: -23.551, Lon: -46.631}, Online: false})

	got := r.Nearby(-23.55, -46.63, 5)
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].ID)
	assert.Equal(t, "Ana", got[0].Name)
	assert.InDelta(t, 4.8, got[0].Rating, 1e-6)
}
