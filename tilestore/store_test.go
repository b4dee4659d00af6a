package tilestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/vicinitymaps/go-vicinity/model"
	"github.com/vicinitymaps/go-vicinity/test"
	"github.com/vicinitymaps/go-vicinity/tile"
	"github.com/vicinitymaps/go-vicinity/tilestore"
)

func newStore(t *testing.T, options ...tilestore.Option) *tilestore.Store {
	t.Helper()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	s, err := tilestore.New(ds, options...)
	require.NoError(t, err)
	return s
}

func TestNeedsFetchLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := test.RandomTiles(1, 16)[0]

	// Absent tile needs fetching and does not exist.
	require.True(t, s.NeedsFetch(ctx, id))
	exists, err := s.Exists(ctx, id)
	require.NoError(t, err)
	require.False(t, exists)

	tp := test.RandomPayload(id)
	require.NoError(t, s.Put(ctx, id, tp))
	require.False(t, s.NeedsFetch(ctx, id))
	exists, err = s.Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, exists)

	// Expire-all leaves contents readable but stale.
	require.NoError(t, s.ExpireAll(ctx))
	require.True(t, s.NeedsFetch(ctx, id))
	exists, err = s.Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, exists)
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.POIs, len(tp.POIs))

	// Extend refreshes expiry without altering contents.
	require.NoError(t, s.Extend(ctx, id))
	require.False(t, s.NeedsFetch(ctx, id))
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, tp.FreshnessTag, got.FreshnessTag)
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := test.RandomTiles(1, 16)[0]
	tp := test.RandomPayload(id)

	require.NoError(t, s.Put(ctx, id, tp))
	first, err := s.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, id, tp))
	second, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, first, second)

	inters, err := s.Intersections(ctx, id)
	require.NoError(t, err)
	require.Len(t, inters, len(tp.Intersections))
}

func TestPutReplacesOldIntersections(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := test.RandomTiles(1, 16)[0]

	old := test.RandomPayload(id)
	require.NoError(t, s.Put(ctx, id, old))

	// A re-fetch with different intersections must not leak the old ones.
	updated := test.RandomPayload(id)
	require.NoError(t, s.Put(ctx, id, updated))

	inters, err := s.Intersections(ctx, id)
	require.NoError(t, err)
	require.Len(t, inters, len(updated.Intersections))
	for _, n := range inters {
		require.NotEqual(t, old.Intersections[0].Key, n.Key)
	}
}

func TestExtendMissingTile(t *testing.T) {
	s := newStore(t)
	err := s.Extend(context.Background(), test.RandomTiles(1, 16)[0])
	require.ErrorIs(t, err, tilestore.ErrNotFound)
}

func TestExpiredPayloadRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := newStore(t, tilestore.WithTTL(time.Hour), tilestore.WithClock(func() time.Time { return now }))
	id := test.RandomTiles(1, 16)[0]

	tp := test.RandomPayload(id)
	tp.ExpiresAt = time.Time{}
	require.NoError(t, s.Put(ctx, id, tp))
	require.False(t, s.NeedsFetch(ctx, id))

	// Move the clock past the TTL.
	now = now.Add(time.Hour + time.Second)
	require.True(t, s.NeedsFetch(ctx, id))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ids := test.RandomTiles(3, 16)
	for _, id := range ids {
		require.NoError(t, s.Put(ctx, id, test.RandomPayload(id)))
	}

	require.NoError(t, s.Clear(ctx))
	for _, id := range ids {
		_, err := s.Get(ctx, id)
		require.ErrorIs(t, err, tilestore.ErrNotFound)
		inters, err := s.Intersections(ctx, id)
		require.NoError(t, err)
		require.Empty(t, inters)
	}
}

func TestKeyLookups(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := test.RandomTiles(1, 16)[0]
	tp := test.RandomPayload(id)
	require.NoError(t, s.Put(ctx, id, tp))

	road, err := s.RoadByKey(ctx, tp.Roads[0].Key)
	require.NoError(t, err)
	require.Equal(t, tp.Roads[0].Key, road.Key)
	_, err = s.RoadByKey(ctx, "road-nope")
	require.ErrorIs(t, err, tilestore.ErrNotFound)

	poi, err := s.POIByKey(ctx, tp.POIs[1].Key)
	require.NoError(t, err)
	require.Equal(t, tp.POIs[1].Key, poi.Key)
	poi, err = s.POIByKey(ctx, "poi-nope")
	require.NoError(t, err)
	require.Nil(t, poi)

	// Intersections resolve their roads by key, not by reference.
	inters, err := s.Intersections(ctx, id)
	require.NoError(t, err)
	require.True(t, inters[0].Connects(road.Key))
}

func TestNearbyPOIsExpansion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, tilestore.WithSearchExpansion(100, 400, 2000))
	center := orb.Point{135.5, 34.69}
	id := tile.At(center, 16)

	// One POI ~450m east: outside the first ring, inside the second.
	far := orb.Point{center.Lon() + 0.0049, center.Lat()}
	tp := &model.TilePayload{
		POIs:      []model.POI{{Key: "poi-far", Geometry: model.PointGeometry(far)}},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.Put(ctx, id, tp))

	found, err := s.NearbyPOIs(ctx, center, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "poi-far", found[0].Key)

	// Nothing within the limit from a distant location.
	found, err = s.NearbyPOIs(ctx, orb.Point{136.0, 34.69}, 10)
	require.NoError(t, err)
	require.Empty(t, found)
}
