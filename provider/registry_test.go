package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/vicinitymaps/go-vicinity/model"
	"github.com/vicinitymaps/go-vicinity/provider"
)

type mockSource struct {
	name string
	pois []model.POI
}

func (s *mockSource) Name() string {
	return s.name
}

func (s *mockSource) POIByKey(_ context.Context, key string) (*model.POI, error) {
	for i := range s.pois {
		if s.pois[i].Key == key {
			return &s.pois[i], nil
		}
	}
	return nil, nil
}

func (s *mockSource) Query(_ context.Context, match func(*model.POI) bool) ([]*model.POI, error) {
	var out []*model.POI
	for i := range s.pois {
		if match(&s.pois[i]) {
			out = append(out, &s.pois[i])
		}
	}
	return out, nil
}

func named(key, lang, name string) model.POI {
	return model.POI{Key: key, Names: map[string]string{lang: name}}
}

func TestLookupPrecedence(t *testing.T) {
	ctx := context.Background()
	// Both sources know poi-1; registration order decides.
	first := &mockSource{name: "first", pois: []model.POI{named("poi-1", "en", "First's")}}
	second := &mockSource{name: "second", pois: []model.POI{
		named("poi-1", "en", "Second's"),
		named("poi-2", "en", "Only in second"),
	}}
	r := provider.NewRegistry(first, second)

	poi, err := r.POIByKey(ctx, "poi-1")
	require.NoError(t, err)
	require.Equal(t, "First's", poi.Name("en"))

	poi, err = r.POIByKey(ctx, "poi-2")
	require.NoError(t, err)
	require.Equal(t, "Only in second", poi.Name("en"))

	poi, err = r.POIByKey(ctx, "poi-3")
	require.NoError(t, err)
	require.Nil(t, poi)
}

func TestRegisterDedup(t *testing.T) {
	a := &mockSource{name: "dup", pois: []model.POI{named("poi-1", "en", "Original")}}
	b := &mockSource{name: "dup", pois: []model.POI{named("poi-1", "en", "Impostor")}}

	r := provider.NewRegistry()
	require.True(t, r.Register(a))
	require.False(t, r.Register(b))

	poi, err := r.POIByKey(context.Background(), "poi-1")
	require.NoError(t, err)
	require.Equal(t, "Original", poi.Name("en"))
}

func TestRecentlySelected(t *testing.T) {
	now := time.Now()
	var pois []model.POI
	// Seven selected POIs, one per hour, plus one never selected.
	for i := 0; i < 7; i++ {
		at := now.Add(-time.Duration(i) * time.Hour)
		poi := named(string(rune('a'+i)), "en", "POI")
		poi.LastSelected = &at
		pois = append(pois, poi)
	}
	pois = append(pois, named("never", "en", "Unselected"))

	r := provider.NewRegistry(&mockSource{name: "src", pois: pois})
	recent, err := r.RecentlySelected(context.Background())
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for i := 1; i < len(recent); i++ {
		require.True(t, recent[i-1].LastSelected.After(*recent[i].LastSelected))
	}
	require.Equal(t, "a", recent[0].Key)
}

func TestEntrancesSkipMissing(t *testing.T) {
	building := model.POI{
		Key: "building",
		Geometry: model.NewGeometry(orb.Polygon{orb.Ring{
			{0, 0}, {0.001, 0}, {0.001, 0.001}, {0, 0.001}, {0, 0},
		}}),
		EntranceKeys: []string{"door-1", "door-missing", "door-2"},
	}
	src := &mockSource{name: "src", pois: []model.POI{
		named("door-1", "en", "North entrance"),
		named("door-2", "en", "South entrance"),
	}}

	r := provider.NewRegistry(src)
	entrances := r.Entrances(context.Background(), &building)
	require.Len(t, entrances, 2)
	require.Equal(t, "door-1", entrances[0].Key)
	require.Equal(t, "door-2", entrances[1].Key)
}
