package tilestore

import (
	"context"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/vicinitymaps/go-vicinity/model"
)

// The store is itself a POI source, so it can be registered with a provider
// registry alongside external search providers.

// Name identifies the store when registered as a POI source.
func (s *Store) Name() string {
	return "tilestore"
}

// POIByKey resolves a POI by its stable key, searching every cached tile.
// Returns nil, nil when no cached tile holds the key.
func (s *Store) POIByKey(ctx context.Context, key string) (*model.POI, error) {
	var poi *model.POI
	err := s.eachPayload(ctx, func(tp *model.TilePayload) bool {
		poi = tp.POIByKey(key)
		return poi == nil
	})
	if err != nil {
		return nil, err
	}
	return poi, nil
}

// Query returns every cached POI matching the predicate.
func (s *Store) Query(ctx context.Context, match func(*model.POI) bool) ([]*model.POI, error) {
	var out []*model.POI
	err := s.eachPayload(ctx, func(tp *model.TilePayload) bool {
		for i := range tp.POIs {
			if match(&tp.POIs[i]) {
				poi := tp.POIs[i]
				out = append(out, &poi)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NearbyPOIs returns up to max cached POIs around center, nearest first. The
// search starts at the initial expansion distance and widens by the
// configured step until it finds something or passes the distance limit.
func (s *Store) NearbyPOIs(ctx context.Context, center orb.Point, max int) ([]*model.POI, error) {
	for radius := s.searchRadius; radius <= s.searchLimit; radius += s.searchStep {
		r := radius
		found, err := s.Query(ctx, func(p *model.POI) bool {
			return p.Geometry != nil && geo.Distance(center, p.Center()) <= r
		})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			continue
		}
		sort.Slice(found, func(i, j int) bool {
			return geo.Distance(center, found[i].Center()) < geo.Distance(center, found[j].Center())
		})
		if max > 0 && len(found) > max {
			found = found[:max]
		}
		return found, nil
	}
	return nil, nil
}

// SetLastSelected stamps the POI with a selection time, which drives the
// recently-selected ranking. The payload blob is rewritten in place; tile
// expiration and intersection records are untouched.
func (s *Store) SetLastSelected(ctx context.Context, key string, at time.Time) error {
	results, err := s.tileEntries(ctx)
	if err != nil {
		return err
	}
	for _, entry := range results {
		tp := entry.payload
		poi := tp.POIByKey(key)
		if poi == nil {
			continue
		}
		poi.LastSelected = &at
		return s.putRaw(ctx, entry.key, tp)
	}
	return ErrNotFound
}
