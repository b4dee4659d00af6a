// Package provider defines the pluggable POI source interface and an ordered
// registry over any number of sources. Registration order is a precedence
// contract: key lookups return the first source's answer, and sources are
// deduplicated by name.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"

	"github.com/vicinitymaps/go-vicinity/model"
)

var log = logging.Logger("provider")

// recentLimit caps how many recently selected POIs are reported.
const recentLimit = 5

// Source is a supplier of POI records. The tile store is one Source; address
// and POI search services are others.
type Source interface {
	// Name identifies the source. Registering two sources with the same name
	// keeps only the first.
	Name() string
	// POIByKey returns the POI with the given key, or nil, nil when the
	// source does not know the key.
	POIByKey(ctx context.Context, key string) (*model.POI, error)
	// Query returns every POI matching the predicate.
	Query(ctx context.Context, match func(*model.POI) bool) ([]*model.POI, error)
}

// Registry is an ordered collection of POI sources.
type Registry struct {
	mutex   sync.RWMutex
	sources []Source
}

// NewRegistry creates a registry with the given sources, in precedence order.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register appends a source at the lowest precedence. Returns false if a
// source with the same name is already registered; the existing registration
// wins.
func (r *Registry) Register(s Source) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, existing := range r.sources {
		if existing.Name() == s.Name() {
			log.Debugw("Ignoring duplicate source registration", "name", s.Name())
			return false
		}
	}
	r.sources = append(r.sources, s)
	return true
}

func (r *Registry) snapshot() []Source {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// POIByKey asks each source in registration order and returns the first
// match. Returns nil, nil when no source knows the key. Source errors do not
// stop the search; they are reported only if every source misses.
func (r *Registry) POIByKey(ctx context.Context, key string) (*model.POI, error) {
	var errs error
	for _, s := range r.snapshot() {
		poi, err := s.POIByKey(ctx, key)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if poi != nil {
			return poi, nil
		}
	}
	return nil, errs
}

// Query merges the results of every source, deduplicated by key with the
// first-registered source winning.
func (r *Registry) Query(ctx context.Context, match func(*model.POI) bool) ([]*model.POI, error) {
	var out []*model.POI
	seen := make(map[string]struct{})
	var errs error
	for _, s := range r.snapshot() {
		pois, err := s.Query(ctx, match)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, poi := range pois {
			if _, ok := seen[poi.Key]; ok {
				continue
			}
			seen[poi.Key] = struct{}{}
			out = append(out, poi)
		}
	}
	if out == nil && errs != nil {
		return nil, errs
	}
	return out, nil
}

// RecentlySelected returns up to 5 POIs that have a selection time, most
// recent first.
func (r *Registry) RecentlySelected(ctx context.Context) ([]*model.POI, error) {
	pois, err := r.Query(ctx, func(p *model.POI) bool {
		return p.LastSelected != nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pois, func(i, j int) bool {
		return pois[i].LastSelected.After(*pois[j].LastSelected)
	})
	if len(pois) > recentLimit {
		pois = pois[:recentLimit]
	}
	return pois, nil
}

// Entrances resolves a POI's entrance references. Entrance POIs may live in
// other tiles or may not be cached at all; keys that cannot be resolved are
// skipped. POIs with point geometry have no entrances.
func (r *Registry) Entrances(ctx context.Context, poi *model.POI) []*model.POI {
	if !poi.HasEntrances() {
		return nil
	}
	out := make([]*model.POI, 0, len(poi.EntranceKeys))
	for _, key := range poi.EntranceKeys {
		entrance, err := r.POIByKey(ctx, key)
		if err != nil {
			log.Debugw("Cannot resolve entrance", "key", key, "err", err)
			continue
		}
		if entrance == nil {
			continue
		}
		out = append(out, entrance)
	}
	return out
}
