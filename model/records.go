package model

import (
	"time"

	"github.com/paulmach/orb"
)

// Road is a drivable way, or the fragment of one that falls inside a tile.
type Road struct {
	Key      string            `json:"key"`
	Names    map[string]string `json:"names,omitempty"`
	Geometry *Geometry         `json:"geometry,omitempty"`
}

// Name returns the localized road name for lang with fallback.
func (r *Road) Name(lang string) string {
	if name, ok := r.Names[lang]; ok {
		return name
	}
	for _, name := range r.Names {
		return name
	}
	return ""
}

// Path is a non-drivable way, such as a footpath.
type Path struct {
	Key      string    `json:"key"`
	Geometry *Geometry `json:"geometry,omitempty"`
}

// Intersection is a junction of two or more roads. Roads are referenced by
// key so that an intersection of cross-tile roads is a relation resolved via
// the cache, not an owning reference.
type Intersection struct {
	Key      string    `json:"key"`
	Position orb.Point `json:"position"`
	RoadKeys []string  `json:"roadKeys,omitempty"`
}

// Connects reports whether the intersection joins the given road.
func (n *Intersection) Connects(roadKey string) bool {
	for _, k := range n.RoadKeys {
		if k == roadKey {
			return true
		}
	}
	return false
}

// TilePayload is everything cached for one tile. At most one payload exists
// per tile identifier. Contents are only ever replaced wholesale or have
// their expiration extended; they are never partially mutated.
type TilePayload struct {
	POIs          []POI          `json:"pois,omitempty"`
	Roads         []Road         `json:"roads,omitempty"`
	Paths         []Path         `json:"paths,omitempty"`
	Intersections []Intersection `json:"intersections,omitempty"`
	// FreshnessTag is the opaque version token reported by the tile service,
	// echoed back on re-fetch for conditional "not modified" responses.
	FreshnessTag string `json:"freshnessTag,omitempty"`
	// ExpiresAt is the time after which the payload is stale and must be
	// re-validated.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the payload is stale at the given time.
func (tp *TilePayload) Expired(now time.Time) bool {
	return !tp.ExpiresAt.After(now)
}

// POIByKey returns the payload's POI with the given key, or nil.
func (tp *TilePayload) POIByKey(key string) *POI {
	for i := range tp.POIs {
		if tp.POIs[i].Key == key {
			return &tp.POIs[i]
		}
	}
	return nil
}

// RoadByKey returns the payload's road with the given key, or nil.
func (tp *TilePayload) RoadByKey(key string) *Road {
	for i := range tp.Roads {
		if tp.Roads[i].Key == key {
			return &tp.Roads[i]
		}
	}
	return nil
}
