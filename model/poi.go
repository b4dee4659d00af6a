// Package model defines the map-derived records held in tile payloads: points
// of interest, roads, walking paths, and road intersections. Records are
// related across tiles by stable keys, never by object references, so a road
// that crosses a tile boundary does not drag another tile's object graph
// along with it.
package model

import (
	"time"

	"github.com/paulmach/orb"
)

// POI is a point of interest. Its Key is globally unique across all record
// kinds.
type POI struct {
	// Key is the stable, globally unique identifier of the record.
	Key string `json:"key"`
	// Names maps a language code to the localized name.
	Names map[string]string `json:"names,omitempty"`
	// Category is the taxonomy tag assigned by the tile service.
	Category string `json:"category,omitempty"`
	// Geometry is the POI's location shape, when known.
	Geometry *Geometry `json:"geometry,omitempty"`
	// Address holds optional address fields.
	Address *Address `json:"address,omitempty"`
	// EntranceKeys lists the keys of entrance POIs. Only meaningful when the
	// geometry is non-point. Referenced records may live in other tiles or be
	// missing entirely; resolution skips keys that cannot be found.
	EntranceKeys []string `json:"entranceKeys,omitempty"`
	// LastSelected is set when the user picks this POI, and drives the
	// recently-selected ranking.
	LastSelected *time.Time `json:"lastSelected,omitempty"`
}

// Name returns the localized name for lang, falling back to any other
// available name. Returns "" for an unnamed POI.
func (p *POI) Name(lang string) string {
	if name, ok := p.Names[lang]; ok {
		return name
	}
	for _, name := range p.Names {
		return name
	}
	return ""
}

// Center returns the POI's representative coordinate: the point itself for
// point geometry, the centroid otherwise, and the zero point when the POI has
// no geometry.
func (p *POI) Center() orb.Point {
	if p.Geometry == nil {
		return orb.Point{}
	}
	return p.Geometry.Centroid()
}

// HasEntrances reports whether entrance references are valid and present.
// Point-geometry POIs cannot have entrances.
func (p *POI) HasEntrances() bool {
	if p.Geometry == nil || p.Geometry.IsPoint() {
		return false
	}
	return len(p.EntranceKeys) != 0
}

// Address holds the optional address fields of a POI.
type Address struct {
	Street      string `json:"street,omitempty"`
	HouseNumber string `json:"houseNumber,omitempty"`
	City        string `json:"city,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
}
