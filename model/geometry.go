package model

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Geometry is the location shape of a record: a point for simple POIs, or a
// polygon / multi-polygon for POIs with an extent, such as buildings and
// parks. It serializes as GeoJSON.
type Geometry struct {
	g orb.Geometry
}

// NewGeometry wraps an orb geometry. Only points, polygons, and
// multi-polygons are meaningful here; anything else still round-trips but
// answers Contains with false.
func NewGeometry(g orb.Geometry) *Geometry {
	return &Geometry{g: g}
}

// PointGeometry is a convenience constructor for point records.
func PointGeometry(p orb.Point) *Geometry {
	return &Geometry{g: p}
}

// Geometry returns the wrapped orb geometry.
func (g *Geometry) Geometry() orb.Geometry {
	return g.g
}

// IsPoint reports whether the geometry is a single point.
func (g *Geometry) IsPoint() bool {
	_, ok := g.g.(orb.Point)
	return ok
}

// Contains reports whether the point lies inside the geometry. Point
// geometries contain nothing.
func (g *Geometry) Contains(p orb.Point) bool {
	switch v := g.g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, p)
	}
	return false
}

// Centroid returns the representative point of the geometry. For a point
// geometry this is the point itself.
func (g *Geometry) Centroid() orb.Point {
	if p, ok := g.g.(orb.Point); ok {
		return p
	}
	c, _ := planar.CentroidArea(g.g)
	return c
}

func (g *Geometry) MarshalJSON() ([]byte, error) {
	if g.g == nil {
		return nil, errors.New("cannot marshal empty geometry")
	}
	return geojson.NewGeometry(g.g).MarshalJSON()
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	gj, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return err
	}
	g.g = gj.Geometry()
	return nil
}
