// Package tile provides fixed-zoom slippy-map tile addressing. A tile is the
// unit of caching and fetching: a rectangular geographic cell identified by
// its quadtree path ("quadkey"). Addressing is pure geometry, so IDs are safe
// to use as cache keys and for equality checks against the tile a coordinate
// falls in.
package tile

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"
)

// DefaultZoom is the zoom level used for tiling unless configured otherwise.
const DefaultZoom maptile.Zoom = 16

// ID identifies a single tile at a fixed zoom. The zero value is the
// whole-world tile at zoom 0.
type ID struct {
	X, Y uint32
	Zoom maptile.Zoom
}

// At returns the ID of the tile containing the given point. Same input always
// yields the same output.
func At(p orb.Point, z maptile.Zoom) ID {
	t := maptile.At(p, z)
	return ID{X: t.X, Y: t.Y, Zoom: t.Z}
}

// FromQuadkey parses a base-4 quadtree path into an ID. The zoom is the
// length of the path.
func FromQuadkey(qk string) (ID, error) {
	var id ID
	if len(qk) > 32 {
		return id, fmt.Errorf("quadkey too long: %d digits", len(qk))
	}
	id.Zoom = maptile.Zoom(len(qk))
	for _, d := range qk {
		id.X <<= 1
		id.Y <<= 1
		switch d {
		case '0':
		case '1':
			id.X |= 1
		case '2':
			id.Y |= 1
		case '3':
			id.X |= 1
			id.Y |= 1
		default:
			return ID{}, errors.New("quadkey contains non base-4 digit")
		}
	}
	return id, nil
}

// Quadkey returns the base-4 quadtree path of the tile. The length of the
// path equals the zoom level.
func (id ID) Quadkey() string {
	buf := make([]byte, id.Zoom)
	for i := maptile.Zoom(0); i < id.Zoom; i++ {
		var d byte = '0'
		mask := uint32(1) << (id.Zoom - i - 1)
		if id.X&mask != 0 {
			d++
		}
		if id.Y&mask != 0 {
			d += 2
		}
		buf[i] = d
	}
	return string(buf)
}

// String returns the quadkey.
func (id ID) String() string {
	return id.Quadkey()
}

func (id ID) mapTile() maptile.Tile {
	return maptile.New(id.X, id.Y, id.Zoom)
}

// Bound returns the geographic extent of the tile.
func (id ID) Bound() orb.Bound {
	return id.mapTile().Bound()
}

// Center returns the center point of the tile.
func (id ID) Center() orb.Point {
	return id.mapTile().Center()
}

// Contains reports whether the point falls within the tile's extent.
func (id ID) Contains(p orb.Point) bool {
	return id.Bound().Contains(p)
}

// Covering returns the set of tiles at zoom z whose extent intersects the
// disc of the given radius, in meters, around center. The tile containing
// center is always included. Tiles that only touch the disc at a boundary may
// or may not be included; over-covering is fine, gaps are not.
func Covering(center orb.Point, radius float64, z maptile.Zoom) Set {
	out := make(Set)
	out.Add(At(center, z))

	// The bound around the center fully contains the disc, so walking its
	// tile range and keeping tiles whose nearest point is within the radius
	// leaves no gaps.
	bound := geo.NewBoundAroundPoint(center, radius)
	nw := maptile.At(orb.Point{bound.Min.Lon(), bound.Max.Lat()}, z)
	se := maptile.At(orb.Point{bound.Max.Lon(), bound.Min.Lat()}, z)

	for x := nw.X; x <= se.X; x++ {
		for y := nw.Y; y <= se.Y; y++ {
			id := ID{X: x, Y: y, Zoom: z}
			if geo.Distance(center, closestPoint(id.Bound(), center)) <= radius {
				out.Add(id)
			}
		}
	}
	return out
}

// closestPoint clamps p into b, giving the point of b nearest to p.
func closestPoint(b orb.Bound, p orb.Point) orb.Point {
	return orb.Point{
		clamp(p.Lon(), b.Min.Lon(), b.Max.Lon()),
		clamp(p.Lat(), b.Min.Lat(), b.Max.Lat()),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
