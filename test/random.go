// Package test provides random test data generators.
package test

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/vicinitymaps/go-vicinity/model"
	"github.com/vicinitymaps/go-vicinity/tile"
)

var globalSeed atomic.Int64

// RandomPoints returns n random points within roughly spread degrees of near.
func RandomPoints(n int, near orb.Point, spread float64) []orb.Point {
	rng := rand.New(rand.NewSource(globalSeed.Add(1)))
	points := make([]orb.Point, n)
	for i := 0; i < n; i++ {
		points[i] = orb.Point{
			near.Lon() + (rng.Float64()*2-1)*spread,
			near.Lat() + (rng.Float64()*2-1)*spread,
		}
	}
	return points
}

// RandomTiles returns n random unique tile IDs at zoom z.
func RandomTiles(n int, z maptile.Zoom) []tile.ID {
	rng := rand.New(rand.NewSource(globalSeed.Add(1)))
	max := uint32(1) << z
	tiles := make([]tile.ID, n)
	set := make(map[tile.ID]struct{})
	for i := 0; i < n; i++ {
		id := tile.ID{X: rng.Uint32() % max, Y: rng.Uint32() % max, Zoom: z}
		if _, ok := set[id]; ok {
			i--
			continue
		}
		set[id] = struct{}{}
		tiles[i] = id
	}
	return tiles
}

// RandomPOIs returns n random POIs with unique keys near the given point.
func RandomPOIs(n int, near orb.Point) []model.POI {
	points := RandomPoints(n, near, 0.002)
	pois := make([]model.POI, n)
	for i := 0; i < n; i++ {
		seq := globalSeed.Add(1)
		pois[i] = model.POI{
			Key:      fmt.Sprintf("poi-%d", seq),
			Names:    map[string]string{"en": fmt.Sprintf("Place %d", seq)},
			Category: "amenity",
			Geometry: model.PointGeometry(points[i]),
		}
	}
	return pois
}

// RandomPayload returns a payload for the tile with a few POIs, one road, and
// one intersection on that road, expiring in an hour.
func RandomPayload(id tile.ID) *model.TilePayload {
	center := id.Center()
	seq := globalSeed.Add(1)
	roadKey := fmt.Sprintf("road-%d", seq)
	return &model.TilePayload{
		POIs: RandomPOIs(3, center),
		Roads: []model.Road{{
			Key:   roadKey,
			Names: map[string]string{"en": fmt.Sprintf("Street %d", seq)},
		}},
		Intersections: []model.Intersection{{
			Key:      fmt.Sprintf("node-%d", seq),
			Position: center,
			RoadKeys: []string{roadKey},
		}},
		FreshnessTag: fmt.Sprintf("v%d", seq),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}
