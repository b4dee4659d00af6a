package fetch

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/vicinitymaps/go-vicinity/tile"
)

const (
	// defaultCacheRadius is the coverage radius around the user, in meters.
	defaultCacheRadius = 1000.0
	// defaultMaxAttempts is the total number of attempts per tile fetch.
	defaultMaxAttempts = 3
	// defaultRecoveryDelay is the fixed delay between recovery retries after
	// entering the error state.
	defaultRecoveryDelay = 30 * time.Second
	// defaultMinInterval and defaultMinDistance filter location updates: an
	// update this soon and this near the previous one is ignored.
	defaultMinInterval = 5 * time.Second
	defaultMinDistance = 25.0
)

type config struct {
	zoom          maptile.Zoom
	cacheRadius   float64
	maxAttempts   int
	recoveryDelay time.Duration
	minInterval   time.Duration
	minDistance   float64
	refPoints     []orb.Point
	guard         CategoryGuard
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		zoom:          tile.DefaultZoom,
		cacheRadius:   defaultCacheRadius,
		maxAttempts:   defaultMaxAttempts,
		recoveryDelay: defaultRecoveryDelay,
		minInterval:   defaultMinInterval,
		minDistance:   defaultMinDistance,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithZoom sets the fixed zoom level used for tiling.
//
// Default is 16.
func WithZoom(z maptile.Zoom) Option {
	return func(cfg *config) error {
		cfg.zoom = z
		return nil
	}
}

// WithCacheRadius sets the coverage radius around the user, in meters.
//
// Default is 1000m.
func WithCacheRadius(radius float64) Option {
	return func(cfg *config) error {
		if radius <= 0 {
			return errors.New("cache radius must be positive")
		}
		cfg.cacheRadius = radius
		return nil
	}
}

// WithMaxAttempts sets the total number of attempts per tile fetch.
//
// Default is 3.
func WithMaxAttempts(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("max attempts must be at least 1")
		}
		cfg.maxAttempts = n
		return nil
	}
}

// WithRecoveryDelay sets the fixed delay between recovery retries after the
// coordinator enters the error state. The retry loop is unbounded; there is
// no exponential backoff.
//
// Default is 30 seconds.
func WithRecoveryDelay(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("recovery delay must be positive")
		}
		cfg.recoveryDelay = d
		return nil
	}
}

// WithUpdateFilter sets the minimum time and distance between accepted
// location updates. An update arriving sooner than minInterval since the last
// accepted one, and closer than minDistance meters to it, is ignored. A zero
// minInterval disables the filter.
func WithUpdateFilter(minInterval time.Duration, minDistance float64) Option {
	return func(cfg *config) error {
		if minInterval < 0 || minDistance < 0 {
			return errors.New("update filter values must not be negative")
		}
		cfg.minInterval = minInterval
		cfg.minDistance = minDistance
		return nil
	}
}

// WithReferencePoints sets pinned destinations or saved reference points
// whose tiles are kept cached independent of proximity to the user.
func WithReferencePoints(points ...orb.Point) Option {
	return func(cfg *config) error {
		cfg.refPoints = points
		return nil
	}
}

// WithCategoryGuard sets the taxonomy version guard run at Start. Without a
// guard, Start skips straight to waiting for a location and fetches are not
// filtered by category.
func WithCategoryGuard(g CategoryGuard) Option {
	return func(cfg *config) error {
		cfg.guard = g
		return nil
	}
}
