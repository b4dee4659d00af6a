package tilestore

import (
	"errors"
	"fmt"
	"time"
)

const (
	// defaultTTL is how long a stored payload stays fresh.
	defaultTTL = 7 * 24 * time.Hour
	// defaultSearchRadius is the initial nearby-POI search distance, in
	// meters.
	defaultSearchRadius = 250.0
	// defaultSearchStep is how much the nearby-POI search distance grows per
	// expansion, in meters.
	defaultSearchStep = 250.0
	// defaultSearchLimit is the distance, in meters, past which a nearby-POI
	// search gives up.
	defaultSearchLimit = 2000.0
)

type config struct {
	ttl          time.Duration
	now          func() time.Time
	searchRadius float64
	searchStep   float64
	searchLimit  float64
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		ttl:          defaultTTL,
		now:          time.Now,
		searchRadius: defaultSearchRadius,
		searchStep:   defaultSearchStep,
		searchLimit:  defaultSearchLimit,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithTTL sets how long stored payloads stay fresh.
//
// Default is 7 days.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config) error {
		if ttl <= 0 {
			return errors.New("ttl must be positive")
		}
		cfg.ttl = ttl
		return nil
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now != nil {
			cfg.now = now
		}
		return nil
	}
}

// WithSearchExpansion sets the initial nearby-POI search distance, the
// per-expansion increment, and the distance at which the search gives up, all
// in meters.
func WithSearchExpansion(initial, step, limit float64) Option {
	return func(cfg *config) error {
		if initial <= 0 || step <= 0 || limit < initial {
			return errors.New("invalid search expansion distances")
		}
		cfg.searchRadius = initial
		cfg.searchStep = step
		cfg.searchLimit = limit
		return nil
	}
}
