package client

import (
	"fmt"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 10 * time.Second
)

type config struct {
	httpClient   *http.Client
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		retryWaitMin: defaultRetryWaitMin,
		retryWaitMax: defaultRetryWaitMax,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithClient allows creation of the tile client using an underlying network
// round tripper / client. The client's timeout applies per attempt.
func WithClient(c *http.Client) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.httpClient = c
		}
		return nil
	}
}

// WithRetryWait sets the minimum and maximum wait between retry attempts.
func WithRetryWait(min, max time.Duration) Option {
	return func(cfg *config) error {
		cfg.retryWaitMin = min
		cfg.retryWaitMax = max
		return nil
	}
}
