// Package client implements the network tile service collaborator over HTTP.
// Tile payloads are fetched by quadkey with conditional-fetch semantics: the
// freshness tag of a cached payload is sent as If-None-Match, and a 304
// response means the cached contents are still current and only need their
// expiration extended.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	logging "github.com/ipfs/go-log/v2"

	"github.com/vicinitymaps/go-vicinity/apierror"
	"github.com/vicinitymaps/go-vicinity/fetch"
	"github.com/vicinitymaps/go-vicinity/model"
	"github.com/vicinitymaps/go-vicinity/tile"
)

var log = logging.Logger("client")

const tilePath = "tiles"

// Client is an HTTP implementation of fetch.Fetcher. Transient failures are
// retried with backoff up to the attempt budget given per call, and only the
// final error is surfaced.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// New creates a tile service client for the given base URL.
func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:      u,
		httpClient:   opts.httpClient,
		retryWaitMin: opts.retryWaitMin,
		retryWaitMax: opts.retryWaitMax,
	}, nil
}

// Fetch implements fetch.Fetcher.
func (c *Client) Fetch(ctx context.Context, id tile.ID, categories []string, freshnessTag string, maxAttempts int) (*fetch.Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	rclient := &retryablehttp.Client{
		HTTPClient:   c.httpClient,
		RetryWaitMin: c.retryWaitMin,
		RetryWaitMax: c.retryWaitMax,
		RetryMax:     maxAttempts - 1,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}

	u := c.baseURL.JoinPath(tilePath, id.Quadkey())
	if len(categories) != 0 {
		q := u.Query()
		q.Set("category", strings.Join(categories, ","))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if freshnessTag != "" {
		req.Header.Set("If-None-Match", freshnessTag)
	}

	resp, err := rclient.StandardClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch tile %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		log.Debugw("Tile not modified", "tile", id)
		return &fetch.Result{
			NotModified:  true,
			FreshnessTag: freshnessTag,
		}, nil
	case http.StatusOK:
	default:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err != nil {
			return nil, err
		}
		return nil, apierror.FromResponse(resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var tp model.TilePayload
	if err = json.Unmarshal(body, &tp); err != nil {
		return nil, fmt.Errorf("cannot decode tile payload: %w", err)
	}
	return &fetch.Result{
		FreshnessTag: resp.Header.Get("Etag"),
		Payload:      &tp,
	}, nil
}
