package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vicinitymaps/go-vicinity/apierror"
	"github.com/vicinitymaps/go-vicinity/client"
	"github.com/vicinitymaps/go-vicinity/test"
)

func fastClient(t *testing.T, baseURL string) *client.Client {
	t.Helper()
	c, err := client.New(baseURL, client.WithRetryWait(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestFetchDecodesPayload(t *testing.T) {
	id := test.RandomTiles(1, 16)[0]
	tp := test.RandomPayload(id)

	var gotPath, gotCategory, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCategory = r.URL.Query().Get("category")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Etag", `"payload-v2"`)
		require.NoError(t, json.NewEncoder(w).Encode(tp))
	}))
	defer server.Close()

	c := fastClient(t, server.URL)
	res, err := c.Fetch(context.Background(), id, []string{"amenity", "shop"}, "", 3)
	require.NoError(t, err)
	require.False(t, res.NotModified)
	require.Equal(t, `"payload-v2"`, res.FreshnessTag)
	require.NotNil(t, res.Payload)
	require.Len(t, res.Payload.POIs, len(tp.POIs))
	require.Equal(t, tp.POIs[0].Key, res.Payload.POIs[0].Key)

	require.Equal(t, "/tiles/"+id.Quadkey(), gotPath)
	require.Equal(t, "amenity,shop", gotCategory)
	require.Equal(t, "application/json", gotAccept)
}

func TestFetchNotModified(t *testing.T) {
	id := test.RandomTiles(1, 16)[0]
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"payload-v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		http.Error(w, "expected conditional fetch", http.StatusBadRequest)
	}))
	defer server.Close()

	c := fastClient(t, server.URL)
	res, err := c.Fetch(context.Background(), id, nil, `"payload-v1"`, 3)
	require.NoError(t, err)
	require.True(t, res.NotModified)
	require.Equal(t, `"payload-v1"`, res.FreshnessTag)
	require.Nil(t, res.Payload)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	id := test.RandomTiles(1, 16)[0]
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "try again later", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := fastClient(t, server.URL)
	_, err := c.Fetch(context.Background(), id, nil, "", 3)
	require.Error(t, err)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchRecoversWithinBudget(t *testing.T) {
	id := test.RandomTiles(1, 16)[0]
	tp := test.RandomPayload(id)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "try again later", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(tp))
	}))
	defer server.Close()

	c := fastClient(t, server.URL)
	res, err := c.Fetch(context.Background(), id, nil, "", 3)
	require.NoError(t, err)
	require.NotNil(t, res.Payload)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchPermanentFailure(t *testing.T) {
	id := test.RandomTiles(1, 16)[0]
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such tile", http.StatusNotFound)
	}))
	defer server.Close()

	c := fastClient(t, server.URL)
	_, err := c.Fetch(context.Background(), id, nil, "", 3)
	require.Error(t, err)

	var apierr *apierror.Error
	require.ErrorAs(t, err, &apierr)
	require.Equal(t, http.StatusNotFound, apierr.Status())
	require.Contains(t, apierr.Error(), "no such tile")
	// Client errors are not worth retrying.
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchBadPayload(t *testing.T) {
	id := test.RandomTiles(1, 16)[0]
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte("{not json"))
		require.NoError(t, err)
	}))
	defer server.Close()

	c := fastClient(t, server.URL)
	_, err := c.Fetch(context.Background(), id, nil, "", 1)
	require.ErrorContains(t, err, "cannot decode tile payload")
}
