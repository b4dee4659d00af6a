// Package tilestore implements the tile-keyed cache of map data records. It
// stores one payload per tile in an embedded datastore, with time-to-live
// semantics: a payload past its expiration is still readable but reports that
// it needs fetching. All multi-record mutations are committed as a single
// batch so partial writes are never observable.
package tilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"

	"github.com/vicinitymaps/go-vicinity/model"
	"github.com/vicinitymaps/go-vicinity/tile"
)

var log = logging.Logger("tilestore")

// ErrNotFound is returned when no payload is stored for a tile, or no record
// matches a key. Callers treat it as a cache miss, not a failure.
var ErrNotFound = errors.New("not found")

const (
	tilePrefix         = "/tiles"
	intersectionPrefix = "/intersections"
)

// Store is the tile cache. It is safe for concurrent use; the underlying
// datastore serializes batch commits independently of any caller locks, so
// callers must not hold their own locks across Store calls if they also take
// those locks inside datastore callbacks.
type Store struct {
	ds  datastore.Batching
	ttl time.Duration
	now func() time.Time

	searchRadius float64
	searchStep   float64
	searchLimit  float64
}

// New creates a tile cache on top of the given datastore.
func New(ds datastore.Batching, options ...Option) (*Store, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	return &Store{
		ds:           ds,
		ttl:          opts.ttl,
		now:          opts.now,
		searchRadius: opts.searchRadius,
		searchStep:   opts.searchStep,
		searchLimit:  opts.searchLimit,
	}, nil
}

func tileKey(id tile.ID) datastore.Key {
	return datastore.NewKey(tilePrefix).ChildString(id.Quadkey())
}

func intersectionKey(id tile.ID, recordKey string) datastore.Key {
	return datastore.NewKey(intersectionPrefix).ChildString(id.Quadkey()).ChildString(recordKey)
}

// Exists reports whether a payload is stored for the tile, regardless of
// expiration. It is only a soft fallback for when the network is unavailable;
// NeedsFetch is the gate for issuing network work.
func (s *Store) Exists(ctx context.Context, id tile.ID) (bool, error) {
	return s.ds.Has(ctx, tileKey(id))
}

// NeedsFetch reports whether the tile is absent or its payload has expired.
// Read errors count as needing a fetch.
func (s *Store) NeedsFetch(ctx context.Context, id tile.ID) bool {
	tp, err := s.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Errorw("Cannot read tile payload, treating as missing", "tile", id, "err", err)
		}
		return true
	}
	return tp.Expired(s.now())
}

// Get returns the stored payload for the tile, expired or not. Returns
// ErrNotFound when the tile has no payload.
func (s *Store) Get(ctx context.Context, id tile.ID) (*model.TilePayload, error) {
	data, err := s.ds.Get(ctx, tileKey(id))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var tp model.TilePayload
	if err = json.Unmarshal(data, &tp); err != nil {
		return nil, fmt.Errorf("cannot decode tile payload: %w", err)
	}
	return &tp, nil
}

// Put stores the payload for the tile, replacing any previous payload. The
// previous payload's intersection records are deleted in the same batch
// before the new ones are written; re-fetching a tile must not leak the old
// intersections. A zero ExpiresAt is replaced with now+TTL.
func (s *Store) Put(ctx context.Context, id tile.ID, tp *model.TilePayload) error {
	if tp.ExpiresAt.IsZero() {
		cp := *tp
		cp.ExpiresAt = s.now().Add(s.ttl)
		tp = &cp
	}

	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return err
	}

	oldKeys, err := s.intersectionKeys(ctx, id)
	if err != nil {
		return err
	}
	for _, k := range oldKeys {
		if err = batch.Delete(ctx, k); err != nil {
			return err
		}
	}

	for i := range tp.Intersections {
		data, err := json.Marshal(&tp.Intersections[i])
		if err != nil {
			return fmt.Errorf("cannot encode intersection: %w", err)
		}
		if err = batch.Put(ctx, intersectionKey(id, tp.Intersections[i].Key), data); err != nil {
			return err
		}
	}

	data, err := json.Marshal(tp)
	if err != nil {
		return fmt.Errorf("cannot encode tile payload: %w", err)
	}
	if err = batch.Put(ctx, tileKey(id), data); err != nil {
		return err
	}
	if err = batch.Commit(ctx); err != nil {
		return err
	}
	log.Debugw("Stored tile payload", "tile", id, "pois", len(tp.POIs), "expires", tp.ExpiresAt)
	return nil
}

// Extend gives the stored payload a fresh expiration without altering its
// contents. Used when the tile service reports the tile as not modified.
// Returns ErrNotFound when the tile has no payload.
func (s *Store) Extend(ctx context.Context, id tile.ID) error {
	tp, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	tp.ExpiresAt = s.now().Add(s.ttl)
	data, err := json.Marshal(tp)
	if err != nil {
		return fmt.Errorf("cannot encode tile payload: %w", err)
	}
	return s.ds.Put(ctx, tileKey(id), data)
}

// ExpireAll forces every stored payload's expiration into the past without
// deleting contents, so NeedsFetch answers true for every tile until it is
// re-fetched or extended.
func (s *Store) ExpireAll(ctx context.Context) error {
	entries, err := s.tileEntries(ctx)
	if err != nil {
		return err
	}

	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return err
	}

	expired := s.now().Add(-time.Second)
	var errs error
	var count int
	for _, entry := range entries {
		entry.payload.ExpiresAt = expired
		data, err := json.Marshal(entry.payload)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err = batch.Put(ctx, datastore.RawKey(entry.key), data); err != nil {
			return err
		}
		count++
	}
	if err = batch.Commit(ctx); err != nil {
		return err
	}
	log.Infow("Expired all cached tiles", "count", count)
	return errs
}

// Clear deletes every stored tile payload and intersection record.
func (s *Store) Clear(ctx context.Context) error {
	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return err
	}
	for _, prefix := range []string{tilePrefix, intersectionPrefix} {
		results, err := s.ds.Query(ctx, dsq.Query{Prefix: prefix, KeysOnly: true})
		if err != nil {
			return err
		}
		for r := range results.Next() {
			if r.Error != nil {
				results.Close()
				return r.Error
			}
			if err = batch.Delete(ctx, datastore.RawKey(r.Entry.Key)); err != nil {
				results.Close()
				return err
			}
		}
		results.Close()
	}
	return batch.Commit(ctx)
}

// Intersections returns the intersection records stored for the tile.
func (s *Store) Intersections(ctx context.Context, id tile.ID) ([]model.Intersection, error) {
	prefix := datastore.NewKey(intersectionPrefix).ChildString(id.Quadkey())
	results, err := s.ds.Query(ctx, dsq.Query{Prefix: prefix.String()})
	if err != nil {
		return nil, err
	}
	defer results.Close()

	var out []model.Intersection
	for r := range results.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		var n model.Intersection
		if err = json.Unmarshal(r.Entry.Value, &n); err != nil {
			return nil, fmt.Errorf("cannot decode intersection %s: %w", r.Entry.Key, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// RoadByKey resolves a road by its stable key, searching every cached tile.
// Intersections reference roads this way so that a road crossing a tile
// boundary never requires a cross-tile object graph. Returns ErrNotFound when
// no cached tile holds the road.
func (s *Store) RoadByKey(ctx context.Context, key string) (*model.Road, error) {
	var road *model.Road
	err := s.eachPayload(ctx, func(tp *model.TilePayload) bool {
		road = tp.RoadByKey(key)
		return road == nil
	})
	if err != nil {
		return nil, err
	}
	if road == nil {
		return nil, ErrNotFound
	}
	return road, nil
}

func (s *Store) intersectionKeys(ctx context.Context, id tile.ID) ([]datastore.Key, error) {
	prefix := datastore.NewKey(intersectionPrefix).ChildString(id.Quadkey())
	results, err := s.ds.Query(ctx, dsq.Query{Prefix: prefix.String(), KeysOnly: true})
	if err != nil {
		return nil, err
	}
	defer results.Close()

	var keys []datastore.Key
	for r := range results.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		keys = append(keys, datastore.RawKey(r.Entry.Key))
	}
	return keys, nil
}

// eachPayload decodes every stored payload and calls visit until it returns
// false.
func (s *Store) eachPayload(ctx context.Context, visit func(*model.TilePayload) bool) error {
	results, err := s.ds.Query(ctx, dsq.Query{Prefix: tilePrefix})
	if err != nil {
		return err
	}
	defer results.Close()

	for r := range results.Next() {
		if r.Error != nil {
			return r.Error
		}
		var tp model.TilePayload
		if err = json.Unmarshal(r.Entry.Value, &tp); err != nil {
			return fmt.Errorf("cannot decode %s: %w", r.Entry.Key, err)
		}
		if !visit(&tp) {
			return nil
		}
	}
	return nil
}

type tileEntry struct {
	key     string
	payload *model.TilePayload
}

// tileEntries materializes every stored payload along with its raw key, so
// that a caller can modify payloads while no query is open against the
// datastore.
func (s *Store) tileEntries(ctx context.Context) ([]tileEntry, error) {
	results, err := s.ds.Query(ctx, dsq.Query{Prefix: tilePrefix})
	if err != nil {
		return nil, err
	}
	defer results.Close()

	var out []tileEntry
	for r := range results.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		var tp model.TilePayload
		if err = json.Unmarshal(r.Entry.Value, &tp); err != nil {
			return nil, fmt.Errorf("cannot decode %s: %w", r.Entry.Key, err)
		}
		out = append(out, tileEntry{key: r.Entry.Key, payload: &tp})
	}
	return out, nil
}

// putRaw rewrites the payload blob at a raw datastore key.
func (s *Store) putRaw(ctx context.Context, rawKey string, tp *model.TilePayload) error {
	data, err := json.Marshal(tp)
	if err != nil {
		return fmt.Errorf("cannot encode tile payload: %w", err)
	}
	return s.ds.Put(ctx, datastore.RawKey(rawKey), data)
}
