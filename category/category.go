// Package category loads the versioned POI taxonomy and guards the tile
// cache against taxonomy version changes. Tiles fetched under an old taxonomy
// carry stale category tags, so a version change forces every cached tile to
// be treated as expired. Nothing is deleted; the next reconciliation
// re-fetches with correctly assigned categories.
package category

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("category")

// ErrBadTaxonomy indicates the taxonomy resource is missing or corrupt. The
// cache cannot become ready without a taxonomy.
var ErrBadTaxonomy = errors.New("bad category taxonomy")

var versionKey = datastore.NewKey("/meta/category-version")

// Category is one entry of the POI taxonomy.
type Category struct {
	// Tag is the stable identifier assigned to POIs.
	Tag string `json:"tag"`
	// Names maps a language code to the display name.
	Names map[string]string `json:"names,omitempty"`
}

// Taxonomy is the versioned category list.
type Taxonomy struct {
	Version    int        `json:"version"`
	Categories []Category `json:"categories"`
}

// Tags returns the category tags, for use as a fetch filter.
func (t *Taxonomy) Tags() []string {
	tags := make([]string, len(t.Categories))
	for i, c := range t.Categories {
		tags[i] = c.Tag
	}
	return tags
}

// Loader supplies the taxonomy resource.
type Loader interface {
	Load(ctx context.Context) (*Taxonomy, error)
}

// BytesLoader loads a taxonomy from in-memory JSON.
type BytesLoader []byte

func (b BytesLoader) Load(_ context.Context) (*Taxonomy, error) {
	var t Taxonomy
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTaxonomy, err)
	}
	if len(t.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrBadTaxonomy)
	}
	return &t, nil
}

// FileLoader loads a taxonomy from a JSON file.
type FileLoader string

func (f FileLoader) Load(ctx context.Context) (*Taxonomy, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTaxonomy, err)
	}
	return BytesLoader(data).Load(ctx)
}

// Expirer is the part of the tile cache the guard needs: forcing every stored
// tile to be treated as stale.
type Expirer interface {
	ExpireAll(ctx context.Context) error
}

// Guard detects taxonomy version changes across process runs.
type Guard struct {
	ds      datastore.Datastore
	loader  Loader
	expirer Expirer
}

// NewGuard creates a guard that persists the seen taxonomy version in ds and
// calls expirer when the version changes.
func NewGuard(ds datastore.Datastore, loader Loader, expirer Expirer) *Guard {
	return &Guard{
		ds:      ds,
		loader:  loader,
		expirer: expirer,
	}
}

// Ensure loads the taxonomy and reconciles its version with the persisted
// one. On first run the version is persisted with no invalidation. When the
// version differs from the persisted one, the new version is persisted and
// every cached tile is expired.
func (g *Guard) Ensure(ctx context.Context) (*Taxonomy, error) {
	taxonomy, err := g.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	stored, err := g.storedVersion(ctx)
	if err != nil {
		return nil, err
	}

	if stored != nil && *stored == taxonomy.Version {
		return taxonomy, nil
	}

	if err = g.ds.Put(ctx, versionKey, []byte(strconv.Itoa(taxonomy.Version))); err != nil {
		return nil, fmt.Errorf("cannot persist taxonomy version: %w", err)
	}

	if stored == nil {
		log.Infow("Recorded initial taxonomy version", "version", taxonomy.Version)
		return taxonomy, nil
	}

	log.Infow("Taxonomy version changed, expiring all cached tiles", "old", *stored, "new", taxonomy.Version)
	if err = g.expirer.ExpireAll(ctx); err != nil {
		return nil, fmt.Errorf("cannot expire cached tiles: %w", err)
	}
	return taxonomy, nil
}

func (g *Guard) storedVersion(ctx context.Context) (*int, error) {
	data, err := g.ds.Get(ctx, versionKey)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return nil, fmt.Errorf("corrupt persisted taxonomy version: %w", err)
	}
	return &v, nil
}
