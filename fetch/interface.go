package fetch

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/vicinitymaps/go-vicinity/category"
	"github.com/vicinitymaps/go-vicinity/model"
	"github.com/vicinitymaps/go-vicinity/tile"
)

// Result is the outcome of a successful tile fetch: either the tile is
// unchanged since the given freshness tag, or a new payload with a new tag.
type Result struct {
	// NotModified is true when the service reports the tile unchanged for
	// the freshness tag sent with the request.
	NotModified bool
	// FreshnessTag is the service's version token for the returned payload.
	FreshnessTag string
	// Payload holds the tile contents when NotModified is false.
	Payload *model.TilePayload
}

// Fetcher retrieves tile data from the tile service. Implementations must
// retry transient failures up to maxAttempts total attempts and surface only
// the final error. A freshnessTag from a previously stored payload enables a
// conditional fetch; pass "" when nothing is cached.
type Fetcher interface {
	Fetch(ctx context.Context, id tile.ID, categories []string, freshnessTag string, maxAttempts int) (*Result, error)
}

// CategoryGuard reconciles the POI taxonomy version with the cache at
// startup.
type CategoryGuard interface {
	Ensure(ctx context.Context) (*category.Taxonomy, error)
}

// TileStore is the part of the tile cache the coordinator drives.
type TileStore interface {
	NeedsFetch(ctx context.Context, id tile.ID) bool
	Get(ctx context.Context, id tile.ID) (*model.TilePayload, error)
	Put(ctx context.Context, id tile.ID, tp *model.TilePayload) error
	Extend(ctx context.Context, id tile.ID) error
	Clear(ctx context.Context) error
}

// NotificationType says what a Notification reports.
type NotificationType int

const (
	// StateChanged reports a lifecycle state transition.
	StateChanged NotificationType = iota
	// LocationUpdated reports that data for the current location is
	// available, or has changed.
	LocationUpdated
)

// Notification is delivered to OnUpdate readers. All notifications pass
// through a single distributor goroutine, so readers never observe
// out-of-order notifications for the same round.
type Notification struct {
	Type NotificationType
	// State is the lifecycle state at the time of the notification.
	State State
	// Location is the location the notification pertains to. Only set for
	// LocationUpdated.
	Location orb.Point
	// TilesChanged is true when tile contents changed since the previous
	// LocationUpdated notification.
	TilesChanged bool
}
