// Package fetch keeps the tile cache synchronized with the user's location.
//
// The Coordinator reconciles the set of tiles currently tracked against the
// set needed for a location: tiles still relevant stay tracked, missing tiles
// are fetched concurrently, one goroutine per tile, with retry handled by the
// Fetcher. A round is complete exactly when the tracked-tile count plus the
// canceled count reaches the count expected when the round started.
//
// A failure on the user's own tile is a hard signal that the user is offline
// or in an unsupported region, and forces the error state even when every
// other tile succeeds. The error state starts a background recovery loop that
// retries at a fixed delay until both a location and network connectivity are
// available.
//
// Notifications are distributed to OnUpdate readers by a single goroutine, so
// readers never see concurrent or out-of-order notifications for a round.
package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/channelqueue"
	logging "github.com/ipfs/go-log/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"

	"github.com/vicinitymaps/go-vicinity/tile"
)

var log = logging.Logger("fetch")

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
	// ErrUpdateInProgress is returned when a reconciliation round is already
	// running. Callers treat it as a no-op: a notification arrives when the
	// running round completes.
	ErrUpdateInProgress = errors.New("update already in progress")
	// ErrNotStarted is returned by operations that need Start to have run.
	ErrNotStarted = errors.New("coordinator not started")
)

// Coordinator drives tile fetching for the process. Construct one per
// process and inject it into consumers; all of its mutable state lives behind
// its own mutex.
type Coordinator struct {
	store   TileStore
	fetcher Fetcher

	zoom          maptile.Zoom
	cacheRadius   float64
	maxAttempts   int
	recoveryDelay time.Duration
	minInterval   time.Duration
	minDistance   float64
	guard         CategoryGuard

	// mutex guards all fields below. It is never held across a store or
	// fetcher call; the store serializes its own transactions independently.
	mutex         sync.Mutex
	state         State
	tracked       tile.Set
	expected      int
	canceled      int
	inProgress    bool
	prioritized   bool
	current       tile.ID
	categories    []string
	refPoints     []orb.Point
	lastLocation  *orb.Point
	lastUpdate    time.Time
	netAvailable  bool
	recoveryTimer *time.Timer
	closed        bool

	// inEvents carries notifications to the distributeEvents goroutine.
	inEvents     chan Notification
	addEventChan chan chan<- Notification
	rmEventChan  chan chan<- Notification

	closing   chan struct{}
	closeOnce sync.Once
	asyncWG   sync.WaitGroup
}

// NewCoordinator creates a coordinator over the given tile store and fetcher.
// The initial state is loadingCategories; call Start to run the category
// guard and begin accepting location updates.
func NewCoordinator(store TileStore, fetcher Fetcher, options ...Option) (*Coordinator, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		store:   store,
		fetcher: fetcher,

		zoom:          opts.zoom,
		cacheRadius:   opts.cacheRadius,
		maxAttempts:   opts.maxAttempts,
		recoveryDelay: opts.recoveryDelay,
		minInterval:   opts.minInterval,
		minDistance:   opts.minDistance,
		guard:         opts.guard,
		refPoints:     opts.refPoints,

		state:        StateLoadingCategories,
		tracked:      make(tile.Set),
		netAvailable: true,

		inEvents:     make(chan Notification, 128),
		addEventChan: make(chan chan<- Notification),
		rmEventChan:  make(chan chan<- Notification),
		closing:      make(chan struct{}),
	}

	go c.distributeEvents()

	return c, nil
}

// Start runs the category guard and moves to waitingForLocation. If a
// location was already recorded, a reconciliation begins immediately. A guard
// failure leaves the coordinator in the error state with no recovery loop;
// the taxonomy is a configuration problem, not a transient one.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.guard != nil {
		taxonomy, err := c.guard.Ensure(ctx)
		if err != nil {
			c.mutex.Lock()
			if !c.closed {
				c.setStateLocked(StateError)
			}
			c.mutex.Unlock()
			return err
		}
		c.mutex.Lock()
		c.categories = taxonomy.Tags()
		c.mutex.Unlock()
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return ErrClosed
	}
	c.setStateLocked(StateWaitingForLocation)
	loc := c.lastLocation
	c.mutex.Unlock()

	if loc == nil {
		return nil
	}
	err := c.Reconcile(ctx, *loc, true, c.store.NeedsFetch(ctx, tile.At(*loc, c.zoom)))
	if errors.Is(err, ErrUpdateInProgress) {
		return nil
	}
	return err
}

// Update feeds a location update into the coordinator. Updates arriving both
// sooner than the configured minimum interval and closer than the minimum
// distance since the last accepted update are ignored. Before Start
// completes, the location is recorded for later but no round begins.
func (c *Coordinator) Update(ctx context.Context, loc orb.Point) error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return ErrClosed
	}
	if c.lastLocation != nil && c.minInterval > 0 &&
		time.Since(c.lastUpdate) < c.minInterval &&
		geo.Distance(loc, *c.lastLocation) < c.minDistance {
		c.mutex.Unlock()
		return nil
	}
	c.lastLocation = &loc
	c.lastUpdate = time.Now()
	if c.state == StateLoadingCategories {
		c.mutex.Unlock()
		return nil
	}
	c.mutex.Unlock()

	// Fetch only the user's own tile first when it is not cached yet; the
	// full radius is backfilled right after that round completes.
	prioritize := c.store.NeedsFetch(ctx, tile.At(loc, c.zoom))

	err := c.Reconcile(ctx, loc, true, prioritize)
	if errors.Is(err, ErrUpdateInProgress) {
		return nil
	}
	return err
}

// Reconcile runs one coordinator round for the location: compute the needed
// tile set, keep the tracked tiles still relevant, and fetch the rest
// concurrently. Returns ErrUpdateInProgress when a round is already running.
//
// In prioritized mode the needed set is only the user's own tile (plus
// reference tiles when included), replacing the tracked set outright. This is
// the fast path for the first answer when the immediate tile is not cached;
// it deliberately ignores the coverage radius.
func (c *Coordinator) Reconcile(ctx context.Context, loc orb.Point, includeRefs, prioritizeCurrent bool) error {
	current := tile.At(loc, c.zoom)

	var needed tile.Set
	if prioritizeCurrent {
		needed = tile.NewSet(current)
	} else {
		needed = tile.Covering(loc, c.cacheRadius, c.zoom)
	}
	if includeRefs {
		for _, p := range c.ReferencePoints() {
			needed.Add(tile.At(p, c.zoom))
		}
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return ErrClosed
	}
	if c.inProgress {
		c.mutex.Unlock()
		return ErrUpdateInProgress
	}

	var remaining tile.Set
	if prioritizeCurrent {
		remaining = make(tile.Set)
	} else {
		remaining = c.tracked.Intersect(needed)
	}
	toFetch := needed.Diff(remaining)

	c.tracked = remaining
	c.current = current
	c.expected = len(remaining) + len(toFetch)
	c.canceled = 0
	c.prioritized = prioritizeCurrent
	c.lastLocation = &loc

	if len(toFetch) == 0 {
		c.setStateLocked(StateReady)
		c.emitLocked(Notification{Type: LocationUpdated, State: c.state, Location: loc})
		c.mutex.Unlock()
		return nil
	}

	c.inProgress = true
	c.setStateLocked(StateLoading)
	if !toFetch.Has(current) {
		// The current tile is already cached, so the immediate vicinity can
		// be answered before any network call completes.
		c.emitLocked(Notification{Type: LocationUpdated, State: c.state, Location: loc})
	}
	categories := c.categories
	c.asyncWG.Add(len(toFetch))
	c.mutex.Unlock()

	log.Debugw("Reconciliation round started", "toFetch", len(toFetch), "remaining", len(remaining), "prioritized", prioritizeCurrent)
	for id := range toFetch {
		go c.fetchTile(ctx, id, loc, current, categories)
	}
	return nil
}

// fetchTile is the per-tile round task. A tile that no longer needs fetching
// counts as an immediate success with no network call.
func (c *Coordinator) fetchTile(ctx context.Context, id tile.ID, loc orb.Point, current tile.ID, categories []string) {
	defer c.asyncWG.Done()

	if !c.store.NeedsFetch(ctx, id) {
		c.tileDone(id, loc, current, nil)
		return
	}

	var freshnessTag string
	if tp, err := c.store.Get(ctx, id); err == nil {
		freshnessTag = tp.FreshnessTag
	}

	res, err := c.fetcher.Fetch(ctx, id, categories, freshnessTag, c.maxAttempts)
	if err == nil {
		if res.NotModified {
			err = c.store.Extend(ctx, id)
		} else {
			payload := res.Payload
			payload.FreshnessTag = res.FreshnessTag
			err = c.store.Put(ctx, id, payload)
		}
	}
	c.tileDone(id, loc, current, err)
}

// tileDone records one task outcome and completes the round when the
// counting invariant is met.
func (c *Coordinator) tileDone(id tile.ID, loc orb.Point, current tile.ID, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil {
		c.canceled++
		log.Errorw("Tile fetch failed", "tile", id, "err", err)
		if id == current {
			// The user's own tile failed: offline or unsupported region.
			// Sibling tasks keep running; the round still completes.
			c.setStateLocked(StateError)
			c.scheduleRecoveryLocked()
		}
	} else {
		c.tracked.Add(id)
		if id == current {
			c.emitLocked(Notification{Type: LocationUpdated, State: c.state, Location: loc, TilesChanged: true})
		}
	}

	c.checkDoneLocked(loc)
}

// checkDoneLocked finishes the round once |tracked| + canceled == expected.
// Caller holds the mutex.
func (c *Coordinator) checkDoneLocked(loc orb.Point) {
	if !c.inProgress || len(c.tracked)+c.canceled != c.expected {
		return
	}
	c.inProgress = false
	wasPrioritized := c.prioritized
	c.prioritized = false

	if c.state != StateError {
		c.setStateLocked(StateReady)
	}
	c.emitLocked(Notification{Type: LocationUpdated, State: c.state, Location: loc, TilesChanged: true})
	log.Debugw("Reconciliation round complete", "tracked", len(c.tracked), "canceled", c.canceled)

	if wasPrioritized && !c.closed {
		// The fast path only fetched the user's own tile; backfill the rest
		// of the coverage radius right away.
		c.asyncWG.Add(1)
		go func() {
			defer c.asyncWG.Done()
			err := c.Reconcile(context.Background(), loc, true, false)
			if err != nil && !errors.Is(err, ErrUpdateInProgress) && !errors.Is(err, ErrClosed) {
				log.Errorw("Backfill reconciliation failed", "err", err)
			}
		}()
	}
}

// SetNetworkAvailable feeds connectivity changes into the coordinator.
// Restored connectivity cancels any pending recovery wait and reconciles
// immediately.
func (c *Coordinator) SetNetworkAvailable(ctx context.Context, available bool) {
	c.mutex.Lock()
	c.netAvailable = available
	var loc *orb.Point
	if available && c.recoveryTimer != nil {
		c.recoveryTimer.Stop()
		c.recoveryTimer = nil
		loc = c.lastLocation
	}
	c.mutex.Unlock()

	if loc == nil {
		return
	}
	err := c.Reconcile(ctx, *loc, true, false)
	if err != nil && !errors.Is(err, ErrUpdateInProgress) && !errors.Is(err, ErrClosed) {
		log.Errorw("Reconciliation after connectivity restore failed", "err", err)
	}
}

// scheduleRecoveryLocked arms the one-shot recovery timer if it is not
// already pending. Caller holds the mutex.
func (c *Coordinator) scheduleRecoveryLocked() {
	if c.recoveryTimer != nil || c.closed {
		return
	}
	c.recoveryTimer = time.AfterFunc(c.recoveryDelay, c.recoverFromError)
}

// recoverFromError fires on the recovery timer. While the location or the
// network is still missing it re-arms the timer with the same fixed delay;
// otherwise it reconciles.
func (c *Coordinator) recoverFromError() {
	c.mutex.Lock()
	c.recoveryTimer = nil
	if c.closed {
		c.mutex.Unlock()
		return
	}
	if c.lastLocation == nil || !c.netAvailable {
		c.scheduleRecoveryLocked()
		c.mutex.Unlock()
		return
	}
	loc := *c.lastLocation
	c.mutex.Unlock()

	err := c.Reconcile(context.Background(), loc, true, false)
	if err != nil && !errors.Is(err, ErrUpdateInProgress) && !errors.Is(err, ErrClosed) {
		log.Errorw("Recovery reconciliation failed", "err", err)
		c.mutex.Lock()
		c.scheduleRecoveryLocked()
		c.mutex.Unlock()
	}
}

// ClearCache deletes all persisted tile data and forgets the tracked set. If
// a location is known, a full reconciliation with reference tiles included
// starts immediately.
func (c *Coordinator) ClearCache(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return err
	}

	c.mutex.Lock()
	c.tracked = make(tile.Set)
	loc := c.lastLocation
	c.mutex.Unlock()

	if loc == nil {
		return nil
	}
	err := c.Reconcile(ctx, *loc, true, false)
	if errors.Is(err, ErrUpdateInProgress) {
		return nil
	}
	return err
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Tracked returns a copy of the tracked tile set.
func (c *Coordinator) Tracked() tile.Set {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.tracked.Clone()
}

// RoundStats reports the counters of the most recent reconciliation round:
// how many tiles the round expected to account for, how many are tracked, and
// how many fetches were canceled after exhausting their attempts.
func (c *Coordinator) RoundStats() (expected, tracked, canceled int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.expected, len(c.tracked), c.canceled
}

// CurrentTile returns the tile of the last reconciled location.
func (c *Coordinator) CurrentTile() tile.ID {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.current
}

// SetReferencePoints replaces the pinned reference points. Their tiles join
// the needed set of subsequent rounds.
func (c *Coordinator) SetReferencePoints(points ...orb.Point) {
	c.mutex.Lock()
	c.refPoints = points
	c.mutex.Unlock()
}

// ReferencePoints returns the pinned reference points.
func (c *Coordinator) ReferencePoints() []orb.Point {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]orb.Point, len(c.refPoints))
	copy(out, c.refPoints)
	return out
}

// setStateLocked transitions the lifecycle state and notifies observers.
// Caller holds the mutex.
func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	log.Infow("State changed", "from", c.state, "to", s)
	c.state = s
	c.emitLocked(Notification{Type: StateChanged, State: s})
}

// emitLocked hands a notification to the distributor. Caller holds the
// mutex, which keeps emission order consistent with state changes.
func (c *Coordinator) emitLocked(n Notification) {
	c.inEvents <- n
}

// OnUpdate creates a channel that receives notifications, and adds that
// channel to the list of notification channels.
//
// Calling the returned cancel function removes the notification channel from
// the list of channels to be notified, and closes the channel so reading
// goroutines stop waiting on it.
func (c *Coordinator) OnUpdate() (<-chan Notification, context.CancelFunc) {
	// Channel is buffered to prevent the distributor from blocking if a
	// reader is not reading the channel immediately.
	cq := channelqueue.New[Notification](-1)
	ch := cq.In()
	c.addEventChan <- ch

	cncl := func() {
		if ch == nil {
			return
		}
		select {
		case c.rmEventChan <- ch:
		case <-c.closing:
		}
		ch = nil
	}
	return cq.Out(), cncl
}

// distributeEvents copies each notification to every OnUpdate channel, in
// order, from a single goroutine.
func (c *Coordinator) distributeEvents() {
	var outEventsChans []chan<- Notification

	for {
		select {
		case event, ok := <-c.inEvents:
			if !ok {
				for _, ch := range outEventsChans {
					close(ch)
				}
				return
			}
			for _, ch := range outEventsChans {
				ch <- event
			}
		case ch := <-c.addEventChan:
			outEventsChans = append(outEventsChans, ch)
		case ch := <-c.rmEventChan:
			for i, ca := range outEventsChans {
				if ca == ch {
					outEventsChans[i] = outEventsChans[len(outEventsChans)-1]
					outEventsChans[len(outEventsChans)-1] = nil
					outEventsChans = outEventsChans[:len(outEventsChans)-1]
					close(ch)
					break
				}
			}
		}
	}
}

// Close shuts the coordinator down: no new rounds start, running tasks are
// waited for, and notification channels are closed. Close is idempotent.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		c.closed = true
		if c.recoveryTimer != nil {
			c.recoveryTimer.Stop()
			c.recoveryTimer = nil
		}
		c.mutex.Unlock()

		close(c.closing)
		c.asyncWG.Wait()
		close(c.inEvents)
	})
	return nil
}
