package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// CollectionOptions describes the rows a PatchedCollection mirrors.
type CollectionOptions struct {
	Channel string
	Table   string
	Filter  map[string]any
	Events  []string
}

// PatchedCollection keeps a local copy of one filtered table in sync with
// the change feed. The subscription is opened before the initial fetch and
// events that arrive while the fetch is in flight are buffered and replayed
// on top of the fetched rows.
type PatchedCollection struct {
	registry *Registry
	fetcher  ports.RowFetcher
	opts     CollectionOptions
	log      zerolog.Logger

	mu      sync.Mutex
	rows    Collection
	loaded  bool
	pending []domain.ChangeEvent
	mounted bool
	stale   bool
	sub     *Subscription
	cancel  context.CancelFunc

	notifyMu  sync.Mutex
	listeners map[int]func(Collection)
	nextID    int
}

func NewPatchedCollection(registry *Registry, fetcher ports.RowFetcher, opts CollectionOptions, log zerolog.Logger) *PatchedCollection {
	if opts.Channel == "" {
		opts.Channel = "collection:" + opts.Table
	}
	return &PatchedCollection{
		registry:  registry,
		fetcher:   fetcher,
		opts:      opts,
		log:       log.With().Str("channel", opts.Channel).Str("table", opts.Table).Logger(),
		listeners: make(map[int]func(Collection)),
	}
}

// Open subscribes and loads the initial rows. It returns once the initial
// fetch has been applied.
func (c *PatchedCollection) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.mounted = true
	c.cancel = cancel
	c.mu.Unlock()

	filters := []ports.TableFilter{{Table: c.opts.Table, Events: c.opts.Events, Filter: c.opts.Filter}}
	sub := c.registry.Register(ctx, c.opts.Channel, filters, c.onEvent, WithStatus(c.onStatus))

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	if err := c.load(ctx); err != nil {
		c.Close()
		return err
	}
	return nil
}

// load fetches the rows and replays whatever was buffered meanwhile.
func (c *PatchedCollection) load(ctx context.Context) error {
	rows, err := c.fetcher.FetchRows(ctx, c.opts.Table, c.opts.Filter)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", c.opts.Table, err)
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return nil
	}
	coll := make(Collection, 0, len(rows))
	for _, r := range rows {
		coll = append(coll, r.Clone())
	}
	for _, ev := range c.pending {
		coll = Apply(coll, ev)
	}
	replayed := len(c.pending)
	c.pending = nil
	c.rows = coll
	c.loaded = true
	c.notifyLocked()

	c.log.Debug().Int("rows", len(rows)).Int("replayed", replayed).Msg("collection loaded")
	return nil
}

func (c *PatchedCollection) onEvent(ev domain.ChangeEvent) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	if !c.loaded {
		c.pending = append(c.pending, ev)
		c.mu.Unlock()
		return
	}
	c.rows = Apply(c.rows, ev)
	c.notifyLocked()
}

// onStatus marks the collection stale while the channel is down and clears
// the mark once it is live again. The rows are never refetched after the
// initial load; they keep being patched in place.
func (c *PatchedCollection) onStatus(st SubscriptionStatus) {
	var stale bool
	switch st.State {
	case StatusFailed:
		stale = true
	case StatusLive:
		stale = false
	default:
		return
	}

	c.mu.Lock()
	if !c.mounted || c.stale == stale {
		c.mu.Unlock()
		return
	}
	c.stale = stale
	if !stale {
		c.log.Info().Msg("channel live again, collection no longer stale")
	}
	c.notifyLocked()
}

// notifyLocked must be called with c.mu held; it releases it.
func (c *PatchedCollection) notifyLocked() {
	snap := c.rows.Clone()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	for _, fn := range c.listeners {
		fn(snap)
	}
}

// Snapshot returns the current rows.
func (c *PatchedCollection) Snapshot() Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows.Clone()
}

// Stale reports whether the channel dropped and the rows may be behind.
func (c *PatchedCollection) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// OnChange registers fn to receive a snapshot after every change, and when
// the collection turns stale. The returned function removes it.
func (c *PatchedCollection) OnChange(fn func(Collection)) func() {
	c.notifyMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.notifyMu.Unlock()
	return func() {
		c.notifyMu.Lock()
		delete(c.listeners, id)
		c.notifyMu.Unlock()
	}
}

// Close stops the subscription. Results of a fetch still in flight are
// discarded.
func (c *PatchedCollection) Close() {
	c.mu.Lock()
	c.mounted = false
	sub := c.sub
	cancel := c.cancel
	c.sub = nil
	c.pending = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
}
