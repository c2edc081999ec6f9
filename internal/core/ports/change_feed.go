package ports

import (
	"context"
	"time"
)

// TableFilter selects the changes one subscription entry delivers. An empty
// Events list means every event type; Filter is an equality match on row fields.
type TableFilter struct {
	Table  string
	Events []string
	Filter map[string]any
}

// RawChange is a change payload as produced by a feed adapter, before
// normalisation.
type RawChange struct {
	Table      string
	Type       string
	New        map[string]any
	Old        map[string]any
	CommitTime time.Time
}

// FeedHandlers receive deliveries for one channel. OnError reports that the
// channel dropped; no further changes arrive after it is called.
type FeedHandlers struct {
	OnChange func(RawChange)
	OnError  func(error)
}

// ChangeFeed is a subscribable stream of per-table row changes.
type ChangeFeed interface {
	Subscribe(ctx context.Context, channel string, filters []TableFilter, h FeedHandlers) (unsubscribe func(), err error)
}
