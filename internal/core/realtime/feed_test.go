package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// fakeFeed is an in-memory ports.ChangeFeed. Opens fail while failOpens > 0.
type fakeFeed struct {
	mu        sync.Mutex
	channels  map[string][]*fakeChannel
	failOpens int
	opens     int
}

type fakeChannel struct {
	handlers ports.FeedHandlers
	closed   bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{channels: make(map[string][]*fakeChannel)}
}

func (f *fakeFeed) Subscribe(_ context.Context, channel string, _ []ports.TableFilter, h ports.FeedHandlers) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.failOpens > 0 {
		f.failOpens--
		return nil, errors.New("feed unavailable")
	}
	ch := &fakeChannel{handlers: h}
	f.channels[channel] = append(f.channels[channel], ch)
	return func() {
		f.mu.Lock()
		ch.closed = true
		f.mu.Unlock()
	}, nil
}

// emit delivers raw to every open channel with the given name.
func (f *fakeFeed) emit(channel string, raw ports.RawChange) {
	for _, ch := range f.open(channel) {
		ch.handlers.OnChange(raw)
	}
}

// drop fails every open channel with the given name.
func (f *fakeFeed) drop(channel string) {
	for _, ch := range f.open(channel) {
		f.mu.Lock()
		ch.closed = true
		f.mu.Unlock()
		ch.handlers.OnError(errors.New("connection reset"))
	}
}

func (f *fakeFeed) open(channel string) []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeChannel
	for _, ch := range f.channels[channel] {
		if !ch.closed {
			out = append(out, ch)
		}
	}
	return out
}

func (f *fakeFeed) openCount(channel string) int {
	return len(f.open(channel))
}

func (f *fakeFeed) openAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// fixedRetryer retries immediately forever.
type fixedRetryer struct{}

func (fixedRetryer) NextDelay(int) (time.Duration, bool) { return time.Millisecond, true }

// blockingFetcher returns rows once release is closed.
type blockingFetcher struct {
	rows    []domain.Row
	err     error
	release chan struct{}
	called  chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newBlockingFetcher(rows ...domain.Row) *blockingFetcher {
	return &blockingFetcher{rows: rows, release: make(chan struct{}), called: make(chan struct{})}
}

func (b *blockingFetcher) FetchRows(ctx context.Context, _ string, _ map[string]any) ([]domain.Row, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.called) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.rows, b.err
}

func insert(table string, row map[string]any) ports.RawChange {
	return ports.RawChange{Table: table, Type: "INSERT", New: row}
}
