package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (r *recorder) handle(ev domain.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestRegistry(feed *fakeFeed) *Registry {
	return NewRegistry(feed, InlineDelivery{}, fixedRetryer{}, zerolog.Nop())
}

func waitOpened(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case <-s.Opened():
	case <-time.After(time.Second):
		t.Fatal("subscription never opened")
	}
}

var jobsFilter = []ports.TableFilter{{Table: "jobs"}}

func TestRegistry_DeliversMatchingEvents(t *testing.T) {
	feed := newFakeFeed()
	reg := newTestRegistry(feed)
	rec := &recorder{}

	sub := reg.Register(context.Background(), "jobs-feed", jobsFilter, rec.handle)
	defer sub.Close()
	waitOpened(t, sub)

	feed.emit("jobs-feed", insert("jobs", map[string]any{"id": 1}))
	require.Equal(t, 1, rec.count())
	assert.Equal(t, domain.EventInsert, rec.events[0].EventType)
}

func TestRegistry_ReplaceSameChannelNoDuplicates(t *testing.T) {
	feed := newFakeFeed()
	reg := newTestRegistry(feed)
	first, second := &recorder{}, &recorder{}

	a := reg.Register(context.Background(), "jobs-feed", jobsFilter, first.handle)
	waitOpened(t, a)
	b := reg.Register(context.Background(), "jobs-feed", jobsFilter, second.handle)
	defer b.Close()
	waitOpened(t, b)

	select {
	case <-a.Done():
	default:
		t.Fatal("replaced subscription should be torn down")
	}
	assert.Equal(t, 1, feed.openCount("jobs-feed"))

	feed.emit("jobs-feed", insert("jobs", map[string]any{"id": 1}))
	assert.Equal(t, 0, first.count())
	assert.Equal(t, 1, second.count())

	active, ok := reg.Active("jobs-feed")
	require.True(t, ok)
	assert.Equal(t, b.ID, active.ID)
}

func TestRegistry_FilterExcludesOtherRows(t *testing.T) {
	feed := newFakeFeed()
	reg := newTestRegistry(feed)
	rec := &recorder{}

	filters := []ports.TableFilter{{Table: "quotes", Events: []string{"INSERT", "UPDATE"}, Filter: map[string]any{"user_id": "u1"}}}
	sub := reg.Register(context.Background(), "quotes-u1", filters, rec.handle)
	defer sub.Close()
	waitOpened(t, sub)

	feed.emit("quotes-u1", insert("quotes", map[string]any{"id": 1, "user_id": "u2"}))
	feed.emit("quotes-u1", insert("jobs", map[string]any{"id": 2, "user_id": "u1"}))
	feed.emit("quotes-u1", ports.RawChange{Table: "quotes", Type: "DELETE", Old: map[string]any{"id": 3, "user_id": "u1"}})
	feed.emit("quotes-u1", insert("quotes", map[string]any{"id": 4, "user_id": "u1"}))

	require.Equal(t, 1, rec.count())
	id, _ := rec.events[0].Key()
	assert.Equal(t, "4", id)
}

func TestRegistry_MalformedDropped(t *testing.T) {
	feed := newFakeFeed()
	reg := newTestRegistry(feed)
	rec := &recorder{}

	sub := reg.Register(context.Background(), "jobs-feed", jobsFilter, rec.handle)
	defer sub.Close()
	waitOpened(t, sub)

	feed.emit("jobs-feed", ports.RawChange{Table: "jobs", Type: "INSERT", New: map[string]any{"title": "no id"}})
	assert.Equal(t, 0, rec.count())
}

func TestRegistry_CloseBeforeOpenIsSafe(t *testing.T) {
	feed := newFakeFeed()
	feed.failOpens = 1_000_000
	reg := newTestRegistry(feed)
	rec := &recorder{}

	sub := reg.Register(context.Background(), "jobs-feed", jobsFilter, rec.handle)
	assert.NotPanics(t, func() {
		sub.Close()
		sub.Close()
	})
	_, ok := reg.Active("jobs-feed")
	assert.False(t, ok)
}

func TestRegistry_NoDeliveryAfterClose(t *testing.T) {
	feed := newFakeFeed()
	reg := newTestRegistry(feed)
	rec := &recorder{}

	sub := reg.Register(context.Background(), "jobs-feed", jobsFilter, rec.handle)
	waitOpened(t, sub)
	chans := feed.open("jobs-feed")
	require.Len(t, chans, 1)
	sub.Close()

	// a late callback from the transport must not reach the handler
	chans[0].handlers.OnChange(insert("jobs", map[string]any{"id": 1}))
	assert.Equal(t, 0, rec.count())
}

func TestRegistry_ReopensAfterDrop(t *testing.T) {
	feed := newFakeFeed()
	feed.failOpens = 2
	reg := newTestRegistry(feed)
	rec := &recorder{}

	var mu sync.Mutex
	var states []StatusState
	sub := reg.Register(context.Background(), "jobs-feed", jobsFilter, rec.handle, WithStatus(func(st SubscriptionStatus) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	}))
	defer sub.Close()
	waitOpened(t, sub)
	assert.Equal(t, 3, feed.openAttempts())

	feed.drop("jobs-feed")
	require.Eventually(t, func() bool { return feed.openCount("jobs-feed") == 1 }, time.Second, 5*time.Millisecond)

	feed.emit("jobs-feed", insert("jobs", map[string]any{"id": 1}))
	assert.Equal(t, 1, rec.count())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StatusFailed)
	assert.Contains(t, states, StatusLive)
}

func TestRegistry_GivesUpAfterMaxRetries(t *testing.T) {
	feed := newFakeFeed()
	feed.failOpens = 10
	reg := NewRegistry(feed, nil, &ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, MaxRetries: 2}, zerolog.Nop())

	sub := reg.Register(context.Background(), "jobs-feed", jobsFilter, func(domain.ChangeEvent) {})
	defer sub.Close()

	require.Eventually(t, func() bool { return feed.openAttempts() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, feed.openAttempts())
}

func TestMatches_DeleteWithoutFilteredField(t *testing.T) {
	filters := []ports.TableFilter{{Table: "jobs", Filter: map[string]any{"user_id": "u1"}}}
	ev := domain.ChangeEvent{Table: "jobs", EventType: domain.EventDelete, OldRow: domain.Row{"id": 1}}
	assert.True(t, Matches(filters, ev))
}

func TestExponentialBackoff(t *testing.T) {
	b := &ExponentialBackoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxRetries: 5}

	d, ok := b.NextDelay(0)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)
	d, _ = b.NextDelay(2)
	assert.Equal(t, 400*time.Millisecond, d)
	d, _ = b.NextDelay(4)
	assert.Equal(t, time.Second, d)
	_, ok = b.NextDelay(5)
	assert.False(t, ok)
}
