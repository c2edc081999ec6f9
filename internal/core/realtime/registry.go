package realtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/metrics"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// Deliverer runs tasks serially per key and concurrently across keys.
// Dispatch reports false when the task was not accepted.
type Deliverer interface {
	Dispatch(key string, task func()) bool
}

// InlineDelivery runs every task on the caller's goroutine.
type InlineDelivery struct{}

func (InlineDelivery) Dispatch(_ string, task func()) bool {
	task()
	return true
}

// Handler receives normalised events for one registration.
type Handler func(domain.ChangeEvent)

// StatusState describes a registration's channel.
type StatusState string

const (
	StatusConnecting StatusState = "connecting"
	StatusLive       StatusState = "live"
	StatusFailed     StatusState = "failed"
	StatusClosed     StatusState = "closed"
)

// SubscriptionStatus is reported on every channel state change.
type SubscriptionStatus struct {
	State   StatusState
	Attempt int
	Err     error
}

// RegisterOption customises a registration.
type RegisterOption func(*Subscription)

// WithStatus reports channel state changes to fn.
func WithStatus(fn func(SubscriptionStatus)) RegisterOption {
	return func(s *Subscription) { s.onStatus = fn }
}

// Registry holds at most one active subscription per channel name.
type Registry struct {
	feed      ports.ChangeFeed
	deliverer Deliverer
	retryer   Retryer
	log       zerolog.Logger

	mu     sync.Mutex
	active map[string]*Subscription
}

// NewRegistry builds a registry. A nil deliverer delivers inline and a nil
// retryer uses NewExponentialBackoff.
func NewRegistry(feed ports.ChangeFeed, deliverer Deliverer, retryer Retryer, log zerolog.Logger) *Registry {
	if deliverer == nil {
		deliverer = InlineDelivery{}
	}
	if retryer == nil {
		retryer = NewExponentialBackoff()
	}
	return &Registry{
		feed:      feed,
		deliverer: deliverer,
		retryer:   retryer,
		log:       log,
		active:    make(map[string]*Subscription),
	}
}

// Register opens channel for filters and delivers matching events to
// handler. An active registration under the same name is torn down first.
// The channel is opened in the background and reopened with backoff when it
// fails or drops; Close stops all of it.
func (r *Registry) Register(ctx context.Context, channel string, filters []ports.TableFilter, handler Handler, opts ...RegisterOption) *Subscription {
	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ID:       uuid.NewString(),
		Channel:  channel,
		filters:  filters,
		handler:  handler,
		registry: r,
		cancel:   cancel,
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.active.Store(true)

	r.mu.Lock()
	old := r.active[channel]
	r.active[channel] = s
	r.mu.Unlock()

	if old != nil {
		r.log.Debug().Str("channel", channel).Str("old", old.ID).Str("new", s.ID).Msg("replacing subscription")
		old.teardown()
	} else {
		metrics.SubscriptionsActive.Inc()
	}

	go s.run(sctx)
	return s
}

// Active returns the live registration for channel, if any.
func (r *Registry) Active(channel string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[channel]
	return s, ok
}

func (r *Registry) release(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[s.Channel] == s {
		delete(r.active, s.Channel)
		metrics.SubscriptionsActive.Dec()
	}
}

// Subscription is one registration returned by Register.
type Subscription struct {
	ID      string
	Channel string

	filters  []ports.TableFilter
	handler  Handler
	onStatus func(SubscriptionStatus)
	registry *Registry
	cancel   context.CancelFunc
	active   atomic.Bool
	opened   chan struct{}
	done     chan struct{}

	mu          sync.Mutex
	unsubscribe func()
	openedOnce  sync.Once
	closeOnce   sync.Once
}

// Opened is closed the first time the channel goes live.
func (s *Subscription) Opened() <-chan struct{} { return s.opened }

// Done is closed once the subscription is torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unregisters the subscription. Once it returns no new delivery
// reaches the handler; one already running on a worker may still finish.
// Safe to call more than once and before the channel opened.
func (s *Subscription) Close() {
	s.registry.release(s)
	s.teardown()
}

func (s *Subscription) teardown() {
	s.closeOnce.Do(func() {
		s.active.Store(false)
		s.cancel()

		s.mu.Lock()
		unsub := s.unsubscribe
		s.unsubscribe = nil
		s.mu.Unlock()
		if unsub != nil {
			safeCall(unsub)
		}
		s.status(SubscriptionStatus{State: StatusClosed})
		close(s.done)
	})
}

func (s *Subscription) run(ctx context.Context) {
	log := s.registry.log.With().Str("channel", s.Channel).Str("subscription", s.ID).Logger()
	attempt := 0
	for {
		if !s.active.Load() {
			return
		}
		s.status(SubscriptionStatus{State: StatusConnecting, Attempt: attempt})

		dropped := make(chan error, 1)
		unsub, err := s.registry.feed.Subscribe(ctx, s.Channel, s.filters, ports.FeedHandlers{
			OnChange: s.deliver,
			OnError: func(err error) {
				select {
				case dropped <- err:
				default:
				}
			},
		})
		if err == nil {
			if !s.attach(unsub) {
				return
			}
			attempt = 0
			s.status(SubscriptionStatus{State: StatusLive})
			s.openedOnce.Do(func() { close(s.opened) })

			select {
			case <-ctx.Done():
				return
			case err = <-dropped:
			}
			s.detach()
		}
		if ctx.Err() != nil || !s.active.Load() {
			return
		}

		metrics.SubscriptionFailuresTotal.Inc()
		log.Warn().Err(err).Int("attempt", attempt).Msg("change feed channel failed")
		s.status(SubscriptionStatus{State: StatusFailed, Attempt: attempt, Err: err})

		delay, retry := s.registry.retryer.NextDelay(attempt)
		if !retry {
			log.Error().Int("attempts", attempt+1).Msg("change feed channel gave up")
			return
		}
		attempt++
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attach records unsub unless the subscription closed meanwhile, in which
// case the freshly opened channel is closed right away.
func (s *Subscription) attach(unsub func()) bool {
	s.mu.Lock()
	if s.active.Load() {
		s.unsubscribe = unsub
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	safeCall(unsub)
	return false
}

func (s *Subscription) detach() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		safeCall(unsub)
	}
}

// deliver is the feed callback: normalise, filter, then hand to the
// deliverer keyed by channel so events for one channel stay ordered.
func (s *Subscription) deliver(raw ports.RawChange) {
	if !s.active.Load() {
		metrics.ChangeEventsDroppedTotal.WithLabelValues("inactive").Inc()
		return
	}
	ev, err := Normalize(raw)
	if err != nil {
		metrics.ChangeEventsDroppedTotal.WithLabelValues("malformed").Inc()
		s.registry.log.Warn().Err(err).Str("channel", s.Channel).Msg("dropping malformed change")
		return
	}
	if !Matches(s.filters, ev) {
		metrics.ChangeEventsDroppedTotal.WithLabelValues("filtered").Inc()
		return
	}
	accepted := s.registry.deliverer.Dispatch(s.Channel, func() {
		if !s.active.Load() {
			metrics.ChangeEventsDroppedTotal.WithLabelValues("inactive").Inc()
			return
		}
		metrics.ChangeEventsTotal.WithLabelValues(ev.Table, string(ev.EventType)).Inc()
		s.handler(ev)
	})
	if !accepted {
		metrics.ChangeEventsDroppedTotal.WithLabelValues("stopped").Inc()
	}
}

func (s *Subscription) status(st SubscriptionStatus) {
	if st.State != StatusClosed && !s.active.Load() {
		return
	}
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

// Matches reports whether ev is inside the declared filter set. Row filters
// are checked against the new row, or the old row for deletes; a delete
// whose old row lacks the filtered field passes, since feeds often only
// carry the key of a deleted row.
func Matches(filters []ports.TableFilter, ev domain.ChangeEvent) bool {
	for _, f := range filters {
		if f.Table != ev.Table || !eventAllowed(f.Events, ev.EventType) {
			continue
		}
		if rowMatches(f.Filter, ev) {
			return true
		}
	}
	return false
}

func eventAllowed(events []string, t domain.EventType) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == "*" || strings.EqualFold(e, string(t)) {
			return true
		}
	}
	return false
}

func rowMatches(filter map[string]any, ev domain.ChangeEvent) bool {
	row := ev.NewRow
	if ev.EventType == domain.EventDelete {
		row = ev.OldRow
	}
	for k, want := range filter {
		got, ok := row[k]
		if !ok {
			if ev.EventType == domain.EventDelete {
				continue
			}
			return false
		}
		gk, _ := domain.KeyOf(got)
		wk, _ := domain.KeyOf(want)
		if gk != wk {
			return false
		}
	}
	return true
}

func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
