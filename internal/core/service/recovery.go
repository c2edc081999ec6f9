package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/metrics"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

const defaultDebounce = 2 * time.Second

// RecoveryGate funnels recovery triggers into a single consumer. Triggers
// inside the debounce window after the last accepted one are dropped, and so
// are triggers arriving while a recovery is in flight.
type RecoveryGate struct {
	window   time.Duration
	now      func() time.Time
	fn       func(ctx context.Context, attempt string)
	queue    chan string
	inFlight atomic.Bool
	log      zerolog.Logger

	mu       sync.Mutex
	accepted time.Time
}

// NewRecoveryGate returns a gate that runs fn for each accepted trigger.
func NewRecoveryGate(window time.Duration, fn func(ctx context.Context, attempt string), log zerolog.Logger) *RecoveryGate {
	if window <= 0 {
		window = defaultDebounce
	}
	return &RecoveryGate{
		window: window,
		now:    time.Now,
		fn:     fn,
		queue:  make(chan string, 1),
		log:    log,
	}
}

// Run consumes accepted triggers until ctx is cancelled.
func (g *RecoveryGate) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case attempt := <-g.queue:
			g.run(ctx, attempt)
		}
	}
}

func (g *RecoveryGate) run(ctx context.Context, attempt string) {
	defer g.inFlight.Store(false)
	defer func() {
		if p := recover(); p != nil {
			g.log.Error().Interface("panic", p).Str("attempt", attempt).Msg("session recovery panicked")
		}
	}()
	g.fn(ctx, attempt)
}

// Trigger offers a recovery request. It reports whether the request was
// accepted; rejected requests are dropped, never deferred.
func (g *RecoveryGate) Trigger(reason domain.RecoveryTrigger) bool {
	g.mu.Lock()
	now := g.now()
	if !g.accepted.IsZero() && now.Sub(g.accepted) < g.window {
		g.mu.Unlock()
		metrics.RecoveryTriggersTotal.WithLabelValues("debounced").Inc()
		g.log.Debug().Str("trigger", string(reason)).Msg("recovery debounced")
		return false
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		g.mu.Unlock()
		metrics.RecoveryTriggersTotal.WithLabelValues("in_flight").Inc()
		g.log.Debug().Str("trigger", string(reason)).Msg("recovery already in flight")
		return false
	}
	g.accepted = now
	g.mu.Unlock()

	attempt := uuid.NewString()
	g.queue <- attempt
	metrics.RecoveryTriggersTotal.WithLabelValues("started").Inc()
	g.log.Info().Str("trigger", string(reason)).Str("attempt", attempt).Msg("session recovery started")
	return true
}
