package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/metrics"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

const defaultResolutionTimeout = 8 * time.Second

// CoordinatorConfig tunes the session lifecycle.
type CoordinatorConfig struct {
	// ResolutionTimeout bounds Resolving; past it the session settles on a
	// degraded client role.
	ResolutionTimeout time.Duration
	// RecoveryDebounce collapses recovery triggers inside the window.
	RecoveryDebounce time.Duration
}

// Coordinator owns the process-wide session state. Every mutation goes
// through a transition method; readers get copies.
type Coordinator struct {
	auth       ports.AuthSource
	guard      *RoleCacheGuard
	reconciler *RecordReconciler
	gate       *RecoveryGate
	timeout    time.Duration
	log        zerolog.Logger

	mu          sync.RWMutex
	state       domain.RoleState
	generation  uint64
	reconciled  <-chan domain.ReconcileResult
	unsubscribe func()

	// cacheMu orders role cache writes against the invalidation on sign-out.
	cacheMu sync.Mutex

	// pubMu keeps listener notifications in transition order.
	pubMu     sync.Mutex
	listeners map[int]func(domain.RoleState)
	nextID    int
}

func NewCoordinator(
	auth ports.AuthSource,
	guard *RoleCacheGuard,
	reconciler *RecordReconciler,
	cfg CoordinatorConfig,
	log zerolog.Logger,
) *Coordinator {
	timeout := cfg.ResolutionTimeout
	if timeout <= 0 {
		timeout = defaultResolutionTimeout
	}
	c := &Coordinator{
		auth:       auth,
		guard:      guard,
		reconciler: reconciler,
		timeout:    timeout,
		log:        log,
		state:      domain.RoleState{Phase: domain.PhaseUnknown, Loading: true},
		listeners:  make(map[int]func(domain.RoleState)),
	}
	c.gate = NewRecoveryGate(cfg.RecoveryDebounce, c.recoverSession, log)
	return c
}

// Start subscribes to auth transitions, launches the recovery consumer and
// performs the initial session fetch. It returns once resolution has begun.
func (c *Coordinator) Start(ctx context.Context) {
	unsub := c.auth.OnSessionChange(func(ev ports.AuthEvent) {
		c.HandleAuthEvent(ctx, ev)
	})
	c.mu.Lock()
	c.unsubscribe = unsub
	c.mu.Unlock()

	go c.gate.Run(ctx)

	sess, err := c.auth.CurrentSession(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("initial session fetch failed, treating as signed out")
	}
	if sess == nil {
		c.signOut(ctx)
		return
	}
	c.begin(ctx, sess.Identity)
}

// Stop detaches from the auth source.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// HandleAuthEvent drives the state machine from one auth transition.
func (c *Coordinator) HandleAuthEvent(ctx context.Context, ev ports.AuthEvent) {
	if ev.Kind == ports.AuthSignedOut {
		c.signOut(ctx)
		return
	}
	if ev.Session == nil {
		c.log.Warn().Str("kind", string(ev.Kind)).Msg("auth event without session ignored")
		return
	}

	c.mu.RLock()
	same := c.state.Identity.Same(&ev.Session.Identity) &&
		(c.state.Phase == domain.PhaseResolving || c.state.Phase == domain.PhaseResolved)
	c.mu.RUnlock()
	if same {
		c.log.Debug().Str("kind", string(ev.Kind)).Str("user_id", ev.Session.Identity.ID).Msg("same identity, resolution kept")
		return
	}
	c.begin(ctx, ev.Session.Identity)
}

// Role returns the current published state.
func (c *Coordinator) Role() domain.RoleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe registers fn for every published state. fn must not call
// transition methods synchronously.
func (c *Coordinator) Subscribe(fn func(domain.RoleState)) (unsubscribe func()) {
	c.pubMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.pubMu.Unlock()
	return func() {
		c.pubMu.Lock()
		delete(c.listeners, id)
		c.pubMu.Unlock()
	}
}

// Recover offers a session recovery request (tab visible, network back,
// focus). Repeated requests are debounced and never run concurrently.
func (c *Coordinator) Recover(reason domain.RecoveryTrigger) bool {
	return c.gate.Trigger(reason)
}

// SignOut signs out at the auth source and moves to SignedOut.
func (c *Coordinator) SignOut(ctx context.Context) error {
	err := c.auth.SignOut(ctx)
	c.signOut(ctx)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// EnsureUserRecords is the explicit reconciliation trigger for write-guarded
// flows. It runs synchronously for the current identity. Admin records are
// only ensured for a session already resolved as admin.
func (c *Coordinator) EnsureUserRecords(ctx context.Context, role domain.Role, fields domain.ProfileFields) domain.ReconcileResult {
	c.mu.RLock()
	st := c.state
	c.mu.RUnlock()
	if st.Identity == nil {
		return domain.ReconcileResult{Role: role, Err: domain.ErrNoSession}
	}
	if role == domain.RoleAdmin && (st.Phase != domain.PhaseResolved || st.Role != domain.RoleAdmin || st.Degraded) {
		c.log.Warn().Str("user_id", st.Identity.ID).Str("role", string(st.Role)).Msg("admin records refused for non-admin session")
		return domain.ReconcileResult{UserID: st.Identity.ID, Role: role, Err: domain.ErrForbidden}
	}
	return c.reconciler.Ensure(ctx, *st.Identity, role, fields)
}

// LastReconciliation returns the result channel of the most recent
// background reconciliation, or nil if none ran.
func (c *Coordinator) LastReconciliation() <-chan domain.ReconcileResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconciled
}

// begin enters Resolving for id, superseding any in-flight resolution.
func (c *Coordinator) begin(ctx context.Context, id domain.Identity) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state = domain.RoleState{Phase: domain.PhaseResolving, Loading: true, Identity: &id}
	c.publishLocked()

	c.log.Info().Str("user_id", id.ID).Uint64("generation", gen).Msg("resolving session role")
	go c.resolve(ctx, gen, id)
}

func (c *Coordinator) resolve(ctx context.Context, gen uint64, id domain.Identity) {
	start := time.Now()
	result := make(chan domain.Role, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				c.log.Error().Interface("panic", p).Str("user_id", id.ID).Msg("role resolution panicked")
				result <- domain.RoleClient
			}
		}()
		result <- c.guard.Verify(ctx, id).Role
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case role := <-result:
		metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
		c.settle(ctx, gen, id, role, false)
	case <-timer.C:
		metrics.ResolutionTimeoutsTotal.Inc()
		c.log.Warn().Str("user_id", id.ID).Dur("timeout", c.timeout).Bool("degraded", true).Msg("role resolution timed out, falling back to client")
		if !c.settle(ctx, gen, id, domain.RoleClient, true) {
			return
		}
		// A late authoritative answer still replaces the degraded fallback
		// as long as no newer transition happened.
		go func() {
			if role, ok := <-result; ok {
				c.upgrade(ctx, gen, id, role)
			}
		}()
	case <-ctx.Done():
	}
}

// settle moves Resolving to Resolved. It reports false when gen is stale.
func (c *Coordinator) settle(ctx context.Context, gen uint64, id domain.Identity, role domain.Role, degraded bool) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.log.Debug().Str("user_id", id.ID).Uint64("generation", gen).Msg("stale resolution discarded")
		return false
	}
	c.resolvedLocked(ctx, id, role, degraded)
	return true
}

// upgrade replaces a degraded fallback with a late result.
func (c *Coordinator) upgrade(ctx context.Context, gen uint64, id domain.Identity, role domain.Role) {
	c.mu.Lock()
	if gen != c.generation || !c.state.Degraded {
		c.mu.Unlock()
		return
	}
	c.log.Info().Str("user_id", id.ID).Str("role", string(role)).Msg("late resolution replaced degraded role")
	c.resolvedLocked(ctx, id, role, false)
}

// resolvedLocked publishes Resolved(role) and releases c.mu. Only an
// authoritative role is cached and reconciled: a degraded client fallback
// must not create client records for what may be a specialist.
func (c *Coordinator) resolvedLocked(ctx context.Context, id domain.Identity, role domain.Role, degraded bool) {
	profile := domain.OptimisticProfile(id, role)
	gen := c.generation
	c.state = domain.RoleState{
		Phase:    domain.PhaseResolved,
		Role:     role,
		Degraded: degraded,
		Identity: &id,
		Profile:  &profile,
	}
	if !degraded {
		c.reconciled = c.reconciler.Start(ctx, id, role, domain.ProfileFieldsFromIdentity(id))
	}
	c.publishLocked()
	c.log.Info().Str("user_id", id.ID).Str("role", string(role)).Bool("degraded", degraded).Msg("session role resolved")
	if !degraded {
		c.remember(ctx, gen, id.ID, role)
	}
}

// remember caches role unless a newer transition superseded gen. Holding
// cacheMu across the check and the write keeps a concurrent sign-out's
// invalidation after it.
func (c *Coordinator) remember(ctx context.Context, gen uint64, userID string, role domain.Role) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.mu.RLock()
	current := gen == c.generation
	c.mu.RUnlock()
	if !current {
		c.log.Debug().Str("user_id", userID).Uint64("generation", gen).Msg("superseded role not cached")
		return
	}
	c.guard.Remember(ctx, userID, role)
}

func (c *Coordinator) signOut(ctx context.Context) {
	c.mu.Lock()
	if c.state.Phase == domain.PhaseSignedOut {
		c.mu.Unlock()
		return
	}
	c.generation++
	prev := c.state.Identity
	c.state = domain.RoleState{Phase: domain.PhaseSignedOut}
	c.publishLocked()

	if prev != nil {
		c.cacheMu.Lock()
		c.guard.Forget(ctx, prev.ID)
		c.cacheMu.Unlock()
		c.log.Info().Str("user_id", prev.ID).Msg("session signed out")
	}
}

// recoverSession runs under the recovery gate.
func (c *Coordinator) recoverSession(ctx context.Context, attempt string) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.auth.CurrentSession(rctx)
	if err != nil {
		c.log.Warn().Err(err).Str("attempt", attempt).Msg("session recovery fetch failed")
		return
	}
	if sess == nil {
		c.signOut(ctx)
		return
	}

	c.mu.RLock()
	cur := c.state.Identity
	phase := c.state.Phase
	gen := c.generation
	c.mu.RUnlock()

	if !cur.Same(&sess.Identity) || phase == domain.PhaseSignedOut || phase == domain.PhaseUnknown {
		c.begin(ctx, sess.Identity)
		return
	}
	if phase != domain.PhaseResolved {
		return
	}

	// Same identity: re-verify the cached role cheaply.
	role := c.guard.Verify(rctx, sess.Identity).Role
	c.mu.Lock()
	if gen != c.generation || (role == c.state.Role && !c.state.Degraded) {
		c.mu.Unlock()
		return
	}
	c.log.Info().Str("user_id", sess.Identity.ID).Str("attempt", attempt).Str("role", string(role)).Msg("recovery updated session role")
	c.resolvedLocked(ctx, sess.Identity, role, false)
}

// publishLocked snapshots the state, hands the lock over to pubMu so
// notifications keep transition order, and releases c.mu.
func (c *Coordinator) publishLocked() {
	snapshot := c.state
	c.pubMu.Lock()
	c.mu.Unlock()
	defer c.pubMu.Unlock()
	for _, fn := range c.listeners {
		fn(snapshot)
	}
}
