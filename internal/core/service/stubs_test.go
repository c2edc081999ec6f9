package service

import (
	"context"
	"errors"
	"sync"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// ---------------------------------------------------------------------------
// In-memory stub profile repository
// ---------------------------------------------------------------------------

type stubProfileRepo struct {
	mu          sync.Mutex
	specialists map[string]*domain.SpecialistProfile
	generics    map[string]*domain.GenericProfile
	clients     map[string]*domain.ClientProfile

	specialistErr error
	genericErr    error
	ensureErr     error

	specialistCalls int
	genericCalls    int
	ensureCalls     int

	// gate, when set, blocks every lookup until it is closed.
	gate chan struct{}
}

func newStubProfileRepo() *stubProfileRepo {
	return &stubProfileRepo{
		specialists: make(map[string]*domain.SpecialistProfile),
		generics:    make(map[string]*domain.GenericProfile),
		clients:     make(map[string]*domain.ClientProfile),
	}
}

func (r *stubProfileRepo) wait(ctx context.Context) error {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *stubProfileRepo) FindSpecialistByUserID(ctx context.Context, userID string) (*domain.SpecialistProfile, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specialistCalls++
	if r.specialistErr != nil {
		return nil, r.specialistErr
	}
	p, ok := r.specialists[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *stubProfileRepo) FindGenericByUserID(ctx context.Context, userID string) (*domain.GenericProfile, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.genericCalls++
	if r.genericErr != nil {
		return nil, r.genericErr
	}
	p, ok := r.generics[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	clone := *p
	return &clone, nil
}

// EnsureUserRecords mirrors the create-if-absent semantics of the real procedure.
func (r *stubProfileRepo) EnsureUserRecords(_ context.Context, in ports.EnsureUserRecordsInput) (ports.EnsureUserRecordsOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureCalls++
	if r.ensureErr != nil {
		return ports.EnsureUserRecordsOutput{}, r.ensureErr
	}
	var out ports.EnsureUserRecordsOutput
	if _, ok := r.generics[in.UserID]; !ok {
		r.generics[in.UserID] = &domain.GenericProfile{UserID: in.UserID, Email: in.Email, Role: in.Role, FirstName: in.FirstName}
		out.UsersCreated = true
	}
	switch in.Role {
	case domain.RoleLandscaper:
		if _, ok := r.specialists[in.UserID]; !ok {
			r.specialists[in.UserID] = &domain.SpecialistProfile{UserID: in.UserID}
			out.LandscapersCreated = true
		}
	case domain.RoleClient:
		if _, ok := r.clients[in.UserID]; !ok {
			r.clients[in.UserID] = &domain.ClientProfile{UserID: in.UserID}
			out.ClientsCreated = true
		}
	}
	return out, nil
}

func (r *stubProfileRepo) addSpecialist(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specialists[userID] = &domain.SpecialistProfile{UserID: userID}
}

func (r *stubProfileRepo) addGeneric(userID string, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generics[userID] = &domain.GenericProfile{UserID: userID, Role: role}
}

func (r *stubProfileRepo) counts() (generic, clients, specialists int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.generics), len(r.clients), len(r.specialists)
}

// ---------------------------------------------------------------------------
// Role cache and reconcile marker stubs
// ---------------------------------------------------------------------------

type stubRoleCache struct {
	mu          sync.Mutex
	roles       map[string]domain.Role
	getErr      error
	invalidated []string

	// setStarted, when set, is signalled on entry to Set; setGate then holds
	// the write until it is closed.
	setStarted chan struct{}
	setGate    chan struct{}
}

func newStubRoleCache() *stubRoleCache {
	return &stubRoleCache{roles: make(map[string]domain.Role)}
}

func (c *stubRoleCache) Get(_ context.Context, userID string) (domain.Role, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	r, ok := c.roles[userID]
	return r, ok, nil
}

func (c *stubRoleCache) Set(_ context.Context, userID string, role domain.Role) error {
	if c.setStarted != nil {
		select {
		case c.setStarted <- struct{}{}:
		default:
		}
	}
	if c.setGate != nil {
		<-c.setGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[userID] = role
	return nil
}

func (c *stubRoleCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roles, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func (c *stubRoleCache) cached(userID string) (domain.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roles[userID]
	return r, ok
}

func (c *stubRoleCache) invalidations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}

type stubMarker struct {
	mu       sync.Mutex
	marked   map[string]bool
	markErr  error
	checkErr error
}

func newStubMarker() *stubMarker {
	return &stubMarker{marked: make(map[string]bool)}
}

func (m *stubMarker) IsReconciled(_ context.Context, userID string, role domain.Role) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.marked[userID+":"+string(role)], nil
}

func (m *stubMarker) Mark(_ context.Context, userID string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.marked[userID+":"+string(role)] = true
	return nil
}

// ---------------------------------------------------------------------------
// Auth source stub
// ---------------------------------------------------------------------------

type stubAuthSource struct {
	mu        sync.Mutex
	session   *ports.Session
	fetchErr  error
	signOuts  int
	listeners []func(ports.AuthEvent)
}

func (a *stubAuthSource) CurrentSession(context.Context) (*ports.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	if a.session == nil {
		return nil, nil
	}
	s := *a.session
	return &s, nil
}

func (a *stubAuthSource) OnSessionChange(fn func(ports.AuthEvent)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
	return func() {}
}

func (a *stubAuthSource) SignOut(context.Context) error {
	a.mu.Lock()
	a.signOuts++
	a.session = nil
	a.mu.Unlock()
	return nil
}

func (a *stubAuthSource) setSession(id domain.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = &ports.Session{AccessToken: "token-" + id.ID, Identity: id}
}

var errLookup = errors.New("connection reset")
