package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/metrics"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// Verdict is the outcome of a cache-guarded resolution.
type Verdict struct {
	Role domain.Role
	// Source is SourceCache when the cached role was trusted, SourceSpecialist
	// when the specialist check decided, SourceGeneric for a full resolution.
	Source string
	// Invalidated is true when a stale cached role was dropped.
	Invalidated bool
}

// RoleCacheGuard trusts a cached role only after the cheap specialist check,
// so a stale client/admin entry can never hide a specialist record.
type RoleCacheGuard struct {
	resolver *RoleResolver
	cache    ports.RoleCache
	log      zerolog.Logger
}

func NewRoleCacheGuard(resolver *RoleResolver, cache ports.RoleCache, log zerolog.Logger) *RoleCacheGuard {
	return &RoleCacheGuard{resolver: resolver, cache: cache, log: log}
}

// Verify reads the cached role for id and returns the role to publish. It
// only drops stale entries; writing the result back is left to the caller
// through Remember.
func (g *RoleCacheGuard) Verify(ctx context.Context, id domain.Identity) Verdict {
	cached, ok, err := g.cache.Get(ctx, id.ID)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", id.ID).Msg("role cache read failed, resolving")
		ok = false
	}
	if !ok || !cached.Valid() {
		return g.fullResolve(ctx, id, false)
	}

	isSpecialist, err := g.resolver.HasSpecialist(ctx, id.ID)

	if cached == domain.RoleLandscaper {
		if err == nil && isSpecialist {
			metrics.RoleResolutionsTotal.WithLabelValues(string(cached), SourceCache).Inc()
			return Verdict{Role: cached, Source: SourceCache}
		}
		// Not confirmed: the cached landscaper may no longer hold.
		return g.fullResolve(ctx, id, err == nil)
	}

	if err == nil && isSpecialist {
		// Promoted to landscaper since the cache was written.
		metrics.RoleCacheOverridesTotal.Inc()
		g.log.Info().Str("user_id", id.ID).Str("cached_role", string(cached)).Msg("cached role overridden by specialist record")
		if ierr := g.cache.Invalidate(ctx, id.ID); ierr != nil {
			g.log.Warn().Err(ierr).Str("user_id", id.ID).Msg("role cache invalidate failed")
		}
		metrics.RoleResolutionsTotal.WithLabelValues(string(domain.RoleLandscaper), SourceSpecialist).Inc()
		return Verdict{Role: domain.RoleLandscaper, Source: SourceSpecialist, Invalidated: true}
	}

	metrics.RoleResolutionsTotal.WithLabelValues(string(cached), SourceCache).Inc()
	return Verdict{Role: cached, Source: SourceCache}
}

func (g *RoleCacheGuard) fullResolve(ctx context.Context, id domain.Identity, invalidated bool) Verdict {
	if invalidated {
		g.Forget(ctx, id.ID)
	}
	return Verdict{Role: g.resolver.Resolve(ctx, id), Source: SourceGeneric, Invalidated: invalidated}
}

// Remember caches role for userID.
func (g *RoleCacheGuard) Remember(ctx context.Context, userID string, role domain.Role) {
	if err := g.cache.Set(ctx, userID, role); err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("role cache write failed")
	}
}

// Forget drops the cached role for userID, used on sign-out.
func (g *RoleCacheGuard) Forget(ctx context.Context, userID string) {
	if err := g.cache.Invalidate(ctx, userID); err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("role cache invalidate failed")
	}
}
