package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/metrics"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// Resolution sources, reported in logs and metrics.
const (
	SourceSpecialist = "specialist"
	SourceGeneric    = "generic"
	SourceAllowlist  = "allowlist"
	SourceDefault    = "default"
	SourceCache      = "cache"
)

// RoleResolver determines the authoritative role of an identity from the
// backing records. The specialist table is the only source for landscaper.
type RoleResolver struct {
	repo      ports.ProfileRepository
	allowlist map[string]struct{}
	log       zerolog.Logger
}

// NewRoleResolver builds a resolver. adminEmails is the administrator
// allowlist, matched case-insensitively.
func NewRoleResolver(repo ports.ProfileRepository, adminEmails []string, log zerolog.Logger) *RoleResolver {
	allow := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = normalizeEmail(e); e != "" {
			allow[e] = struct{}{}
		}
	}
	return &RoleResolver{repo: repo, allowlist: allow, log: log}
}

// Resolve never fails: a lookup failure moves on to the next step and the
// final fallback is client.
func (r *RoleResolver) Resolve(ctx context.Context, id domain.Identity) domain.Role {
	role, source := r.resolve(ctx, id)
	metrics.RoleResolutionsTotal.WithLabelValues(string(role), source).Inc()
	r.log.Debug().Str("user_id", id.ID).Str("role", string(role)).Str("source", source).Msg("role resolved")
	return role
}

func (r *RoleResolver) resolve(ctx context.Context, id domain.Identity) (domain.Role, string) {
	// 1. Specialist record wins over everything.
	found, err := r.HasSpecialist(ctx, id.ID)
	if err == nil && found {
		return domain.RoleLandscaper, SourceSpecialist
	}

	// 2. Generic profile.
	role, source := domain.RoleClient, SourceDefault
	profile, err := r.repo.FindGenericByUserID(ctx, id.ID)
	switch {
	case err == nil:
		role, source = r.fromGeneric(id, profile), SourceGeneric
	case errors.Is(err, domain.ErrProfileNotFound):
	default:
		metrics.LookupFailuresTotal.WithLabelValues("users").Inc()
		r.log.Warn().Err(err).Str("user_id", id.ID).Msg("generic profile lookup failed, defaulting to client")
	}

	// 3. Allowlist overrides the generic outcome.
	if r.IsAllowlisted(id.Email) {
		return domain.RoleAdmin, SourceAllowlist
	}
	return role, source
}

func (r *RoleResolver) fromGeneric(id domain.Identity, p *domain.GenericProfile) domain.Role {
	switch p.Role {
	case domain.RoleAdmin:
		return domain.RoleAdmin
	case domain.RoleLandscaper:
		metrics.RoleInconsistencyTotal.Inc()
		r.log.Warn().Str("user_id", id.ID).Msg("generic profile claims landscaper without specialist record, resolving as client")
		return domain.RoleClient
	default:
		return domain.RoleClient
	}
}

// HasSpecialist is the single-table check used by both full resolution and
// the cache guard. A lookup failure is logged and returned.
func (r *RoleResolver) HasSpecialist(ctx context.Context, userID string) (bool, error) {
	_, err := r.repo.FindSpecialistByUserID(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrProfileNotFound):
		return false, nil
	default:
		metrics.LookupFailuresTotal.WithLabelValues("landscapers").Inc()
		r.log.Warn().Err(err).Str("user_id", userID).Msg("specialist lookup failed")
		return false, err
	}
}

// IsAllowlisted reports whether email is a configured administrator.
func (r *RoleResolver) IsAllowlisted(email string) bool {
	_, ok := r.allowlist[normalizeEmail(email)]
	return ok
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
