package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/metrics"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// RecordReconciler makes sure the backing records for a role exist.
type RecordReconciler struct {
	repo   ports.ProfileRepository
	marker ports.ReconcileMarker
	log    zerolog.Logger
}

// NewRecordReconciler returns a reconciler. marker may be nil.
func NewRecordReconciler(repo ports.ProfileRepository, marker ports.ReconcileMarker, log zerolog.Logger) *RecordReconciler {
	return &RecordReconciler{repo: repo, marker: marker, log: log}
}

// Ensure creates the generic profile and the role record when missing. It is
// idempotent and never panics; failures are carried in the result.
func (r *RecordReconciler) Ensure(ctx context.Context, id domain.Identity, role domain.Role, fields domain.ProfileFields) domain.ReconcileResult {
	res := domain.ReconcileResult{UserID: id.ID, Role: role}

	if !role.Valid() {
		res.Err = fmt.Errorf("%w: %w (%q)", domain.ErrReconciliation, domain.ErrUnknownRole, role)
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return res
	}

	// 1. Already reconciled recently: skip the procedure call.
	if r.marker != nil {
		done, err := r.marker.IsReconciled(ctx, id.ID, role)
		if err != nil {
			r.log.Warn().Err(err).Str("user_id", id.ID).Msg("reconcile marker check failed, reconciling anyway")
		} else if done {
			res.Skipped = true
			metrics.ReconciliationsTotal.WithLabelValues("skipped").Inc()
			return res
		}
	}

	// 2. Server-side create-if-absent.
	out, err := r.repo.EnsureUserRecords(ctx, ports.EnsureUserRecordsInput{
		UserID:    id.ID,
		Email:     id.Email,
		Role:      role,
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		Phone:     fields.Phone,
	})
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", domain.ErrReconciliation, err)
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		r.log.Error().Err(err).Str("user_id", id.ID).Str("role", string(role)).Msg("record reconciliation failed")
		return res
	}

	res.GenericCreated = out.UsersCreated
	switch role {
	case domain.RoleLandscaper:
		res.RoleCreated = out.LandscapersCreated
	case domain.RoleClient:
		res.RoleCreated = out.ClientsCreated
	}

	// 3. Remember success (non-fatal on failure).
	if r.marker != nil {
		if err := r.marker.Mark(ctx, id.ID, role); err != nil {
			r.log.Warn().Err(err).Str("user_id", id.ID).Msg("failed to set reconcile marker")
		}
	}

	result := "noop"
	if res.GenericCreated || res.RoleCreated {
		result = "created"
	}
	metrics.ReconciliationsTotal.WithLabelValues(result).Inc()
	r.log.Info().
		Str("user_id", id.ID).
		Str("role", string(role)).
		Bool("generic_created", res.GenericCreated).
		Bool("role_created", res.RoleCreated).
		Msg("records reconciled")
	return res
}

// Start runs Ensure as a supervised background task. The returned channel
// yields exactly one result and is then closed.
func (r *RecordReconciler) Start(ctx context.Context, id domain.Identity, role domain.Role, fields domain.ProfileFields) <-chan domain.ReconcileResult {
	done := make(chan domain.ReconcileResult, 1)
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Interface("panic", p).Str("user_id", id.ID).Msg("reconciliation panicked")
				metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
				done <- domain.ReconcileResult{
					UserID: id.ID,
					Role:   role,
					Err:    fmt.Errorf("%w: panic: %v", domain.ErrReconciliation, p),
				}
			}
		}()
		done <- r.Ensure(ctx, id, role, fields)
	}()
	return done
}
