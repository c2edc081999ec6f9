package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

func newResolver(repo *stubProfileRepo, admins ...string) *RoleResolver {
	return NewRoleResolver(repo, admins, zerolog.Nop())
}

func TestRoleResolver_SpecialistBeatsAdminProfile(t *testing.T) {
	repo := newStubProfileRepo()
	repo.addSpecialist("u1")
	repo.addGeneric("u1", domain.RoleAdmin)

	got := newResolver(repo).Resolve(context.Background(), domain.Identity{ID: "u1"})
	if got != domain.RoleLandscaper {
		t.Fatalf("expected landscaper, got %s", got)
	}
	if repo.genericCalls != 0 {
		t.Errorf("generic profile must not be consulted once a specialist is found, got %d calls", repo.genericCalls)
	}
}

func TestRoleResolver_NoRecords_DefaultsToClient(t *testing.T) {
	repo := newStubProfileRepo()

	got := newResolver(repo, "boss@example.com").Resolve(context.Background(), domain.Identity{ID: "U1", Email: "u1@example.com"})
	if got != domain.RoleClient {
		t.Fatalf("expected client, got %s", got)
	}
}

func TestRoleResolver_SpecialistOnly_IgnoresStaleClientProfile(t *testing.T) {
	repo := newStubProfileRepo()
	repo.addSpecialist("U2")
	repo.addGeneric("U2", domain.RoleClient)

	if got := newResolver(repo).Resolve(context.Background(), domain.Identity{ID: "U2"}); got != domain.RoleLandscaper {
		t.Fatalf("expected landscaper, got %s", got)
	}
}

func TestRoleResolver_GenericAdmin(t *testing.T) {
	repo := newStubProfileRepo()
	repo.addGeneric("u3", domain.RoleAdmin)

	if got := newResolver(repo).Resolve(context.Background(), domain.Identity{ID: "u3"}); got != domain.RoleAdmin {
		t.Fatalf("expected admin, got %s", got)
	}
}

func TestRoleResolver_UnsupportedLandscaperClaim_IsClient(t *testing.T) {
	repo := newStubProfileRepo()
	repo.addGeneric("u4", domain.RoleLandscaper)

	if got := newResolver(repo).Resolve(context.Background(), domain.Identity{ID: "u4"}); got != domain.RoleClient {
		t.Fatalf("expected client for landscaper claim without specialist record, got %s", got)
	}
}

func TestRoleResolver_AllowlistOverridesGenericProfile(t *testing.T) {
	repo := newStubProfileRepo()
	repo.addGeneric("u5", domain.RoleClient)

	r := newResolver(repo, " Boss@Example.com ")
	if got := r.Resolve(context.Background(), domain.Identity{ID: "u5", Email: "boss@example.COM"}); got != domain.RoleAdmin {
		t.Fatalf("expected admin via allowlist, got %s", got)
	}
}

func TestRoleResolver_AllowlistAppliesWhenGenericLookupFails(t *testing.T) {
	repo := newStubProfileRepo()
	repo.genericErr = errLookup

	r := newResolver(repo, "boss@example.com")
	if got := r.Resolve(context.Background(), domain.Identity{ID: "u6", Email: "boss@example.com"}); got != domain.RoleAdmin {
		t.Fatalf("expected admin via allowlist, got %s", got)
	}
}

func TestRoleResolver_GenericLookupFailure_DefaultsToClient(t *testing.T) {
	repo := newStubProfileRepo()
	repo.genericErr = errLookup

	if got := newResolver(repo).Resolve(context.Background(), domain.Identity{ID: "u7"}); got != domain.RoleClient {
		t.Fatalf("expected client on lookup failure, got %s", got)
	}
}

func TestRoleResolver_SpecialistLookupFailure_FallsThroughToGeneric(t *testing.T) {
	repo := newStubProfileRepo()
	repo.specialistErr = errLookup
	repo.addGeneric("u8", domain.RoleAdmin)

	if got := newResolver(repo).Resolve(context.Background(), domain.Identity{ID: "u8"}); got != domain.RoleAdmin {
		t.Fatalf("expected admin from generic profile, got %s", got)
	}
	if repo.genericCalls != 1 {
		t.Errorf("expected generic profile lookup after specialist failure, got %d calls", repo.genericCalls)
	}
}

func TestRoleResolver_EveryLookupFails_IsClient(t *testing.T) {
	repo := newStubProfileRepo()
	repo.specialistErr = errLookup
	repo.genericErr = errLookup

	if got := newResolver(repo).Resolve(context.Background(), domain.Identity{ID: "u9"}); got != domain.RoleClient {
		t.Fatalf("expected client, got %s", got)
	}
}
