package ports

import (
	"context"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

// EnsureUserRecordsInput mirrors the parameters of the server-side
// ensure_user_records procedure.
type EnsureUserRecordsInput struct {
	UserID    string
	Email     string
	Role      domain.Role
	FirstName string
	LastName  string
	Phone     string
}

// EnsureUserRecordsOutput reports which records the procedure inserted.
type EnsureUserRecordsOutput struct {
	UsersCreated       bool
	ClientsCreated     bool
	LandscapersCreated bool
}

// ProfileRepository is the Relational Store as seen by role resolution and
// reconciliation. Point lookups return domain.ErrProfileNotFound when the
// row is absent; any other error is a lookup failure.
type ProfileRepository interface {
	FindSpecialistByUserID(ctx context.Context, userID string) (*domain.SpecialistProfile, error)
	FindGenericByUserID(ctx context.Context, userID string) (*domain.GenericProfile, error)
	// EnsureUserRecords creates the generic profile and the role record when
	// absent. Calling it again with the same arguments creates nothing.
	EnsureUserRecords(ctx context.Context, in EnsureUserRecordsInput) (EnsureUserRecordsOutput, error)
}

// RowFetcher performs the initial bulk load of a patched collection.
type RowFetcher interface {
	FetchRows(ctx context.Context, table string, filter map[string]any) ([]domain.Row, error)
}
