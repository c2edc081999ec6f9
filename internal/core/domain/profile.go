package domain

import (
	"errors"
	"time"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrReconciliation  = errors.New("record reconciliation failed")
)

// GenericProfile is the role-agnostic record every identity owns.
type GenericProfile struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	Email     string    `json:"email" bson:"email"`
	Role      Role      `json:"role" bson:"role"`
	FirstName string    `json:"first_name,omitempty" bson:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty" bson:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty" bson:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// ClientProfile backs the client role.
type ClientProfile struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// SpecialistProfile backs the landscaper role. Its existence is the only
// authoritative proof that an identity is a landscaper.
type SpecialistProfile struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// ProfileFields are the optional fields captured at sign-up.
type ProfileFields struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// ProfileFieldsFromIdentity reads the sign-up fields the provider keeps in the identity metadata.
func ProfileFieldsFromIdentity(id Identity) ProfileFields {
	return ProfileFields{
		FirstName: id.Metadata["first_name"],
		LastName:  id.Metadata["last_name"],
		Phone:     id.Metadata["phone"],
	}
}

// OptimisticProfile builds the in-memory profile the UI shows while
// reconciliation runs in the background.
func OptimisticProfile(id Identity, role Role) GenericProfile {
	f := ProfileFieldsFromIdentity(id)
	return GenericProfile{
		UserID:    id.ID,
		Email:     id.Email,
		Role:      role,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		Phone:     f.Phone,
	}
}

// ReconcileResult reports which backing records a reconciliation created.
// A second call for the same identity and role reports false for both.
type ReconcileResult struct {
	UserID         string `json:"user_id"`
	Role           Role   `json:"role"`
	GenericCreated bool   `json:"generic_created"`
	RoleCreated    bool   `json:"role_record_created"`
	Skipped        bool   `json:"skipped,omitempty"`
	Err            error  `json:"-"`
}

// Error returns the failure message, or "" when reconciliation succeeded.
func (r ReconcileResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
