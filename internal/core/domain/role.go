package domain

import (
	"errors"
	"strings"
)

// Role is the application-level permission class of a session.
type Role string

const (
	RoleClient     Role = "client"
	RoleLandscaper Role = "landscaper"
	RoleAdmin      Role = "admin"
)

var ErrUnknownRole = errors.New("unknown role")

// Valid reports whether r is one of the three known role tags.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleLandscaper, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole normalises s into a Role. Unknown values return ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Identity is the authenticated subject issued by the external auth provider.
// It is immutable for the lifetime of a session.
type Identity struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Same reports whether two identities refer to the same subject.
func (i *Identity) Same(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID == other.ID
}
