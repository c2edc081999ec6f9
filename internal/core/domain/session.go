package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrInvalidToken       = errors.New("invalid access token")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrForbidden          = errors.New("access forbidden")
)

// SessionPhase is the coordinator state machine position.
type SessionPhase string

const (
	PhaseUnknown   SessionPhase = "unknown"
	PhaseResolving SessionPhase = "resolving"
	PhaseResolved  SessionPhase = "resolved"
	PhaseSignedOut SessionPhase = "signed_out"
)

// RoleState is what the UI layer observes: the resolved Role plus whether
// resolution is still running or settled on the degraded fallback.
type RoleState struct {
	Phase    SessionPhase    `json:"phase"`
	Role     Role            `json:"role,omitempty"`
	Loading  bool            `json:"loading"`
	Degraded bool            `json:"degraded"`
	Identity *Identity       `json:"identity,omitempty"`
	Profile  *GenericProfile `json:"profile,omitempty"`
}

// RecoveryTrigger names what asked for a session recovery.
type RecoveryTrigger string

const (
	TriggerVisibility RecoveryTrigger = "visibility"
	TriggerOnline     RecoveryTrigger = "online"
	TriggerFocus      RecoveryTrigger = "focus"
)

// ParseRecoveryTrigger accepts one of visibility, online, focus.
func ParseRecoveryTrigger(s string) (RecoveryTrigger, error) {
	switch t := RecoveryTrigger(s); t {
	case TriggerVisibility, TriggerOnline, TriggerFocus:
		return t, nil
	}
	return "", fmt.Errorf("unknown recovery trigger %q", s)
}
