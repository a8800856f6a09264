// internal/membership/domain.go
//
// Package membership implements the Member aggregate (registration,
// authentication, tier) and hosts the Wallet sub-aggregate (see the
// wallet subpackage) that backs the payment step of a reservation.
package membership

import "time"

// Member is the in-memory, reconstructable state of one member.
type Member struct {
	ID             string
	Email          string
	Name           string
	MembershipTier string
	Status         string
	Version        int
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Credential holds a member's login secret, stored alongside but never
// folded from the event stream — password changes are out of scope.
type Credential struct {
	MemberID       string
	PasswordHash   string
	Salt           string
	FailedAttempts int
	LockedUntil    time.Time
}

// Event type discriminators.
const (
	EventMemberRegistered  = "MEMBER_REGISTERED"
	EventMemberTierChanged = "MEMBER_TIER_CHANGED"
	EventMemberSuspended   = "MEMBER_SUSPENDED"
)

// MemberRegistered is the *_REGISTERED payload.
type MemberRegistered struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// MemberTierChanged carries the new membership tier.
type MemberTierChanged struct {
	NewTier string `json:"newTier"`
}

// MemberSuspended marks a member ineligible for new reservations.
type MemberSuspended struct {
	Reason string `json:"reason"`
}
