package domain

import (
	"time"

	"github.com/google/uuid"
)

type MagicLinkType string

const (
	MagicLinkSignup MagicLinkType = "signup"
	MagicLinkSignin MagicLinkType = "signin"
)

// MagicLink is a single-use, time-bounded bearer credential. Only the
// bcrypt hash of the raw token is ever stored. A link is valid iff
// ConsumedAt is nil and ExpiresAt is in the future; consumption is a
// one-way transition set exactly once.
type MagicLink struct {
	Id         uuid.UUID
	AccountId  *uuid.UUID
	RequestId  *uuid.UUID
	TokenHash  string
	Type       MagicLinkType
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Valid reports whether the link is still redeemable at the given time.
func (m *MagicLink) Valid(now time.Time) bool {
	return m.ConsumedAt == nil && m.ExpiresAt.After(now)
}
