package domain

import (
	"time"

	"github.com/google/uuid"
)

type SignupRequestState string

const (
	SignupPending   SignupRequestState = "pending"
	SignupApproved  SignupRequestState = "approved"
	SignupRejected  SignupRequestState = "rejected"
	SignupCompleted SignupRequestState = "completed"
)

// SignupRequest is a pending application for an account. State moves
// strictly pending -> approved -> completed (or pending -> rejected),
// never backward. InvitationAccountId is set at approval time.
type SignupRequest struct {
	Id                  uuid.UUID
	Username            string
	Email               string
	Intro               string
	State               SignupRequestState
	InvitationAccountId *uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
