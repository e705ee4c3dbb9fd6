package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	AccountInvited   AccountStatus = "invited"
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountDeleted   AccountStatus = "deleted"
)

// Account is a local user identity. Accounts are created in the invited
// state by signup approval and become active only when the signup token
// is consumed. Only active accounts may authenticate or post.
type Account struct {
	Id        uuid.UUID
	Username  string
	Email     string
	Intro     string
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tEmail: %s \n\tStatus: %s \n\tCREATED_AT: %s)",
		acc.Id, acc.Username, acc.Email, acc.Status, acc.CreatedAt)
}
