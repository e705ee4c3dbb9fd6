package auth

import (
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/domain"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/google/uuid"
)

// DefaultTokenTTL applies when IssueOptions does not set ExpiresInMinutes.
const DefaultTokenTTL = 30 * time.Minute

// MagicLinks issues, validates and single-use-consumes opaque bearer tokens
// for the signup and signin flows.
type MagicLinks struct {
	db *db.DB
}

func NewMagicLinks(database *db.DB) *MagicLinks {
	return &MagicLinks{db: database}
}

// IssueOptions parameterizes a new magic link.
type IssueOptions struct {
	Type             domain.MagicLinkType
	AccountId        *uuid.UUID
	RequestId        *uuid.UUID
	ExpiresInMinutes int
}

// Issue generates a raw token, stores its hash with the expiry, and returns
// the raw value. The raw token is returned exactly once; losing it makes the
// record permanently unredeemable and a new link must be issued.
func (m *MagicLinks) Issue(opts IssueOptions) (string, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return "", err
	}

	hash, err := util.HashToken(token)
	if err != nil {
		return "", err
	}

	ttl := DefaultTokenTTL
	if opts.ExpiresInMinutes != 0 {
		ttl = time.Duration(opts.ExpiresInMinutes) * time.Minute
	}

	now := time.Now()
	link := &domain.MagicLink{
		Id:        uuid.New(),
		AccountId: opts.AccountId,
		RequestId: opts.RequestId,
		TokenHash: hash,
		Type:      opts.Type,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	if err := m.db.CreateMagicLink(link); err != nil {
		return "", fmt.Errorf("failed to store magic link: %w", err)
	}

	return token, nil
}

// CheckValidity looks up the link matching the raw token without consuming
// it. Matching scans all unconsumed links and compares against each stored
// hash; there is intentionally no plaintext-derived lookup key. Returns nil
// when nothing matches or the match is expired.
func (m *MagicLinks) CheckValidity(token string) (*domain.MagicLink, error) {
	err, links := m.db.ReadUnconsumedMagicLinks()
	if err != nil {
		return nil, fmt.Errorf("failed to read magic links: %w", err)
	}

	now := time.Now()
	for i := range *links {
		link := &(*links)[i]
		if !util.CompareTokenHash(link.TokenHash, token) {
			continue
		}
		if !link.ExpiresAt.After(now) {
			log.Printf("MagicLinks: matched token %s is expired", link.Id)
			return nil, nil
		}
		return link, nil
	}

	return nil, nil
}

// VerifyAndConsume matches like CheckValidity, then atomically marks the
// link consumed. When a concurrent redeemer wins the race the conditional
// update affects zero rows and the result is not-found, so exactly one
// caller ever consumes a given token.
func (m *MagicLinks) VerifyAndConsume(token string) (*domain.MagicLink, error) {
	link, err := m.CheckValidity(token)
	if err != nil || link == nil {
		return nil, err
	}

	now := time.Now()
	consumed, err := m.db.ConsumeMagicLink(link.Id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume magic link: %w", err)
	}
	if !consumed {
		log.Printf("MagicLinks: lost consumption race for token %s", link.Id)
		return nil, nil
	}

	link.ConsumedAt = &now
	return link, nil
}

// ConsumeSignupToken consumes a signup token and returns the linked signup
// request, but only when the request was approved and has a linked account.
// Expired, wrong-type, already-used and orphaned tokens all collapse into a
// nil result; callers must not distinguish these cases outward.
func (m *MagicLinks) ConsumeSignupToken(token string) (*domain.SignupRequest, error) {
	link, err := m.VerifyAndConsume(token)
	if err != nil {
		return nil, err
	}
	if link == nil || link.Type != domain.MagicLinkSignup || link.RequestId == nil {
		return nil, nil
	}

	err, req := m.db.ReadSignupRequestById(*link.RequestId)
	if err != nil || req == nil {
		log.Printf("MagicLinks: signup token %s has no signup request", link.Id)
		return nil, nil
	}
	if req.State != domain.SignupApproved || req.InvitationAccountId == nil {
		log.Printf("MagicLinks: signup request %s not redeemable (state %s)", req.Id, req.State)
		return nil, nil
	}

	return req, nil
}

// ConsumeSigninToken consumes a signin token and returns the linked account,
// but only when the account is active. All other outcomes are nil.
func (m *MagicLinks) ConsumeSigninToken(token string) (*domain.Account, error) {
	link, err := m.VerifyAndConsume(token)
	if err != nil {
		return nil, err
	}
	if link == nil || link.Type != domain.MagicLinkSignin || link.AccountId == nil {
		return nil, nil
	}

	err, acc := m.db.ReadAccById(*link.AccountId)
	if err != nil || acc == nil {
		log.Printf("MagicLinks: signin token %s has no account", link.Id)
		return nil, nil
	}
	if acc.Status != domain.AccountActive {
		log.Printf("MagicLinks: account %s not active (status %s)", acc.Id, acc.Status)
		return nil, nil
	}

	return acc, nil
}
