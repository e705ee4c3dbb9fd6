package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/domain"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/google/uuid"
)

// SignupTokenTTL is the validity window of an invitation link.
const SignupTokenTTL = 24 * 60 // minutes

// SigninTokenTTL is kept short since signin links target existing accounts.
const SigninTokenTTL = 15 // minutes

// ErrEmailTaken is returned when a signup request or account already uses
// the email. Unlike token failures this conflict is surfaced distinctly; it
// carries no secret.
var ErrEmailTaken = errors.New("email already registered")

// Signups drives the signup request lifecycle: request -> approve (invited
// account + invitation link) -> complete (active account).
type Signups struct {
	db    *db.DB
	links *MagicLinks
}

func NewSignups(database *db.DB, links *MagicLinks) *Signups {
	return &Signups{db: database, links: links}
}

// Request records a new pending signup request.
func (s *Signups) Request(username, email, intro string) (*domain.SignupRequest, error) {
	err, existing := s.db.ReadSignupRequestByEmail(email)
	if err == nil && existing != nil {
		return nil, ErrEmailTaken
	}
	err, acc := s.db.ReadAccByEmail(email)
	if err == nil && acc != nil {
		return nil, ErrEmailTaken
	}

	now := time.Now()
	req := &domain.SignupRequest{
		Id:        uuid.New(),
		Username:  util.NormalizeInput(username),
		Email:     email,
		Intro:     util.NormalizeInput(intro),
		State:     domain.SignupPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateSignupRequest(req); err != nil {
		return nil, fmt.Errorf("failed to create signup request: %w", err)
	}

	log.Printf("Signups: new request %s for %s", req.Id, req.Username)
	return req, nil
}

// Approve creates the invited account, links it to the request and issues
// the signup magic link. Returns the raw invitation token. Approving a
// request that already left the pending state is a no-op returning empty.
func (s *Signups) Approve(requestId uuid.UUID) (string, error) {
	err, req := s.db.ReadSignupRequestById(requestId)
	if err != nil || req == nil {
		return "", fmt.Errorf("signup request not found: %w", err)
	}

	now := time.Now()
	acc := &domain.Account{
		Id:        uuid.New(),
		Username:  req.Username,
		Email:     req.Email,
		Intro:     req.Intro,
		Status:    domain.AccountInvited,
		CreatedAt: now,
		UpdatedAt: now,
	}

	approved, err := s.db.ApproveSignupRequest(req, acc)
	if err != nil {
		return "", fmt.Errorf("failed to approve signup request: %w", err)
	}
	if !approved {
		log.Printf("Signups: request %s not pending, skipping approval", req.Id)
		return "", nil
	}

	token, err := s.links.Issue(IssueOptions{
		Type:             domain.MagicLinkSignup,
		AccountId:        &acc.Id,
		RequestId:        &req.Id,
		ExpiresInMinutes: SignupTokenTTL,
	})
	if err != nil {
		return "", err
	}

	log.Printf("Signups: approved request %s, account %s invited", req.Id, acc.Id)
	return token, nil
}

// Reject moves a pending request to rejected. A no-op when already decided.
func (s *Signups) Reject(requestId uuid.UUID) error {
	rejected, err := s.db.RejectSignupRequest(requestId)
	if err != nil {
		return fmt.Errorf("failed to reject signup request: %w", err)
	}
	if !rejected {
		log.Printf("Signups: request %s not pending, skipping rejection", requestId)
	}
	return nil
}

// Complete finishes the signup for an approved request: the request moves to
// completed and the linked account becomes active as one atomic unit.
func (s *Signups) Complete(req *domain.SignupRequest) (*domain.Account, error) {
	if req.InvitationAccountId == nil {
		return nil, nil
	}

	completed, err := s.db.CompleteSignup(req.Id, *req.InvitationAccountId)
	if err != nil {
		return nil, fmt.Errorf("failed to complete signup: %w", err)
	}
	if !completed {
		log.Printf("Signups: request %s not approved, skipping completion", req.Id)
		return nil, nil
	}

	err, acc := s.db.ReadAccById(*req.InvitationAccountId)
	if err != nil || acc == nil {
		return nil, fmt.Errorf("account not found after activation: %w", err)
	}

	log.Printf("Signups: completed signup for %s <%s>", acc.Username, acc.Email)
	return acc, nil
}

// RequestSignin issues a signin link for the account registered under the
// email. Returns empty without error when no active account matches, so
// callers respond identically either way and emails cannot be enumerated.
func (s *Signups) RequestSignin(email string) (string, error) {
	err, acc := s.db.ReadAccByEmail(email)
	if err != nil || acc == nil {
		return "", nil
	}
	if acc.Status != domain.AccountActive {
		return "", nil
	}

	return s.links.Issue(IssueOptions{
		Type:             domain.MagicLinkSignin,
		AccountId:        &acc.Id,
		ExpiresInMinutes: SigninTokenTTL,
	})
}
