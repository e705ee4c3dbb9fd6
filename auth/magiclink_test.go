package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/domain"
	"github.com/google/uuid"
)

func setupMagicLinks(t *testing.T) (*db.DB, *MagicLinks) {
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	return database, NewMagicLinks(database)
}

func TestIssueAndCheckValidity(t *testing.T) {
	_, links := setupMagicLinks(t)

	accId := uuid.New()
	token, err := links.Issue(IssueOptions{
		Type:             domain.MagicLinkSignin,
		AccountId:        &accId,
		ExpiresInMinutes: 15,
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(token))
	}

	link, err := links.CheckValidity(token)
	if err != nil {
		t.Fatalf("CheckValidity failed: %v", err)
	}
	if link == nil {
		t.Fatal("Expected valid link")
	}
	if link.Type != domain.MagicLinkSignin {
		t.Errorf("Expected signin link, got %s", link.Type)
	}
	if link.AccountId == nil || *link.AccountId != accId {
		t.Error("Expected account id to round-trip")
	}

	// Checking does not consume
	link, err = links.CheckValidity(token)
	if err != nil || link == nil {
		t.Fatal("Expected link to still be valid after a check")
	}
}

func TestCheckValidityUnknownToken(t *testing.T) {
	_, links := setupMagicLinks(t)

	link, err := links.CheckValidity("deadbeef")
	if err != nil {
		t.Fatalf("CheckValidity errored: %v", err)
	}
	if link != nil {
		t.Error("Expected nil for unknown token")
	}
}

func TestCheckValidityExpiredToken(t *testing.T) {
	_, links := setupMagicLinks(t)

	token, err := links.Issue(IssueOptions{
		Type:             domain.MagicLinkSignin,
		ExpiresInMinutes: -1,
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	link, err := links.CheckValidity(token)
	if err != nil {
		t.Fatalf("CheckValidity errored: %v", err)
	}
	if link != nil {
		t.Error("Expected nil for expired token")
	}
}

func TestVerifyAndConsumeExactlyOnce(t *testing.T) {
	_, links := setupMagicLinks(t)

	token, err := links.Issue(IssueOptions{Type: domain.MagicLinkSignin, ExpiresInMinutes: 15})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	link, err := links.VerifyAndConsume(token)
	if err != nil {
		t.Fatalf("VerifyAndConsume failed: %v", err)
	}
	if link == nil || link.ConsumedAt == nil {
		t.Fatal("Expected consumed link on first redemption")
	}

	link, err = links.VerifyAndConsume(token)
	if err != nil {
		t.Fatalf("Second VerifyAndConsume errored: %v", err)
	}
	if link != nil {
		t.Error("Expected nil on second redemption")
	}
}

func TestVerifyAndConsumeConcurrent(t *testing.T) {
	_, links := setupMagicLinks(t)

	token, err := links.Issue(IssueOptions{Type: domain.MagicLinkSignin, ExpiresInMinutes: 15})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	const redeemers = 5
	var wg sync.WaitGroup
	results := make(chan *domain.MagicLink, redeemers)

	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := links.VerifyAndConsume(token)
			if err != nil {
				t.Errorf("VerifyAndConsume errored: %v", err)
				return
			}
			results <- link
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for link := range results {
		if link != nil {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one redemption, got %d", winners)
	}
}

func TestConsumeSignupToken(t *testing.T) {
	database, links := setupMagicLinks(t)
	signups := NewSignups(database, links)

	req, err := signups.Request("alice", "alice@example.com", "hi")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	token, err := signups.Approve(req.Id)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if token == "" {
		t.Fatal("Expected an invitation token")
	}

	redeemed, err := links.ConsumeSignupToken(token)
	if err != nil {
		t.Fatalf("ConsumeSignupToken failed: %v", err)
	}
	if redeemed == nil {
		t.Fatal("Expected the signup request back")
	}
	if redeemed.Id != req.Id {
		t.Errorf("Expected request %s, got %s", req.Id, redeemed.Id)
	}
	if redeemed.InvitationAccountId == nil {
		t.Error("Expected a linked invitation account")
	}

	// Already consumed
	redeemed, err = links.ConsumeSignupToken(token)
	if err != nil {
		t.Fatalf("Second ConsumeSignupToken errored: %v", err)
	}
	if redeemed != nil {
		t.Error("Expected nil on second redemption")
	}
}

func TestConsumeSignupTokenWrongType(t *testing.T) {
	_, links := setupMagicLinks(t)

	accId := uuid.New()
	token, err := links.Issue(IssueOptions{
		Type:             domain.MagicLinkSignin,
		AccountId:        &accId,
		ExpiresInMinutes: 15,
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	req, err := links.ConsumeSignupToken(token)
	if err != nil {
		t.Fatalf("ConsumeSignupToken errored: %v", err)
	}
	if req != nil {
		t.Error("Expected nil when redeeming a signin token as signup")
	}
}

func TestConsumeSigninToken(t *testing.T) {
	database, links := setupMagicLinks(t)

	now := time.Now()
	acc := &domain.Account{
		Id:        uuid.New(),
		Username:  "bob",
		Email:     "bob@example.com",
		Status:    domain.AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	token, err := links.Issue(IssueOptions{
		Type:             domain.MagicLinkSignin,
		AccountId:        &acc.Id,
		ExpiresInMinutes: 15,
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	redeemed, err := links.ConsumeSigninToken(token)
	if err != nil {
		t.Fatalf("ConsumeSigninToken failed: %v", err)
	}
	if redeemed == nil || redeemed.Id != acc.Id {
		t.Fatal("Expected the account back")
	}
}

func TestConsumeSigninTokenInactiveAccount(t *testing.T) {
	database, links := setupMagicLinks(t)

	now := time.Now()
	acc := &domain.Account{
		Id:        uuid.New(),
		Username:  "mallory",
		Email:     "mallory@example.com",
		Status:    domain.AccountSuspended,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	token, err := links.Issue(IssueOptions{
		Type:             domain.MagicLinkSignin,
		AccountId:        &acc.Id,
		ExpiresInMinutes: 15,
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	redeemed, err := links.ConsumeSigninToken(token)
	if err != nil {
		t.Fatalf("ConsumeSigninToken errored: %v", err)
	}
	if redeemed != nil {
		t.Error("Expected nil for a suspended account")
	}
}
