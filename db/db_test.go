package db

import (
	"testing"
	"time"

	"github.com/deemkeen/pitchconnect/domain"
	"github.com/google/uuid"
)

// setupTestDB creates an in-memory SQLite database with the full schema
func setupTestDB(t *testing.T) *DB {
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	return database
}

func newTestAccount(username, email string, status domain.AccountStatus) *domain.Account {
	now := time.Now()
	return &domain.Account{
		Id:        uuid.New(),
		Username:  username,
		Email:     email,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestSignupRequest(username, email string) *domain.SignupRequest {
	now := time.Now()
	return &domain.SignupRequest{
		Id:        uuid.New(),
		Username:  username,
		Email:     email,
		State:     domain.SignupPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndReadAccount(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	acc := newTestAccount("alice", "alice@example.com", domain.AccountActive)
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	err, read := database.ReadAccById(acc.Id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}
	if read.Username != "alice" {
		t.Errorf("Expected username alice, got %s", read.Username)
	}
	if read.Status != domain.AccountActive {
		t.Errorf("Expected status active, got %s", read.Status)
	}

	err, byEmail := database.ReadAccByEmail("alice@example.com")
	if err != nil || byEmail == nil {
		t.Fatalf("ReadAccByEmail failed: %v", err)
	}
	if byEmail.Id != acc.Id {
		t.Errorf("Expected id %s, got %s", acc.Id, byEmail.Id)
	}

	err, byUsername := database.ReadAccByUsername("alice")
	if err != nil || byUsername == nil {
		t.Fatalf("ReadAccByUsername failed: %v", err)
	}
}

func TestReadAccountNotFound(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	err, acc := database.ReadAccById(uuid.New())
	if err == nil {
		t.Error("Expected error for missing account")
	}
	if acc != nil {
		t.Error("Expected nil account for missing id")
	}
}

func TestUpdateAccountStatus(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	acc := newTestAccount("bob", "bob@example.com", domain.AccountInvited)
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	if err := database.UpdateAccountStatus(acc.Id, domain.AccountActive); err != nil {
		t.Fatalf("UpdateAccountStatus failed: %v", err)
	}

	err, read := database.ReadAccById(acc.Id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}
	if read.Status != domain.AccountActive {
		t.Errorf("Expected status active, got %s", read.Status)
	}
}

func TestApproveSignupRequest(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	req := newTestSignupRequest("carol", "carol@example.com")
	if err := database.CreateSignupRequest(req); err != nil {
		t.Fatalf("CreateSignupRequest failed: %v", err)
	}

	acc := newTestAccount("carol", "carol@example.com", domain.AccountInvited)
	approved, err := database.ApproveSignupRequest(req, acc)
	if err != nil {
		t.Fatalf("ApproveSignupRequest failed: %v", err)
	}
	if !approved {
		t.Fatal("Expected approval of pending request")
	}

	err, read := database.ReadSignupRequestById(req.Id)
	if err != nil {
		t.Fatalf("ReadSignupRequestById failed: %v", err)
	}
	if read.State != domain.SignupApproved {
		t.Errorf("Expected state approved, got %s", read.State)
	}
	if read.InvitationAccountId == nil || *read.InvitationAccountId != acc.Id {
		t.Error("Expected invitation account id to be linked")
	}

	// The invited account must exist
	err, invited := database.ReadAccById(acc.Id)
	if err != nil || invited == nil {
		t.Fatalf("Invited account missing: %v", err)
	}
	if invited.Status != domain.AccountInvited {
		t.Errorf("Expected status invited, got %s", invited.Status)
	}
}

func TestApproveSignupRequestTwiceIsNoop(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	req := newTestSignupRequest("dave", "dave@example.com")
	if err := database.CreateSignupRequest(req); err != nil {
		t.Fatalf("CreateSignupRequest failed: %v", err)
	}

	first := newTestAccount("dave", "dave@example.com", domain.AccountInvited)
	approved, err := database.ApproveSignupRequest(req, first)
	if err != nil || !approved {
		t.Fatalf("First approval failed: approved=%v err=%v", approved, err)
	}

	second := newTestAccount("dave2", "dave2@example.com", domain.AccountInvited)
	approved, err = database.ApproveSignupRequest(req, second)
	if err != nil {
		t.Fatalf("Second approval errored: %v", err)
	}
	if approved {
		t.Error("Expected second approval to be a no-op")
	}

	// No second account created
	err, acc := database.ReadAccById(second.Id)
	if acc != nil {
		t.Error("Expected no account from the no-op approval")
	}
	_ = err
}

func TestRejectSignupRequest(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	req := newTestSignupRequest("erin", "erin@example.com")
	if err := database.CreateSignupRequest(req); err != nil {
		t.Fatalf("CreateSignupRequest failed: %v", err)
	}

	rejected, err := database.RejectSignupRequest(req.Id)
	if err != nil {
		t.Fatalf("RejectSignupRequest failed: %v", err)
	}
	if !rejected {
		t.Fatal("Expected rejection of pending request")
	}

	rejected, err = database.RejectSignupRequest(req.Id)
	if err != nil {
		t.Fatalf("Second rejection errored: %v", err)
	}
	if rejected {
		t.Error("Expected second rejection to be a no-op")
	}
}

func TestCompleteSignup(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	req := newTestSignupRequest("frank", "frank@example.com")
	if err := database.CreateSignupRequest(req); err != nil {
		t.Fatalf("CreateSignupRequest failed: %v", err)
	}
	acc := newTestAccount("frank", "frank@example.com", domain.AccountInvited)
	if _, err := database.ApproveSignupRequest(req, acc); err != nil {
		t.Fatalf("ApproveSignupRequest failed: %v", err)
	}

	completed, err := database.CompleteSignup(req.Id, acc.Id)
	if err != nil {
		t.Fatalf("CompleteSignup failed: %v", err)
	}
	if !completed {
		t.Fatal("Expected completion of approved request")
	}

	err, read := database.ReadSignupRequestById(req.Id)
	if err != nil {
		t.Fatalf("ReadSignupRequestById failed: %v", err)
	}
	if read.State != domain.SignupCompleted {
		t.Errorf("Expected state completed, got %s", read.State)
	}

	err, account := database.ReadAccById(acc.Id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}
	if account.Status != domain.AccountActive {
		t.Errorf("Expected account active after completion, got %s", account.Status)
	}

	// Completing again is a no-op
	completed, err = database.CompleteSignup(req.Id, acc.Id)
	if err != nil {
		t.Fatalf("Second completion errored: %v", err)
	}
	if completed {
		t.Error("Expected second completion to be a no-op")
	}
}

func TestCompleteSignupRequiresApproval(t *testing.T) {
	database := setupTestDB(t)
	defer database.db.Close()

	req := newTestSignupRequest("grace", "grace@example.com")
	if err := database.CreateSignupRequest(req); err != nil {
		t.Fatalf("CreateSignupRequest failed: %v", err)
	}
	acc := newTestAccount("grace", "grace@example.com", domain.AccountInvited)
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	completed, err := database.CompleteSignup(req.Id, acc.Id)
	if err != nil {
		t.Fatalf("CompleteSignup errored: %v", err)
	}
	if completed {
		t.Error("Expected completion of a pending request to be refused")
	}

	// Account untouched
	err, account := database.ReadAccById(acc.Id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}
	if account.Status != domain.AccountInvited {
		t.Errorf("Expected account still invited, got %s", account.Status)
	}
}
