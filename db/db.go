package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/deemkeen/pitchconnect/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	// Accounts
	sqlInsertAccount = `INSERT INTO accounts(id, username, email, intro, status, created_at, updated_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateAccountStatus = `UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`
	sqlSelectAccountFields = `SELECT id, username, email, intro, status, created_at, updated_at FROM accounts`
	sqlSelectAccById       = sqlSelectAccountFields + ` WHERE id = ?`
	sqlSelectAccByUsername = sqlSelectAccountFields + ` WHERE username = ?`
	sqlSelectAccByEmail    = sqlSelectAccountFields + ` WHERE email = ?`

	// Signup requests
	sqlInsertSignupRequest = `INSERT INTO signup_requests(id, username, email, intro, state, created_at, updated_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectSignupRequestFields = `SELECT id, username, email, intro, state, invitation_account_id, created_at, updated_at FROM signup_requests`
	sqlSelectSignupRequestById   = sqlSelectSignupRequestFields + ` WHERE id = ?`
	sqlSelectSignupByEmail       = sqlSelectSignupRequestFields + ` WHERE email = ?`
	sqlApproveSignupRequest      = `UPDATE signup_requests SET state = 'approved', invitation_account_id = ?, updated_at = ?
                        WHERE id = ? AND state = 'pending'`
	sqlRejectSignupRequest = `UPDATE signup_requests SET state = 'rejected', updated_at = ?
                        WHERE id = ? AND state = 'pending'`
	sqlCompleteSignupRequest = `UPDATE signup_requests SET state = 'completed', updated_at = ?
                        WHERE id = ? AND state = 'approved'`
)

func (db *DB) CreateAccount(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.Email,
			acc.Intro,
			string(acc.Status),
			acc.CreatedAt,
			acc.UpdatedAt,
		)
		return err
	})
}

func (db *DB) UpdateAccountStatus(id uuid.UUID, status domain.AccountStatus) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccountStatus, string(status), time.Now(), id.String())
		return err
	})
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccById, id.String()))
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccByUsername, username))
}

func (db *DB) ReadAccByEmail(email string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccByEmail, email))
}

func (db *DB) scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr, status string
	err := row.Scan(&idStr, &acc.Username, &acc.Email, &acc.Intro, &status, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	acc.Status = domain.AccountStatus(status)
	return nil, &acc
}

func (db *DB) CreateSignupRequest(req *domain.SignupRequest) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSignupRequest,
			req.Id.String(),
			req.Username,
			req.Email,
			req.Intro,
			string(req.State),
			req.CreatedAt,
			req.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ReadSignupRequestById(id uuid.UUID) (error, *domain.SignupRequest) {
	return db.scanSignupRequest(db.db.QueryRow(sqlSelectSignupRequestById, id.String()))
}

func (db *DB) ReadSignupRequestByEmail(email string) (error, *domain.SignupRequest) {
	return db.scanSignupRequest(db.db.QueryRow(sqlSelectSignupByEmail, email))
}

func (db *DB) scanSignupRequest(row *sql.Row) (error, *domain.SignupRequest) {
	var req domain.SignupRequest
	var idStr, state string
	var invitationId sql.NullString
	err := row.Scan(&idStr, &req.Username, &req.Email, &req.Intro, &state, &invitationId, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	req.Id, _ = uuid.Parse(idStr)
	req.State = domain.SignupRequestState(state)
	if invitationId.Valid {
		parsed, perr := uuid.Parse(invitationId.String)
		if perr == nil {
			req.InvitationAccountId = &parsed
		}
	}
	return nil, &req
}

// ApproveSignupRequest creates the invited account and moves the request to
// approved as one atomic unit. Returns false without error when the request
// is no longer pending.
func (db *DB) ApproveSignupRequest(req *domain.SignupRequest, acc *domain.Account) (bool, error) {
	approved := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlApproveSignupRequest, acc.Id.String(), time.Now(), req.Id.String())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		_, err = tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.Email,
			acc.Intro,
			string(acc.Status),
			acc.CreatedAt,
			acc.UpdatedAt,
		)
		if err != nil {
			return err
		}
		approved = true
		return nil
	})
	return approved, err
}

// RejectSignupRequest moves a pending request to rejected. A no-op when
// the request already left the pending state.
func (db *DB) RejectSignupRequest(id uuid.UUID) (bool, error) {
	rejected := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlRejectSignupRequest, time.Now(), id.String())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		rejected = affected > 0
		return nil
	})
	return rejected, err
}

// CompleteSignup moves the request to completed and activates the linked
// account inside one transaction, so a failure between the two updates can
// never leave a half-completed signup.
func (db *DB) CompleteSignup(requestId uuid.UUID, accountId uuid.UUID) (bool, error) {
	completed := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlCompleteSignupRequest, time.Now(), requestId.String())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		_, err = tx.Exec(sqlUpdateAccountStatus, string(domain.AccountActive), time.Now(), accountId.String())
		if err != nil {
			return err
		}
		completed = true
		return nil
	})
	return completed, err
}

// Open opens a database at the given path, applies the connection pool
// settings and pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL mode
	var journalMode string
	err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
	if err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for the concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	database := &DB{db: sqlDB}
	if err := database.RunMigrations(); err != nil {
		return nil, err
	}
	return database, nil
}

// OpenInMemory opens a throwaway single-connection database, used by tests.
func OpenInMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// A pooled :memory: handle would open a fresh empty database per
	// connection, so pin the pool to one.
	sqlDB.SetMaxOpenConns(1)

	database := &DB{db: sqlDB}
	if err := database.RunMigrations(); err != nil {
		return nil, err
	}
	return database, nil
}

func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open("database.db")
		if err != nil {
			panic(err)
		}
		log.Printf("Database initialized with connection pooling (max 25 connections)")
		dbInstance = database
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
