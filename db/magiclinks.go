package db

import (
	"database/sql"
	"time"

	"github.com/deemkeen/pitchconnect/domain"
	"github.com/google/uuid"
)

// Magic link queries. Tokens are matched by comparing the presented raw
// value against each stored hash; there is deliberately no index on any
// plaintext-derived lookup key.
const (
	sqlInsertMagicLink = `INSERT INTO magic_links(id, account_id, request_id, token_hash, type, expires_at, consumed_at, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`
	sqlSelectMagicLinkFields = `SELECT id, account_id, request_id, token_hash, type, expires_at, consumed_at, created_at FROM magic_links`
	sqlSelectUnconsumedLinks = sqlSelectMagicLinkFields + ` WHERE consumed_at IS NULL`
	sqlSelectMagicLinkById   = sqlSelectMagicLinkFields + ` WHERE id = ?`

	// The sole concurrency-control primitive for token redemption: a single
	// conditional update. Two concurrent redeemers cannot both see one
	// affected row.
	sqlConsumeMagicLink = `UPDATE magic_links SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`
)

func (db *DB) CreateMagicLink(link *domain.MagicLink) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMagicLink,
			link.Id.String(),
			uuidPtrString(link.AccountId),
			uuidPtrString(link.RequestId),
			link.TokenHash,
			string(link.Type),
			link.ExpiresAt,
			link.CreatedAt,
		)
		return err
	})
}

// ReadUnconsumedMagicLinks returns every link that has not been consumed
// yet, across types. Expiry is evaluated lazily by the caller.
func (db *DB) ReadUnconsumedMagicLinks() (error, *[]domain.MagicLink) {
	rows, err := db.db.Query(sqlSelectUnconsumedLinks)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var links []domain.MagicLink
	for rows.Next() {
		link, err := scanMagicLink(rows)
		if err != nil {
			return err, &links
		}
		links = append(links, *link)
	}
	if err = rows.Err(); err != nil {
		return err, &links
	}
	return nil, &links
}

func (db *DB) ReadMagicLinkById(id uuid.UUID) (error, *domain.MagicLink) {
	rows, err := db.db.Query(sqlSelectMagicLinkById, id.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	if !rows.Next() {
		return sql.ErrNoRows, nil
	}
	link, err := scanMagicLink(rows)
	if err != nil {
		return err, nil
	}
	return nil, link
}

// ConsumeMagicLink atomically marks the link as consumed. Returns false
// when the link was already consumed by a concurrent redeemer.
func (db *DB) ConsumeMagicLink(id uuid.UUID, now time.Time) (bool, error) {
	res, err := db.db.Exec(sqlConsumeMagicLink, now, id.String())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func scanMagicLink(rows *sql.Rows) (*domain.MagicLink, error) {
	var link domain.MagicLink
	var idStr, linkType string
	var accountId, requestId sql.NullString
	var consumedAt sql.NullTime
	err := rows.Scan(&idStr, &accountId, &requestId, &link.TokenHash, &linkType, &link.ExpiresAt, &consumedAt, &link.CreatedAt)
	if err != nil {
		return nil, err
	}
	link.Id, _ = uuid.Parse(idStr)
	link.Type = domain.MagicLinkType(linkType)
	if accountId.Valid {
		parsed, perr := uuid.Parse(accountId.String)
		if perr == nil {
			link.AccountId = &parsed
		}
	}
	if requestId.Valid {
		parsed, perr := uuid.Parse(requestId.String)
		if perr == nil {
			link.RequestId = &parsed
		}
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		link.ConsumedAt = &t
	}
	return &link, nil
}

func uuidPtrString(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}
