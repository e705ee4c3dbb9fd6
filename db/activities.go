package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Activity queries (inbound/outbound activity log, used for deduplication)
const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity      = `UPDATE activities SET processed = ? WHERE id = ?`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
)

// Activity is an ActivityPub activity record for logging and deduplication.
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	Local        bool
	CreatedAt    time.Time
}

func (db *DB) CreateActivity(activity *Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Processed,
			activity.Local,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) MarkActivityProcessed(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity, true, id.String())
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *Activity) {
	row := db.db.QueryRow(sqlSelectActivityByURI, uri)
	var activity Activity
	var idStr string
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.Local,
		&activity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	return nil, &activity
}

// Delivery queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_uri, sender_actor_id, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, sender_actor_id, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

// DeliveryQueueItem is a queued outbound activity awaiting delivery.
type DeliveryQueueItem struct {
	Id            uuid.UUID
	InboxURI      string
	SenderActorId uuid.UUID
	ActivityJSON  string
	Attempts      int
	NextRetryAt   time.Time
	CreatedAt     time.Time
}

func (db *DB) EnqueueDelivery(item *DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxURI,
			item.SenderActorId.String(),
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []DeliveryQueueItem
	for rows.Next() {
		var item DeliveryQueueItem
		var idStr, senderIdStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &senderIdStr, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		item.SenderActorId, _ = uuid.Parse(senderIdStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
