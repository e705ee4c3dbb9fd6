package db

import (
	"database/sql"

	"github.com/google/uuid"
)

// Actor key queries. Private keys never leave this table; actor documents
// only expose the public half.
const (
	sqlInsertActorKeys = `INSERT INTO actor_keys(actor_id, public_pem, private_pem)
                        VALUES (?, ?, ?)
                        ON CONFLICT(actor_id) DO NOTHING`
	sqlSelectActorKeys = `SELECT actor_id, public_pem, private_pem FROM actor_keys WHERE actor_id = ?`
)

// ActorKeys holds the signing keypair of a local actor.
type ActorKeys struct {
	ActorId    uuid.UUID
	PublicPem  string
	PrivatePem string
}

func (db *DB) CreateActorKeys(keys *ActorKeys) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActorKeys,
			keys.ActorId.String(),
			keys.PublicPem,
			keys.PrivatePem,
		)
		return err
	})
}

func (db *DB) ReadActorKeys(actorId uuid.UUID) (error, *ActorKeys) {
	row := db.db.QueryRow(sqlSelectActorKeys, actorId.String())
	var keys ActorKeys
	var idStr string
	err := row.Scan(&idStr, &keys.PublicPem, &keys.PrivatePem)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	keys.ActorId, _ = uuid.Parse(idStr)
	return nil, &keys
}
