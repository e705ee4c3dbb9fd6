package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
		id uuid NOT NULL PRIMARY KEY,
		username varchar(100) UNIQUE NOT NULL,
		email varchar(255) UNIQUE NOT NULL,
		intro text DEFAULT '',
		status varchar(20) NOT NULL DEFAULT 'invited',
		created_at timestamp DEFAULT CURRENT_TIMESTAMP,
		updated_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateSignupRequestsTable = `CREATE TABLE IF NOT EXISTS signup_requests(
		id uuid NOT NULL PRIMARY KEY,
		username varchar(100) NOT NULL,
		email varchar(255) NOT NULL,
		intro text DEFAULT '',
		state varchar(20) NOT NULL DEFAULT 'pending',
		invitation_account_id uuid REFERENCES accounts(id),
		created_at timestamp DEFAULT CURRENT_TIMESTAMP,
		updated_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateMagicLinksTable = `CREATE TABLE IF NOT EXISTS magic_links(
		id uuid NOT NULL PRIMARY KEY,
		account_id uuid REFERENCES accounts(id),
		request_id uuid REFERENCES signup_requests(id),
		token_hash text NOT NULL,
		type varchar(10) NOT NULL,
		expires_at timestamp NOT NULL,
		consumed_at timestamp,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	// At most one unconsumed signup token per request.
	sqlCreateMagicLinkIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_magic_links_request_token
			ON magic_links(request_id, type)
			WHERE consumed_at IS NULL AND type = 'signup';
		CREATE INDEX IF NOT EXISTS idx_magic_links_consumed_at ON magic_links(consumed_at);
	`

	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances(
		host text NOT NULL PRIMARY KEY,
		software text,
		software_version text,
		created timestamp DEFAULT CURRENT_TIMESTAMP,
		updated timestamp DEFAULT CURRENT_TIMESTAMP,
		CHECK (host NOT LIKE '%@%')
	)`

	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors(
		id uuid NOT NULL PRIMARY KEY,
		iri text UNIQUE NOT NULL,
		type varchar(20) NOT NULL,
		username varchar(100) NOT NULL,
		instance_host text NOT NULL REFERENCES instances(host),
		handle_host text NOT NULL,
		preferred_username varchar(100) NOT NULL,
		account_id uuid UNIQUE REFERENCES accounts(id),
		name text DEFAULT '',
		summary text DEFAULT '',
		inbox_uri text NOT NULL,
		shared_inbox_uri text DEFAULT '',
		outbox_uri text DEFAULT '',
		followers_uri text DEFAULT '',
		url text DEFAULT '',
		public_key_pem text DEFAULT '',
		followees_count int NOT NULL DEFAULT 0,
		followers_count int NOT NULL DEFAULT 0,
		posts_count int NOT NULL DEFAULT 0,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP,
		updated_at timestamp DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, instance_host),
		CHECK (username NOT LIKE '%@%')
	)`

	sqlCreateActorIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_iri ON actors(iri);
		CREATE INDEX IF NOT EXISTS idx_actors_preferred_username ON actors(preferred_username);
	`

	sqlCreateActorKeysTable = `CREATE TABLE IF NOT EXISTS actor_keys(
		actor_id uuid NOT NULL PRIMARY KEY REFERENCES actors(id) ON DELETE CASCADE,
		public_pem text NOT NULL,
		private_pem text NOT NULL
	)`

	sqlCreateFollowingsTable = `CREATE TABLE IF NOT EXISTS followings(
		iri text NOT NULL PRIMARY KEY,
		follower_id uuid NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		followee_id uuid NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		accepted timestamp,
		created timestamp DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_id, followee_id)
	)`

	sqlCreateFollowingIndices = `
		CREATE INDEX IF NOT EXISTS idx_followings_follower_id ON followings(follower_id);
		CREATE INDEX IF NOT EXISTS idx_followings_followee_id ON followings(followee_id);
	`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts(
		id uuid NOT NULL PRIMARY KEY,
		actor_id uuid NOT NULL REFERENCES actors(id),
		content text NOT NULL,
		iri text UNIQUE NOT NULL,
		published_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities(
		id uuid NOT NULL PRIMARY KEY,
		activity_uri text UNIQUE NOT NULL,
		activity_type varchar(50) NOT NULL,
		actor_uri text NOT NULL,
		object_uri text,
		raw_json text NOT NULL,
		processed int DEFAULT 0,
		local int DEFAULT 0,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue(
		id uuid NOT NULL PRIMARY KEY,
		inbox_uri text NOT NULL,
		sender_actor_id uuid NOT NULL,
		activity_json text NOT NULL,
		attempts int DEFAULT 0,
		next_retry_at timestamp DEFAULT CURRENT_TIMESTAMP,
		created_at timestamp DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			stmt string
		}{
			{"accounts", sqlCreateAccountsTable},
			{"signup_requests", sqlCreateSignupRequestsTable},
			{"magic_links", sqlCreateMagicLinksTable},
			{"instances", sqlCreateInstancesTable},
			{"actors", sqlCreateActorsTable},
			{"actor_keys", sqlCreateActorKeysTable},
			{"followings", sqlCreateFollowingsTable},
			{"posts", sqlCreatePostsTable},
			{"activities", sqlCreateActivitiesTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
		}

		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.stmt, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateMagicLinkIndices,
			sqlCreateActorIndices,
			sqlCreateFollowingIndices,
			sqlCreateDeliveryQueueIndices,
		}
		for _, stmt := range indices {
			if _, err := tx.Exec(stmt); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Printf("Table %s created or already exists", tableName)
	return nil
}
