package db

import (
	"database/sql"
	"time"

	"github.com/deemkeen/pitchconnect/domain"
	"github.com/google/uuid"
)

// Instance queries
const (
	sqlUpsertInstance = `INSERT INTO instances(host, software, software_version, created, updated)
                        VALUES (?, ?, ?, ?, ?)
                        ON CONFLICT(host) DO UPDATE SET
                            software = excluded.software,
                            software_version = excluded.software_version,
                            updated = excluded.updated`
	sqlSelectInstanceByHost = `SELECT host, software, software_version, created, updated FROM instances WHERE host = ?`
)

func (db *DB) UpsertInstance(inst *domain.Instance) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertInstance,
			inst.Host,
			inst.Software,
			inst.SoftwareVersion,
			inst.Created,
			inst.Updated,
		)
		return err
	})
}

func (db *DB) ReadInstanceByHost(host string) (error, *domain.Instance) {
	row := db.db.QueryRow(sqlSelectInstanceByHost, host)
	var inst domain.Instance
	err := row.Scan(&inst.Host, &inst.Software, &inst.SoftwareVersion, &inst.Created, &inst.Updated)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &inst
}

// Actor queries
const (
	sqlActorColumns = `id, iri, type, username, instance_host, handle_host, preferred_username,
                        account_id, name, summary, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri,
                        url, public_key_pem, followees_count, followers_count, posts_count, created_at, updated_at`

	sqlInsertActorValues = `(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Upsert keyed by account_id: one actor per local account, repeated syncs
	// refresh mutable fields without duplicating rows.
	sqlUpsertActorForAccount = `INSERT INTO actors(` + sqlActorColumns + `) VALUES ` + sqlInsertActorValues + `
                        ON CONFLICT(account_id) DO UPDATE SET
                            iri = excluded.iri,
                            type = excluded.type,
                            username = excluded.username,
                            instance_host = excluded.instance_host,
                            handle_host = excluded.handle_host,
                            preferred_username = excluded.preferred_username,
                            name = excluded.name,
                            summary = excluded.summary,
                            inbox_uri = excluded.inbox_uri,
                            shared_inbox_uri = excluded.shared_inbox_uri,
                            outbox_uri = excluded.outbox_uri,
                            followers_uri = excluded.followers_uri,
                            url = excluded.url,
                            public_key_pem = excluded.public_key_pem,
                            updated_at = excluded.updated_at`

	// Upsert keyed by iri: remote actors are cached per federation identifier.
	sqlUpsertActorByIRI = `INSERT INTO actors(` + sqlActorColumns + `) VALUES ` + sqlInsertActorValues + `
                        ON CONFLICT(iri) DO UPDATE SET
                            type = excluded.type,
                            username = excluded.username,
                            handle_host = excluded.handle_host,
                            preferred_username = excluded.preferred_username,
                            name = excluded.name,
                            summary = excluded.summary,
                            inbox_uri = excluded.inbox_uri,
                            shared_inbox_uri = excluded.shared_inbox_uri,
                            outbox_uri = excluded.outbox_uri,
                            followers_uri = excluded.followers_uri,
                            url = excluded.url,
                            public_key_pem = excluded.public_key_pem,
                            updated_at = excluded.updated_at`

	sqlSelectActorFields         = `SELECT ` + sqlActorColumns + ` FROM actors`
	sqlSelectActorById           = sqlSelectActorFields + ` WHERE id = ?`
	sqlSelectActorByIRI          = sqlSelectActorFields + ` WHERE iri = ?`
	sqlSelectActorByAccountId    = sqlSelectActorFields + ` WHERE account_id = ?`
	sqlSelectLocalActorByUsername = sqlSelectActorFields + ` WHERE preferred_username = ? AND account_id IS NOT NULL`
)

func (db *DB) UpsertActorForAccount(actor *domain.Actor) error {
	return db.upsertActor(sqlUpsertActorForAccount, actor)
}

func (db *DB) UpsertRemoteActor(actor *domain.Actor) error {
	return db.upsertActor(sqlUpsertActorByIRI, actor)
}

func (db *DB) upsertActor(query string, actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(query,
			actor.Id.String(),
			actor.IRI,
			string(actor.Type),
			actor.Username,
			actor.InstanceHost,
			actor.HandleHost,
			actor.PreferredUsername,
			uuidPtrString(actor.AccountId),
			actor.Name,
			actor.Summary,
			actor.InboxURI,
			actor.SharedInboxURI,
			actor.OutboxURI,
			actor.FollowersURI,
			actor.URL,
			actor.PublicKeyPem,
			actor.FolloweesCount,
			actor.FollowersCount,
			actor.PostsCount,
			actor.CreatedAt,
			actor.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ReadActorByIRI(iri string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByIRI, iri))
}

func (db *DB) ReadActorByAccountId(accountId uuid.UUID) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByAccountId, accountId.String()))
}

func (db *DB) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectLocalActorByUsername, username))
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActor(row rowScanner) (error, *domain.Actor) {
	var actor domain.Actor
	var idStr, actorType string
	var accountId sql.NullString
	err := row.Scan(
		&idStr,
		&actor.IRI,
		&actorType,
		&actor.Username,
		&actor.InstanceHost,
		&actor.HandleHost,
		&actor.PreferredUsername,
		&accountId,
		&actor.Name,
		&actor.Summary,
		&actor.InboxURI,
		&actor.SharedInboxURI,
		&actor.OutboxURI,
		&actor.FollowersURI,
		&actor.URL,
		&actor.PublicKeyPem,
		&actor.FolloweesCount,
		&actor.FollowersCount,
		&actor.PostsCount,
		&actor.CreatedAt,
		&actor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	actor.Id, _ = uuid.Parse(idStr)
	actor.Type = domain.ActorType(actorType)
	if accountId.Valid {
		parsed, perr := uuid.Parse(accountId.String)
		if perr == nil {
			actor.AccountId = &parsed
		}
	}
	return nil, &actor
}

// Following queries
const (
	// Duplicate follows are not an error, just ignored. The bare conflict
	// clause also covers a redelivered activity re-inserting its iri.
	sqlInsertFollowing = `INSERT INTO followings(iri, follower_id, followee_id, accepted, created)
                        VALUES (?, ?, ?, ?, ?)
                        ON CONFLICT DO NOTHING`
	sqlSelectFollowingFields = `SELECT iri, follower_id, followee_id, accepted, created FROM followings`
	sqlSelectFollowingByIRI  = sqlSelectFollowingFields + ` WHERE iri = ?`
	sqlSelectFollowingByPair = sqlSelectFollowingFields + ` WHERE follower_id = ? AND followee_id = ?`

	// Accepting is guarded by accepted IS NULL so re-accepting an already
	// accepted edge affects zero rows.
	sqlAcceptFollowingByIRI  = `UPDATE followings SET accepted = ? WHERE iri = ? AND accepted IS NULL`
	sqlAcceptFollowingByPair = `UPDATE followings SET accepted = ? WHERE follower_id = ? AND followee_id = ? AND accepted IS NULL`

	sqlDeleteFollowingByIRI  = `DELETE FROM followings WHERE iri = ?`
	sqlDeleteFollowingByPair = `DELETE FROM followings WHERE follower_id = ? AND followee_id = ?`

	// actors.* matches sqlActorColumns; the table is created in that order.
	sqlSelectAcceptedFollowers = `SELECT actors.* FROM actors
                        INNER JOIN followings ON followings.follower_id = actors.id
                        WHERE followings.followee_id = ? AND followings.accepted IS NOT NULL`

	// Counter maintenance. Remote actors (no linked account) trust our own
	// bookkeeping and take the delta; local actors always recompute from the
	// accepted edges in the same statement, so no read/write race can drift
	// a user-visible count.
	sqlUpdateFolloweesCount = `UPDATE actors SET followees_count =
                        CASE WHEN account_id IS NULL
                            THEN followees_count + ?
                            ELSE (SELECT count(*) FROM followings
                                  WHERE follower_id = ? AND accepted IS NOT NULL)
                        END
                        WHERE id = ?`
	sqlUpdateFollowersCount = `UPDATE actors SET followers_count =
                        CASE WHEN account_id IS NULL
                            THEN followers_count + ?
                            ELSE (SELECT count(*) FROM followings
                                  WHERE followee_id = ? AND accepted IS NOT NULL)
                        END
                        WHERE id = ?`
)

// CreateFollowing inserts a follow edge, ignoring conflicts on the
// (follower, followee) pair. Returns true only for a genuinely new edge.
func (db *DB) CreateFollowing(f *domain.Following) (bool, error) {
	inserted := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertFollowing,
			f.IRI,
			f.FollowerId.String(),
			f.FolloweeId.String(),
			timePtr(f.Accepted),
			f.Created,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = affected > 0
		return nil
	})
	return inserted, err
}

func (db *DB) ReadFollowingByIRI(iri string) (error, *domain.Following) {
	return scanFollowing(db.db.QueryRow(sqlSelectFollowingByIRI, iri))
}

func (db *DB) ReadFollowingByPair(followerId, followeeId uuid.UUID) (error, *domain.Following) {
	return scanFollowing(db.db.QueryRow(sqlSelectFollowingByPair, followerId.String(), followeeId.String()))
}

// AcceptFollowingByIRI transitions a pending edge to accepted. Returns nil
// when the edge is absent or no longer pending.
func (db *DB) AcceptFollowingByIRI(iri string, now time.Time) (*domain.Following, error) {
	res, err := db.db.Exec(sqlAcceptFollowingByIRI, now, iri)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil || affected == 0 {
		return nil, err
	}
	err, f := db.ReadFollowingByIRI(iri)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// AcceptFollowingByPair is the pair-keyed variant used by local approval
// flows. Same guard and no-op semantics as AcceptFollowingByIRI.
func (db *DB) AcceptFollowingByPair(followerId, followeeId uuid.UUID, now time.Time) (*domain.Following, error) {
	res, err := db.db.Exec(sqlAcceptFollowingByPair, now, followerId.String(), followeeId.String())
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil || affected == 0 {
		return nil, err
	}
	err, f := db.ReadFollowingByPair(followerId, followeeId)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteFollowingByPair removes the edge and returns the deleted row, or nil
// when no edge existed.
func (db *DB) DeleteFollowingByPair(followerId, followeeId uuid.UUID) (*domain.Following, error) {
	var deleted *domain.Following
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		err, f := scanFollowing(tx.QueryRow(sqlSelectFollowingByPair, followerId.String(), followeeId.String()))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(sqlDeleteFollowingByPair, followerId.String(), followeeId.String()); err != nil {
			return err
		}
		deleted = f
		return nil
	})
	return deleted, err
}

// DeleteFollowingByIRI removes the edge identified by its activity IRI and
// returns the deleted row, or nil when no edge existed.
func (db *DB) DeleteFollowingByIRI(iri string) (*domain.Following, error) {
	var deleted *domain.Following
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		err, f := scanFollowing(tx.QueryRow(sqlSelectFollowingByIRI, iri))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(sqlDeleteFollowingByIRI, iri); err != nil {
			return err
		}
		deleted = f
		return nil
	})
	return deleted, err
}

// ReadAcceptedFollowers returns the actors with an accepted follow edge
// towards the given followee, used for outbound fan-out.
func (db *DB) ReadAcceptedFollowers(followeeId uuid.UUID) (error, *[]domain.Actor) {
	rows, err := db.db.Query(sqlSelectAcceptedFollowers, followeeId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		err, actor := scanActor(rows)
		if err != nil {
			return err, &actors
		}
		actors = append(actors, *actor)
	}
	if err = rows.Err(); err != nil {
		return err, &actors
	}
	return nil, &actors
}

func (db *DB) UpdateFolloweesCount(actorId uuid.UUID, delta int) error {
	_, err := db.db.Exec(sqlUpdateFolloweesCount, delta, actorId.String(), actorId.String())
	return err
}

func (db *DB) UpdateFollowersCount(actorId uuid.UUID, delta int) error {
	_, err := db.db.Exec(sqlUpdateFollowersCount, delta, actorId.String(), actorId.String())
	return err
}

func scanFollowing(row *sql.Row) (error, *domain.Following) {
	var f domain.Following
	var followerId, followeeId string
	var accepted sql.NullTime
	err := row.Scan(&f.IRI, &followerId, &followeeId, &accepted, &f.Created)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	f.FollowerId, _ = uuid.Parse(followerId)
	f.FolloweeId, _ = uuid.Parse(followeeId)
	if accepted.Valid {
		t := accepted.Time
		f.Accepted = &t
	}
	return nil, &f
}

func timePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Post queries
const (
	sqlInsertPost = `INSERT INTO posts(id, actor_id, content, iri, published_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectRecentPosts = `SELECT posts.id, posts.actor_id, posts.content, posts.iri, posts.published_at, actors.preferred_username
                        FROM posts INNER JOIN actors ON actors.id = posts.actor_id
                        ORDER BY posts.published_at DESC LIMIT ?`
	sqlSelectPostsByUsername = `SELECT posts.id, posts.actor_id, posts.content, posts.iri, posts.published_at, actors.preferred_username
                        FROM posts INNER JOIN actors ON actors.id = posts.actor_id
                        WHERE actors.preferred_username = ?
                        ORDER BY posts.published_at DESC`
	sqlUpdatePostsCount = `UPDATE actors SET posts_count = (SELECT count(*) FROM posts WHERE actor_id = ?) WHERE id = ?`
)

// PostWithAuthor joins a post to the publishing actor's username for feeds.
type PostWithAuthor struct {
	domain.Post
	Username string
}

func (db *DB) CreatePost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlInsertPost,
			post.Id.String(),
			post.ActorId.String(),
			post.Content,
			post.IRI,
			post.PublishedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(sqlUpdatePostsCount, post.ActorId.String(), post.ActorId.String())
		return err
	})
}

func (db *DB) ReadRecentPosts(limit int) (error, *[]PostWithAuthor) {
	return db.queryPosts(sqlSelectRecentPosts, limit)
}

func (db *DB) ReadPostsByUsername(username string) (error, *[]PostWithAuthor) {
	return db.queryPosts(sqlSelectPostsByUsername, username)
}

func (db *DB) queryPosts(query string, args ...interface{}) (error, *[]PostWithAuthor) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []PostWithAuthor
	for rows.Next() {
		var post PostWithAuthor
		var idStr, actorIdStr string
		if err := rows.Scan(&idStr, &actorIdStr, &post.Content, &post.IRI, &post.PublishedAt, &post.Username); err != nil {
			return err, &posts
		}
		post.Id, _ = uuid.Parse(idStr)
		post.ActorId, _ = uuid.Parse(actorIdStr)
		posts = append(posts, post)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}
	return nil, &posts
}
