package activitypub

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/domain"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/google/uuid"
)

// Engine drives the follow relationship state machine. All writes go
// through the db layer's guarded statements, so concurrent calls converge
// on the same edge instead of erroring; outbound side effects are queued
// after the local state is committed and never rolled back.
type Engine struct {
	db     *db.DB
	fed    Context
	client *http.Client
}

func NewEngine(database *db.DB, fed Context) *Engine {
	return &Engine{
		db:     database,
		fed:    fed,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SyncActorFromAccount mirrors a local account into the actors table:
// the local instance row is refreshed, the actor is upserted keyed by the
// account id, and a signing keypair is created on first sync. Denormalized
// counts are left untouched on re-sync.
func (e *Engine) SyncActorFromAccount(acc *domain.Account) (*domain.Actor, error) {
	host := e.fed.Host()
	now := time.Now()

	if err := e.db.UpsertInstance(&domain.Instance{
		Host:            host,
		Software:        "pitchconnect",
		SoftwareVersion: util.GetVersion(),
		Created:         now,
		Updated:         now,
	}); err != nil {
		return nil, fmt.Errorf("failed to upsert local instance: %w", err)
	}

	actorId := uuid.New()
	publicPem := ""
	var newKeys *util.RsaKeyPair

	// Only a missing row may take the new-actor branch; the published key
	// must stay paired with the stored private key across re-syncs.
	err, existing := e.db.ReadActorByAccountId(acc.Id)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read actor for %s: %w", acc.Username, err)
	}
	if existing != nil {
		actorId = existing.Id
		publicPem = existing.PublicKeyPem
	} else {
		newKeys = util.GeneratePemKeypair()
		publicPem = newKeys.Public
	}

	actorURI := e.fed.ActorURI(acc.Username)
	actor := &domain.Actor{
		Id:                actorId,
		IRI:               actorURI,
		Type:              domain.ActorPerson,
		Username:          acc.Username,
		InstanceHost:      host,
		HandleHost:        host,
		PreferredUsername: acc.Username,
		AccountId:         &acc.Id,
		Name:              acc.Username,
		Summary:           acc.Intro,
		InboxURI:          e.fed.InboxURI(acc.Username),
		SharedInboxURI:    e.fed.SharedInboxURI(),
		OutboxURI:         actorURI + "/outbox",
		FollowersURI:      actorURI + "/followers",
		URL:               fmt.Sprintf("https://%s/@%s", host, acc.Username),
		PublicKeyPem:      publicPem,
		CreatedAt:         acc.CreatedAt,
		UpdatedAt:         now,
	}

	if err := e.db.UpsertActorForAccount(actor); err != nil {
		return nil, fmt.Errorf("failed to upsert actor: %w", err)
	}

	if newKeys != nil {
		if err := e.db.CreateActorKeys(&db.ActorKeys{
			ActorId:    actorId,
			PublicPem:  newKeys.Public,
			PrivatePem: newKeys.Private,
		}); err != nil {
			return nil, fmt.Errorf("failed to store actor keys: %w", err)
		}
	}

	err, synced := e.db.ReadActorByAccountId(acc.Id)
	if err != nil {
		return nil, err
	}
	return synced, nil
}

// Follow creates a follow edge from a local actor. Following a local actor
// is accepted immediately and both counters move; following a remote actor
// leaves the edge pending and queues an outbound Follow. A duplicate follow
// is a no-op returning nil.
func (e *Engine) Follow(follower *domain.Actor, followee *domain.Actor) (*domain.Following, error) {
	if !follower.Local() {
		return nil, fmt.Errorf("follower %s is not a local actor", follower.IRI)
	}

	now := time.Now()
	iri := fmt.Sprintf("https://%s/activities/%s", e.fed.Host(), uuid.New().String())

	f := &domain.Following{
		IRI:        iri,
		FollowerId: follower.Id,
		FolloweeId: followee.Id,
		Created:    now,
	}
	if followee.Local() {
		f.Accepted = &now
	}

	inserted, err := e.db.CreateFollowing(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create following: %w", err)
	}
	if !inserted {
		log.Printf("Engine: %s already follows %s", follower.Handle(), followee.Handle())
		return nil, nil
	}

	if followee.Local() {
		if err := e.bumpCounts(f, 1); err != nil {
			return nil, err
		}
		log.Printf("Engine: %s follows %s (local, auto-accepted)", follower.Handle(), followee.Handle())
		return f, nil
	}

	follow := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       iri,
		"type":     "Follow",
		"actor":    follower.IRI,
		"object":   followee.IRI,
	}
	if err := e.fed.SendActivity(follower, followee, follow); err != nil {
		log.Printf("Engine: failed to queue Follow to %s: %v", followee.IRI, err)
	}

	log.Printf("Engine: %s follows %s (remote, pending)", follower.Handle(), followee.Handle())
	return f, nil
}

// AcceptFollowingByIRI accepts the pending edge created by the given Follow
// activity. Nil when the edge is absent or already accepted.
func (e *Engine) AcceptFollowingByIRI(iri string) (*domain.Following, error) {
	f, err := e.db.AcceptFollowingByIRI(iri, time.Now())
	if err != nil || f == nil {
		return nil, err
	}
	if err := e.bumpCounts(f, 1); err != nil {
		return nil, err
	}
	return f, nil
}

// AcceptFollowing accepts the pending edge between two known actors, used
// when the followee approves a request locally. Nil when the edge is absent
// or already accepted.
func (e *Engine) AcceptFollowing(follower *domain.Actor, followee *domain.Actor) (*domain.Following, error) {
	f, err := e.db.AcceptFollowingByPair(follower.Id, followee.Id, time.Now())
	if err != nil || f == nil {
		return nil, err
	}
	if err := e.bumpCounts(f, 1); err != nil {
		return nil, err
	}
	return f, nil
}

// Unfollow removes the edge from follower to followee and returns the
// removed row, or nil when no edge existed. A remote followee is informed
// with an Undo of the original Follow.
func (e *Engine) Unfollow(follower *domain.Actor, followee *domain.Actor) (*domain.Following, error) {
	deleted, err := e.db.DeleteFollowingByPair(follower.Id, followee.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete following: %w", err)
	}
	if deleted == nil {
		return nil, nil
	}

	if err := e.bumpCounts(deleted, -1); err != nil {
		return nil, err
	}

	if !followee.Local() && follower.Local() {
		undo := map[string]interface{}{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       fmt.Sprintf("https://%s/activities/%s", e.fed.Host(), uuid.New().String()),
			"type":     "Undo",
			"actor":    follower.IRI,
			"object": map[string]interface{}{
				"id":     deleted.IRI,
				"type":   "Follow",
				"actor":  follower.IRI,
				"object": followee.IRI,
			},
		}
		if err := e.fed.SendActivity(follower, followee, undo); err != nil {
			log.Printf("Engine: failed to queue Undo to %s: %v", followee.IRI, err)
		}
	}

	log.Printf("Engine: %s unfollowed %s", follower.Handle(), followee.Handle())
	return deleted, nil
}

// RemoveFollower forcibly removes an edge from the followee's side and
// returns the removed row, or nil when no edge existed. A remote follower
// is informed with a Reject of its original Follow.
func (e *Engine) RemoveFollower(followee *domain.Actor, follower *domain.Actor) (*domain.Following, error) {
	deleted, err := e.db.DeleteFollowingByPair(follower.Id, followee.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete following: %w", err)
	}
	if deleted == nil {
		return nil, nil
	}

	if err := e.bumpCounts(deleted, -1); err != nil {
		return nil, err
	}

	if !follower.Local() && followee.Local() {
		reject := map[string]interface{}{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       fmt.Sprintf("https://%s/activities/%s", e.fed.Host(), uuid.New().String()),
			"type":     "Reject",
			"actor":    followee.IRI,
			"object": map[string]interface{}{
				"id":     deleted.IRI,
				"type":   "Follow",
				"actor":  follower.IRI,
				"object": followee.IRI,
			},
		}
		if err := e.fed.SendActivity(followee, follower, reject); err != nil {
			log.Printf("Engine: failed to queue Reject to %s: %v", follower.IRI, err)
		}
	}

	log.Printf("Engine: %s removed follower %s", followee.Handle(), follower.Handle())
	return deleted, nil
}

// RemoveFollowingByIRI removes the edge created by the given Follow
// activity, used when the other side retracts or rejects it. Nil when no
// edge existed.
func (e *Engine) RemoveFollowingByIRI(iri string) (*domain.Following, error) {
	deleted, err := e.db.DeleteFollowingByIRI(iri)
	if err != nil {
		return nil, fmt.Errorf("failed to delete following: %w", err)
	}
	if deleted == nil {
		return nil, nil
	}
	if err := e.bumpCounts(deleted, -1); err != nil {
		return nil, err
	}
	return deleted, nil
}

// PublishPost stores a new post for a local actor and queues a Create
// activity to every remote follower with an accepted edge. Send failures
// are logged and never undo the stored post.
func (e *Engine) PublishPost(author *domain.Actor, content string) (*domain.Post, error) {
	if !author.Local() {
		return nil, fmt.Errorf("author %s is not a local actor", author.IRI)
	}

	now := time.Now()
	post := &domain.Post{
		Id:          uuid.New(),
		ActorId:     author.Id,
		Content:     util.NormalizeInput(content),
		IRI:         fmt.Sprintf("https://%s/posts/%s", e.fed.Host(), uuid.New().String()),
		PublishedAt: now,
	}
	if err := e.db.CreatePost(post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	create := map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        fmt.Sprintf("https://%s/activities/%s", e.fed.Host(), uuid.New().String()),
		"type":      "Create",
		"actor":     author.IRI,
		"published": now.Format(time.RFC3339),
		"to":        []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":        []string{author.FollowersURI},
		"object": map[string]interface{}{
			"id":           post.IRI,
			"type":         "Note",
			"attributedTo": author.IRI,
			"content":      post.Content,
			"published":    now.Format(time.RFC3339),
			"to":           []string{"https://www.w3.org/ns/activitystreams#Public"},
			"cc":           []string{author.FollowersURI},
		},
	}

	err, followers := e.db.ReadAcceptedFollowers(author.Id)
	if err != nil {
		log.Printf("Engine: failed to read followers of %s: %v", author.Handle(), err)
		return post, nil
	}
	for i := range *followers {
		follower := &(*followers)[i]
		if follower.Local() {
			continue
		}
		if err := e.fed.SendActivity(author, follower, create); err != nil {
			log.Printf("Engine: failed to queue Create to %s: %v", follower.IRI, err)
		}
	}

	log.Printf("Engine: %s published %s", author.Handle(), post.IRI)
	return post, nil
}

// bumpCounts moves the denormalized counters on both ends of an edge. The
// delta only matters for remote actors; local actors recompute from the
// accepted edges inside the statement.
func (e *Engine) bumpCounts(f *domain.Following, delta int) error {
	if err := e.db.UpdateFolloweesCount(f.FollowerId, delta); err != nil {
		return fmt.Errorf("failed to update followees count: %w", err)
	}
	if err := e.db.UpdateFollowersCount(f.FolloweeId, delta); err != nil {
		return fmt.Errorf("failed to update followers count: %w", err)
	}
	return nil
}
