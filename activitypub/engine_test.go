package activitypub

import (
	"fmt"
	"testing"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/domain"
	"github.com/google/uuid"
)

const testHost = "example.test"

type sentActivity struct {
	senderIRI    string
	recipientIRI string
	activity     map[string]interface{}
}

// fakeFed records outbound activities instead of queueing them.
type fakeFed struct {
	sent []sentActivity
}

func (f *fakeFed) Host() string { return testHost }

func (f *fakeFed) ActorURI(username string) string {
	return fmt.Sprintf("https://%s/users/%s", testHost, username)
}

func (f *fakeFed) InboxURI(username string) string {
	return f.ActorURI(username) + "/inbox"
}

func (f *fakeFed) SharedInboxURI() string {
	return fmt.Sprintf("https://%s/inbox", testHost)
}

func (f *fakeFed) SendActivity(sender *domain.Actor, recipient *domain.Actor, activity map[string]interface{}) error {
	f.sent = append(f.sent, sentActivity{
		senderIRI:    sender.IRI,
		recipientIRI: recipient.IRI,
		activity:     activity,
	})
	return nil
}

func setupEngine(t *testing.T) (*db.DB, *fakeFed, *Engine) {
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	now := time.Now()
	for _, host := range []string{testHost, "remote.test"} {
		if err := database.UpsertInstance(&domain.Instance{Host: host, Created: now, Updated: now}); err != nil {
			t.Fatalf("UpsertInstance failed: %v", err)
		}
	}
	fed := &fakeFed{}
	return database, fed, NewEngine(database, fed)
}

func createLocalActor(t *testing.T, database *db.DB, username string) *domain.Actor {
	accId := uuid.New()
	now := time.Now()
	actor := &domain.Actor{
		Id:                uuid.New(),
		IRI:               fmt.Sprintf("https://%s/users/%s", testHost, username),
		Type:              domain.ActorPerson,
		Username:          username,
		InstanceHost:      testHost,
		HandleHost:        testHost,
		PreferredUsername: username,
		AccountId:         &accId,
		InboxURI:          fmt.Sprintf("https://%s/users/%s/inbox", testHost, username),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := database.UpsertActorForAccount(actor); err != nil {
		t.Fatalf("UpsertActorForAccount failed: %v", err)
	}
	return actor
}

func createRemoteActor(t *testing.T, database *db.DB, username string) *domain.Actor {
	now := time.Now()
	actor := &domain.Actor{
		Id:                uuid.New(),
		IRI:               fmt.Sprintf("https://remote.test/users/%s", username),
		Type:              domain.ActorPerson,
		Username:          username,
		InstanceHost:      "remote.test",
		HandleHost:        "remote.test",
		PreferredUsername: username,
		InboxURI:          fmt.Sprintf("https://remote.test/users/%s/inbox", username),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := database.UpsertRemoteActor(actor); err != nil {
		t.Fatalf("UpsertRemoteActor failed: %v", err)
	}
	return actor
}

func readActor(t *testing.T, database *db.DB, id uuid.UUID) *domain.Actor {
	err, actor := database.ReadActorById(id)
	if err != nil || actor == nil {
		t.Fatalf("ReadActorById failed: %v", err)
	}
	return actor
}

func TestSyncActorFromAccount(t *testing.T) {
	database, _, engine := setupEngine(t)

	now := time.Now()
	acc := &domain.Account{
		Id:        uuid.New(),
		Username:  "alice",
		Email:     "alice@example.com",
		Intro:     "hello",
		Status:    domain.AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	actor, err := engine.SyncActorFromAccount(acc)
	if err != nil {
		t.Fatalf("SyncActorFromAccount failed: %v", err)
	}
	if actor.IRI != "https://example.test/users/alice" {
		t.Errorf("Unexpected IRI %s", actor.IRI)
	}
	if !actor.Local() {
		t.Error("Expected a local actor")
	}
	if actor.PublicKeyPem == "" {
		t.Error("Expected a public key on the actor")
	}

	err2, keys := database.ReadActorKeys(actor.Id)
	if err2 != nil || keys == nil {
		t.Fatalf("Expected signing keys: %v", err2)
	}
	if _, err := ParsePrivateKey(keys.PrivatePem); err != nil {
		t.Errorf("Stored private key does not parse: %v", err)
	}
	if _, err := ParsePublicKey(keys.PublicPem); err != nil {
		t.Errorf("Stored public key does not parse: %v", err)
	}

	// Re-sync keeps the actor id and keys
	resynced, err := engine.SyncActorFromAccount(acc)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if resynced.Id != actor.Id {
		t.Error("Expected stable actor id across syncs")
	}
	if resynced.PublicKeyPem != actor.PublicKeyPem {
		t.Error("Expected stable public key across syncs")
	}

	// The published key must still pair with the stored signing key
	err3, keysAfter := database.ReadActorKeys(resynced.Id)
	if err3 != nil || keysAfter == nil {
		t.Fatalf("Expected signing keys after re-sync: %v", err3)
	}
	if resynced.PublicKeyPem != keysAfter.PublicPem {
		t.Error("Expected the actor to publish the stored public key")
	}
}

func TestFollowLocalAutoAccepts(t *testing.T) {
	database, fed, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	bob := createLocalActor(t, database, "bob")

	f, err := engine.Follow(alice, bob)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if f == nil || f.Accepted == nil {
		t.Fatal("Expected an immediately accepted edge")
	}
	if len(fed.sent) != 0 {
		t.Errorf("Expected no outbound activity for a local follow, got %d", len(fed.sent))
	}

	if readActor(t, database, alice.Id).FolloweesCount != 1 {
		t.Error("Expected follower's followees count to be 1")
	}
	if readActor(t, database, bob.Id).FollowersCount != 1 {
		t.Error("Expected followee's followers count to be 1")
	}
}

func TestFollowRemoteStaysPending(t *testing.T) {
	database, fed, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	remote := createRemoteActor(t, database, "carol")

	f, err := engine.Follow(alice, remote)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if f == nil || f.Accepted != nil {
		t.Fatal("Expected a pending edge")
	}

	if len(fed.sent) != 1 {
		t.Fatalf("Expected one outbound activity, got %d", len(fed.sent))
	}
	out := fed.sent[0]
	if out.activity["type"] != "Follow" {
		t.Errorf("Expected Follow activity, got %v", out.activity["type"])
	}
	if out.activity["object"] != remote.IRI {
		t.Errorf("Expected object %s, got %v", remote.IRI, out.activity["object"])
	}
	if out.recipientIRI != remote.IRI {
		t.Errorf("Expected recipient %s, got %s", remote.IRI, out.recipientIRI)
	}

	// No counts move while pending
	if readActor(t, database, alice.Id).FolloweesCount != 0 {
		t.Error("Expected followees count to stay 0 while pending")
	}
}

func TestFollowDuplicateIsNoop(t *testing.T) {
	database, fed, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	remote := createRemoteActor(t, database, "carol")

	if _, err := engine.Follow(alice, remote); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	f, err := engine.Follow(alice, remote)
	if err != nil {
		t.Fatalf("Second Follow errored: %v", err)
	}
	if f != nil {
		t.Error("Expected nil for a duplicate follow")
	}
	if len(fed.sent) != 1 {
		t.Errorf("Expected no second outbound Follow, got %d", len(fed.sent))
	}
}

func TestAcceptFollowingByIRIBumpsCounts(t *testing.T) {
	database, _, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	remote := createRemoteActor(t, database, "carol")

	f, err := engine.Follow(alice, remote)
	if err != nil || f == nil {
		t.Fatalf("Follow failed: %v", err)
	}

	accepted, err := engine.AcceptFollowingByIRI(f.IRI)
	if err != nil {
		t.Fatalf("AcceptFollowingByIRI failed: %v", err)
	}
	if accepted == nil || accepted.Accepted == nil {
		t.Fatal("Expected accepted edge")
	}

	if readActor(t, database, alice.Id).FolloweesCount != 1 {
		t.Error("Expected follower's followees count to be 1 after accept")
	}
	if readActor(t, database, remote.Id).FollowersCount != 1 {
		t.Error("Expected remote followee's followers count to be 1 after accept")
	}

	// Double accept must not double count
	accepted, err = engine.AcceptFollowingByIRI(f.IRI)
	if err != nil {
		t.Fatalf("Second accept errored: %v", err)
	}
	if accepted != nil {
		t.Error("Expected nil on second accept")
	}
	if readActor(t, database, remote.Id).FollowersCount != 1 {
		t.Error("Expected counts unchanged after repeated accept")
	}
}

func TestAcceptFollowingByPair(t *testing.T) {
	database, _, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	bob := createLocalActor(t, database, "bob")
	remote := createRemoteActor(t, database, "carol")

	// Remote follower requested to follow bob; bob approves locally.
	pending := &domain.Following{
		IRI:        "https://remote.test/activities/req",
		FollowerId: remote.Id,
		FolloweeId: bob.Id,
		Created:    time.Now(),
	}
	if _, err := database.CreateFollowing(pending); err != nil {
		t.Fatalf("CreateFollowing failed: %v", err)
	}

	f, err := engine.AcceptFollowing(remote, bob)
	if err != nil {
		t.Fatalf("AcceptFollowing failed: %v", err)
	}
	if f == nil || f.Accepted == nil {
		t.Fatal("Expected accepted edge")
	}
	if readActor(t, database, bob.Id).FollowersCount != 1 {
		t.Error("Expected bob's followers count to be 1")
	}

	// Absent pair accepts to nil
	f, err = engine.AcceptFollowing(alice, bob)
	if err != nil || f != nil {
		t.Errorf("Expected nil/nil for absent edge, got %v/%v", f, err)
	}
}

func TestUnfollowRemoteSendsUndo(t *testing.T) {
	database, fed, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	remote := createRemoteActor(t, database, "carol")

	f, err := engine.Follow(alice, remote)
	if err != nil || f == nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if _, err := engine.AcceptFollowingByIRI(f.IRI); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	deleted, err := engine.Unfollow(alice, remote)
	if err != nil {
		t.Fatalf("Unfollow failed: %v", err)
	}
	if deleted == nil || deleted.IRI != f.IRI {
		t.Fatal("Expected the removed edge back")
	}

	last := fed.sent[len(fed.sent)-1]
	if last.activity["type"] != "Undo" {
		t.Errorf("Expected Undo activity, got %v", last.activity["type"])
	}
	obj, ok := last.activity["object"].(map[string]interface{})
	if !ok || obj["id"] != f.IRI {
		t.Error("Expected Undo to wrap the original Follow")
	}

	if readActor(t, database, alice.Id).FolloweesCount != 0 {
		t.Error("Expected followees count back to 0")
	}
	if readActor(t, database, remote.Id).FollowersCount != 0 {
		t.Error("Expected remote followers count back to 0")
	}
}

func TestUnfollowAbsentEdgeIsNil(t *testing.T) {
	database, fed, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	remote := createRemoteActor(t, database, "carol")

	deleted, err := engine.Unfollow(alice, remote)
	if err != nil {
		t.Fatalf("Unfollow errored: %v", err)
	}
	if deleted != nil {
		t.Error("Expected nil for absent edge")
	}
	if len(fed.sent) != 0 {
		t.Error("Expected no outbound activity for absent edge")
	}
}

func TestRemoveFollowerRemoteSendsReject(t *testing.T) {
	database, fed, engine := setupEngine(t)

	bob := createLocalActor(t, database, "bob")
	remote := createRemoteActor(t, database, "carol")

	// Remote follows bob, accepted.
	now := time.Now()
	f := &domain.Following{
		IRI:        "https://remote.test/activities/follow",
		FollowerId: remote.Id,
		FolloweeId: bob.Id,
		Accepted:   &now,
		Created:    now,
	}
	if _, err := database.CreateFollowing(f); err != nil {
		t.Fatalf("CreateFollowing failed: %v", err)
	}
	database.UpdateFollowersCount(bob.Id, 1)
	database.UpdateFolloweesCount(remote.Id, 1)

	deleted, err := engine.RemoveFollower(bob, remote)
	if err != nil {
		t.Fatalf("RemoveFollower failed: %v", err)
	}
	if deleted == nil {
		t.Fatal("Expected the removed edge back")
	}

	if len(fed.sent) != 1 {
		t.Fatalf("Expected one outbound activity, got %d", len(fed.sent))
	}
	out := fed.sent[0]
	if out.activity["type"] != "Reject" {
		t.Errorf("Expected Reject activity, got %v", out.activity["type"])
	}
	if out.recipientIRI != remote.IRI {
		t.Errorf("Expected Reject sent to %s, got %s", remote.IRI, out.recipientIRI)
	}

	if readActor(t, database, bob.Id).FollowersCount != 0 {
		t.Error("Expected bob's followers count back to 0")
	}
	if readActor(t, database, remote.Id).FolloweesCount != 0 {
		t.Error("Expected remote followees count back to 0")
	}
}

func TestRemoveFollowerLocalSendsNothing(t *testing.T) {
	database, fed, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	bob := createLocalActor(t, database, "bob")

	if _, err := engine.Follow(alice, bob); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}

	deleted, err := engine.RemoveFollower(bob, alice)
	if err != nil {
		t.Fatalf("RemoveFollower failed: %v", err)
	}
	if deleted == nil {
		t.Fatal("Expected the removed edge back")
	}
	if len(fed.sent) != 0 {
		t.Errorf("Expected no outbound activity for a local follower, got %d", len(fed.sent))
	}
}

func TestPublishPostFansOutToRemoteFollowers(t *testing.T) {
	database, fed, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	alice.FollowersURI = alice.IRI + "/followers"
	if err := database.UpsertActorForAccount(alice); err != nil {
		t.Fatalf("UpsertActorForAccount failed: %v", err)
	}
	remote := createRemoteActor(t, database, "bob")
	local := createLocalActor(t, database, "carol")
	pending := createRemoteActor(t, database, "dan")

	now := time.Now()
	for _, f := range []*domain.Following{
		{IRI: "https://remote.test/activities/f1", FollowerId: remote.Id, FolloweeId: alice.Id, Created: now, Accepted: &now},
		{IRI: fmt.Sprintf("https://%s/activities/f2", testHost), FollowerId: local.Id, FolloweeId: alice.Id, Created: now, Accepted: &now},
		{IRI: "https://remote.test/activities/f3", FollowerId: pending.Id, FolloweeId: alice.Id, Created: now},
	} {
		if _, err := database.CreateFollowing(f); err != nil {
			t.Fatalf("CreateFollowing failed: %v", err)
		}
	}

	post, err := engine.PublishPost(alice, "first post")
	if err != nil {
		t.Fatalf("PublishPost failed: %v", err)
	}
	if post == nil || post.IRI == "" {
		t.Fatal("Expected a stored post with an IRI")
	}

	// Only the accepted remote follower gets the Create
	if len(fed.sent) != 1 {
		t.Fatalf("Expected one outbound Create, got %d", len(fed.sent))
	}
	if fed.sent[0].recipientIRI != remote.IRI {
		t.Errorf("Expected delivery to %s, got %s", remote.IRI, fed.sent[0].recipientIRI)
	}
	if fed.sent[0].activity["type"] != "Create" {
		t.Errorf("Expected a Create activity, got %v", fed.sent[0].activity["type"])
	}
	object, ok := fed.sent[0].activity["object"].(map[string]interface{})
	if !ok || object["id"] != post.IRI {
		t.Errorf("Expected the Note object to carry the post IRI, got %v", object)
	}

	if readActor(t, database, alice.Id).PostsCount != 1 {
		t.Error("Expected posts count of 1")
	}
}

func TestPublishPostRejectsRemoteAuthor(t *testing.T) {
	database, _, engine := setupEngine(t)

	remote := createRemoteActor(t, database, "bob")
	if _, err := engine.PublishPost(remote, "nope"); err == nil {
		t.Error("Expected an error for a remote author")
	}
}

func TestUnfollowPendingRemoteDecrementsDelta(t *testing.T) {
	database, _, engine := setupEngine(t)

	alice := createLocalActor(t, database, "alice")
	remote := createRemoteActor(t, database, "carol")
	database.UpdateFollowersCount(remote.Id, 5)

	f, err := engine.Follow(alice, remote)
	if err != nil || f == nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if f.Accepted != nil {
		t.Fatal("Expected a pending edge")
	}

	deleted, err := engine.Unfollow(alice, remote)
	if err != nil || deleted == nil {
		t.Fatalf("Unfollow failed: %v", err)
	}

	// Deletion always moves both counters: the local side recomputes, the
	// remote side takes the delta even for a pending edge.
	if readActor(t, database, alice.Id).FolloweesCount != 0 {
		t.Error("Expected alice's followees count to recompute to 0")
	}
	if readActor(t, database, remote.Id).FollowersCount != 4 {
		t.Errorf("Expected remote followers count 4, got %d",
			readActor(t, database, remote.Id).FollowersCount)
	}
}
