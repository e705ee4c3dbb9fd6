package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActorType string

const (
	ActorPerson       ActorType = "Person"
	ActorApplication  ActorType = "Application"
	ActorGroup        ActorType = "Group"
	ActorOrganization ActorType = "Organization"
	ActorService      ActorType = "Service"
)

// Actor is the federation-facing identity record for either a local
// account (AccountId set, unique) or a remote entity (AccountId nil).
// The follower/followee/post counts are denormalized; see Following.
type Actor struct {
	Id                uuid.UUID
	IRI               string
	Type              ActorType
	Username          string
	InstanceHost      string
	HandleHost        string
	PreferredUsername string
	AccountId         *uuid.UUID
	Name              string
	Summary           string
	InboxURI          string
	SharedInboxURI    string
	OutboxURI         string
	FollowersURI      string
	URL               string
	PublicKeyPem      string
	FolloweesCount    int
	FollowersCount    int
	PostsCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Handle is derived from username and handle host, never stored.
func (a *Actor) Handle() string {
	return fmt.Sprintf("@%s@%s", a.Username, a.HandleHost)
}

// Local reports whether the actor is backed by a local account.
func (a *Actor) Local() bool {
	return a.AccountId != nil
}

// Following is a directed follow edge between two actors, identified by
// the IRI of the Follow activity that created it. Accepted is nil while
// the request is pending; (FollowerId, FolloweeId) is unique.
type Following struct {
	IRI        string
	FollowerId uuid.UUID
	FolloweeId uuid.UUID
	Accepted   *time.Time
	Created    time.Time
}

// Instance is a federation peer host record, local or remote.
type Instance struct {
	Host            string
	Software        string
	SoftwareVersion string
	Created         time.Time
	Updated         time.Time
}

// Post is a published note attributed to an actor.
type Post struct {
	Id          uuid.UUID
	ActorId     uuid.UUID
	Content     string
	IRI         string
	PublishedAt time.Time
}
