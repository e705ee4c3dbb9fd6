package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/deemkeen/pitchconnect/domain"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/google/uuid"
)

// actorCacheTTL bounds how stale a cached remote actor may get before a
// lookup triggers a re-fetch.
const actorCacheTTL = 24 * time.Hour

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	URL               string      `json:"url"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// FetchRemoteActor fetches an actor document from a remote server and
// caches it, together with its instance row, keyed by the actor IRI.
func (e *Engine) FetchRemoteActor(actorURI string) (*domain.Actor, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "pitchconnect/"+util.GetVersion()+" ActivityPub")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var remote ActorResponse
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if remote.ID == "" || remote.Inbox == "" || remote.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	host, err := extractHost(remote.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := e.db.UpsertInstance(&domain.Instance{
		Host:    host,
		Created: now,
		Updated: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to upsert instance: %w", err)
	}

	actorId := uuid.New()
	created := now
	_, cached := e.db.ReadActorByIRI(remote.ID)
	if cached != nil {
		actorId = cached.Id
		created = cached.CreatedAt
	}

	actorType := domain.ActorType(remote.Type)
	if actorType == "" {
		actorType = domain.ActorPerson
	}

	actor := &domain.Actor{
		Id:                actorId,
		IRI:               remote.ID,
		Type:              actorType,
		Username:          remote.PreferredUsername,
		InstanceHost:      host,
		HandleHost:        host,
		PreferredUsername: remote.PreferredUsername,
		Name:              remote.Name,
		Summary:           remote.Summary,
		InboxURI:          remote.Inbox,
		SharedInboxURI:    remote.Endpoints.SharedInbox,
		OutboxURI:         remote.Outbox,
		FollowersURI:      remote.Followers,
		URL:               remote.URL,
		PublicKeyPem:      remote.PublicKey.PublicKeyPem,
		CreatedAt:         created,
		UpdatedAt:         now,
	}

	if err := e.db.UpsertRemoteActor(actor); err != nil {
		return nil, fmt.Errorf("failed to store remote actor: %w", err)
	}

	err, stored := e.db.ReadActorByIRI(remote.ID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetOrFetchActor returns the actor from cache, fetching it when missing
// or stale. Local actors are always served from the database.
func (e *Engine) GetOrFetchActor(actorURI string) (*domain.Actor, error) {
	err, cached := e.db.ReadActorByIRI(actorURI)
	if err == nil && cached != nil {
		if cached.Local() || time.Since(cached.UpdatedAt) < actorCacheTTL {
			return cached, nil
		}
	}

	return e.FetchRemoteActor(actorURI)
}

// extractHost extracts the host from an actor URI.
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractHost(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid actor URI: %s", actorURI)
	}
	return parsed.Host, nil
}
