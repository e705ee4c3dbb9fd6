package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/domain"
	"github.com/google/uuid"
)

// Activity represents a generic ActivityPub activity
type Activity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  interface{} `json:"object"`
}

// FollowActivity represents an ActivityPub Follow activity
type FollowActivity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  string      `json:"object"` // IRI of the actor being followed
}

// HandleInbox processes incoming ActivityPub activities. Both the shared
// inbox and the per-actor inboxes land here; the addressed local actor is
// resolved from the activity itself.
func (e *Engine) HandleInbox(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("Signature")
	if signature == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	if activity.ID == "" || activity.Actor == "" {
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor)

	// Redeliveries of an already processed activity are acknowledged
	// without reprocessing.
	_, seen := e.db.ReadActivityByURI(activity.ID)
	if seen != nil && seen.Processed {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Fetch remote actor to verify and cache
	remoteActor, err := e.GetOrFetchActor(activity.Actor)
	if err != nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", activity.Actor, err)
		http.Error(w, "Failed to verify actor", http.StatusBadRequest)
		return
	}

	if _, err := VerifyRequest(r, remoteActor.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	activityRecord := seen
	if activityRecord == nil {
		activityRecord = &db.Activity{
			Id:           uuid.New(),
			ActivityURI:  activity.ID,
			ActivityType: activity.Type,
			ActorURI:     activity.Actor,
			ObjectURI:    objectURI(activity.Object),
			RawJSON:      string(body),
			Processed:    false,
			Local:        false,
			CreatedAt:    time.Now(),
		}
		if err := e.db.CreateActivity(activityRecord); err != nil {
			log.Printf("Inbox: Failed to store activity: %v", err)
			// Processing continues, dedup just loses this one
		}
	}

	switch activity.Type {
	case "Follow":
		if err := e.handleFollowActivity(body, remoteActor); err != nil {
			log.Printf("Inbox: Failed to handle Follow: %v", err)
			http.Error(w, "Failed to process Follow", http.StatusInternalServerError)
			return
		}
	case "Undo":
		if err := e.handleUndoActivity(body, remoteActor); err != nil {
			log.Printf("Inbox: Failed to handle Undo: %v", err)
			http.Error(w, "Failed to process Undo", http.StatusInternalServerError)
			return
		}
	case "Accept":
		if err := e.handleAcceptActivity(body); err != nil {
			log.Printf("Inbox: Failed to handle Accept: %v", err)
			// Don't fail the request
		}
	case "Reject":
		if err := e.handleRejectActivity(body); err != nil {
			log.Printf("Inbox: Failed to handle Reject: %v", err)
			// Don't fail the request
		}
	default:
		log.Printf("Inbox: Unsupported activity type: %s", activity.Type)
	}

	if err := e.db.MarkActivityProcessed(activityRecord.Id); err != nil {
		log.Printf("Inbox: Failed to mark activity processed: %v", err)
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleFollowActivity processes an incoming follow request: the edge is
// recorded, auto-accepted, and an Accept is queued back to the follower.
// The Accept is re-queued on redelivery so a lost one can be recovered.
func (e *Engine) handleFollowActivity(body []byte, remoteActor *domain.Actor) error {
	var follow FollowActivity
	if err := json.Unmarshal(body, &follow); err != nil {
		return fmt.Errorf("failed to parse Follow activity: %w", err)
	}

	err, localActor := e.db.ReadActorByIRI(follow.Object)
	if err != nil || localActor == nil || !localActor.Local() {
		return fmt.Errorf("follow target %s is not a local actor", follow.Object)
	}

	f := &domain.Following{
		IRI:        follow.ID,
		FollowerId: remoteActor.Id,
		FolloweeId: localActor.Id,
		Created:    time.Now(),
	}
	if _, err := e.db.CreateFollowing(f); err != nil {
		return fmt.Errorf("failed to create following: %w", err)
	}

	if _, err := e.AcceptFollowingByIRI(follow.ID); err != nil {
		return fmt.Errorf("failed to accept following: %w", err)
	}

	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("https://%s/activities/%s", e.fed.Host(), uuid.New().String()),
		"type":     "Accept",
		"actor":    localActor.IRI,
		"object": map[string]interface{}{
			"id":     follow.ID,
			"type":   "Follow",
			"actor":  remoteActor.IRI,
			"object": localActor.IRI,
		},
	}
	if err := e.fed.SendActivity(localActor, remoteActor, accept); err != nil {
		return fmt.Errorf("failed to queue Accept: %w", err)
	}

	log.Printf("Inbox: Accepted follow from %s", remoteActor.Handle())
	return nil
}

// handleUndoActivity processes an Undo activity (e.g., Undo Follow)
func (e *Engine) handleUndoActivity(body []byte, remoteActor *domain.Actor) error {
	var undo struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &undo); err != nil {
		return fmt.Errorf("failed to parse Undo activity: %w", err)
	}

	var obj struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(undo.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	if obj.Type == "Follow" {
		deleted, err := e.RemoveFollowingByIRI(obj.ID)
		if err != nil {
			return fmt.Errorf("failed to remove following: %w", err)
		}
		if deleted != nil {
			log.Printf("Inbox: Removed follow from %s", remoteActor.Handle())
		}
	}

	return nil
}

// handleAcceptActivity processes an Accept of one of our Follow requests.
func (e *Engine) handleAcceptActivity(body []byte) error {
	var accept struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &accept); err != nil {
		return fmt.Errorf("failed to parse Accept activity: %w", err)
	}

	var followObj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(accept.Object, &followObj); err != nil {
		return fmt.Errorf("failed to parse Accept object: %w", err)
	}

	f, err := e.AcceptFollowingByIRI(followObj.ID)
	if err != nil {
		return fmt.Errorf("failed to accept following: %w", err)
	}
	if f != nil {
		log.Printf("Inbox: Follow %s was accepted by %s", followObj.ID, accept.Actor)
	}
	return nil
}

// handleRejectActivity processes a Reject of one of our Follow requests;
// the pending edge is dropped.
func (e *Engine) handleRejectActivity(body []byte) error {
	var reject struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &reject); err != nil {
		return fmt.Errorf("failed to parse Reject activity: %w", err)
	}

	var followObj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(reject.Object, &followObj); err != nil {
		return fmt.Errorf("failed to parse Reject object: %w", err)
	}

	deleted, err := e.RemoveFollowingByIRI(followObj.ID)
	if err != nil {
		return fmt.Errorf("failed to remove following: %w", err)
	}
	if deleted != nil {
		log.Printf("Inbox: Follow %s was rejected by %s", followObj.ID, reject.Actor)
	}
	return nil
}

// objectURI pulls an object identifier out of the polymorphic object field.
func objectURI(object interface{}) string {
	switch obj := object.(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}
