package web

import (
	"encoding/json"
)

func (s *Server) GetActor(username string) (error, string) {
	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		return err, "{}"
	}

	name := actor.Name
	if name == "" {
		name = actor.PreferredUsername
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        actor.IRI,
		"type":                      string(actor.Type),
		"preferredUsername":         actor.PreferredUsername,
		"name":                      name,
		"summary":                   actor.Summary,
		"inbox":                     actor.InboxURI,
		"outbox":                    actor.OutboxURI,
		"followers":                 actor.FollowersURI,
		"following":                 actor.IRI + "/following",
		"url":                       actor.URL,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": actor.SharedInboxURI,
		},
		"publicKey": map[string]interface{}{
			"id":           actor.IRI + "#main-key",
			"owner":        actor.IRI,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

// GetFollowersCollection returns the followers collection of a local
// actor. Only the denormalized count is exposed, not the member list.
func (s *Server) GetFollowersCollection(username string) (error, string) {
	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		return err, "{}"
	}
	return marshalCollection(actor.FollowersURI, actor.FollowersCount)
}

// GetFollowingCollection returns the followees collection of a local actor.
func (s *Server) GetFollowingCollection(username string) (error, string) {
	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		return err, "{}"
	}
	return marshalCollection(actor.IRI+"/following", actor.FolloweesCount)
}

// GetEmptyCollection returns a count-only collection for the remaining
// actor endpoints, currently just the outbox.
func (s *Server) GetEmptyCollection(username string, suffix string) (error, string) {
	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		return err, "{}"
	}
	count := 0
	if suffix == "outbox" {
		count = actor.PostsCount
	}
	return marshalCollection(actor.IRI+"/"+suffix, count)
}

func marshalCollection(id string, totalItems int) (error, string) {
	doc := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           id,
		"type":         "OrderedCollection",
		"totalItems":   totalItems,
		"orderedItems": []interface{}{},
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}
