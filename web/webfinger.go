package web

import (
	"fmt"
)

func (s *Server) GetWebfinger(user string) (error, string) {
	err, actor := s.db.ReadLocalActorByUsername(user)
	if err != nil || actor == nil {
		return err, GetWebFingerNotFound()
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "%s"
						}
					]
				}`, actor.PreferredUsername, actor.HandleHost, actor.IRI)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
