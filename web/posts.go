package web

import (
	"log"
	"net/http"

	"github.com/deemkeen/pitchconnect/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandlePublishPost stores a post for the signed-in account and fans it
// out to remote followers.
func (s *Server) HandlePublishPost(c *gin.Context) {
	acc := s.sessionAccount(c)
	if acc == nil {
		c.String(http.StatusUnauthorized, "Sign in first.")
		return
	}

	content := c.PostForm("content")
	if content == "" {
		c.String(http.StatusBadRequest, "Nothing to post.")
		return
	}

	err, actor := s.db.ReadActorByAccountId(acc.Id)
	if err != nil || actor == nil {
		log.Printf("Web: no actor for account %s: %v", acc.Id, err)
		c.String(http.StatusInternalServerError, "Something went wrong.")
		return
	}

	post, err := s.engine.PublishPost(actor, content)
	if err != nil {
		log.Printf("Web: publish failed for %s: %v", acc.Username, err)
		c.String(http.StatusInternalServerError, "Something went wrong.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": post.Id.String(), "iri": post.IRI})
}

// sessionAccount resolves the session cookie to an active account, or nil.
func (s *Server) sessionAccount(c *gin.Context) *domain.Account {
	raw, err := c.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	accId, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	err, acc := s.db.ReadAccById(accId)
	if err != nil || acc == nil || acc.Status != domain.AccountActive {
		return nil
	}
	return acc
}
