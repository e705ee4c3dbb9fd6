package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/deemkeen/pitchconnect/auth"
	"github.com/gin-gonic/gin"
)

const sessionCookie = "pitchconnect_session"

// HandleSignupRequest records a new signup request. The only failure a
// caller can distinguish is a taken email.
func (s *Server) HandleSignupRequest(c *gin.Context) {
	username := c.PostForm("username")
	email := c.PostForm("email")
	intro := c.PostForm("intro")

	if username == "" || email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and email are required"})
		return
	}

	_, err := s.signups.Request(username, email, intro)
	if errors.Is(err, auth.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	if err != nil {
		log.Printf("Web: signup request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record signup request"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "pending review"})
}

// HandleSigninRequest issues a signin link when the email belongs to an
// active account. The response is identical whether it does or not, so
// registered addresses cannot be probed.
func (s *Server) HandleSigninRequest(c *gin.Context) {
	email := c.PostForm("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	token, err := s.signups.RequestSignin(email)
	if err != nil {
		log.Printf("Web: signin request failed: %v", err)
	}
	if token != "" {
		// The raw token leaves the process only inside the mail.
		link := fmt.Sprintf("https://%s/sign/in/%s", s.conf.Conf.SslDomain, token)
		if err := s.mailer.SendSigninLink(email, link); err != nil {
			log.Printf("Web: failed to send signin link to %s: %v", email, err)
		}
	}

	c.Redirect(http.StatusSeeOther, "/sign/in/sent")
}

// HandleSignupToken redeems an invitation link. Any failure collapses into
// the same 400; a redeemed link activates the account, creates its
// federation actor and starts a session.
func (s *Server) HandleSignupToken(c *gin.Context) {
	req, err := s.links.ConsumeSignupToken(c.Param("token"))
	if err != nil {
		log.Printf("Web: signup token redemption failed: %v", err)
	}
	if req == nil {
		c.String(http.StatusBadRequest, "This link is invalid or has expired.")
		return
	}

	acc, err := s.signups.Complete(req)
	if err != nil {
		log.Printf("Web: signup completion failed: %v", err)
	}
	if acc == nil {
		c.String(http.StatusBadRequest, "This link is invalid or has expired.")
		return
	}

	if s.conf.Conf.WithAp {
		if _, err := s.engine.SyncActorFromAccount(acc); err != nil {
			log.Printf("Web: failed to sync actor for %s: %v", acc.Username, err)
		}
	}

	s.startSession(c, acc.Id.String())
	c.Redirect(http.StatusSeeOther, "/")
}

// HandleSigninToken redeems a signin link and starts a session. Same
// collapsed 400 as the signup flow.
func (s *Server) HandleSigninToken(c *gin.Context) {
	acc, err := s.links.ConsumeSigninToken(c.Param("token"))
	if err != nil {
		log.Printf("Web: signin token redemption failed: %v", err)
	}
	if acc == nil {
		c.String(http.StatusBadRequest, "This link is invalid or has expired.")
		return
	}

	s.startSession(c, acc.Id.String())
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) startSession(c *gin.Context, accountId string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, accountId, 60*60*24*30, "/", s.conf.Conf.SslDomain, true, true)
}
