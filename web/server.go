package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/deemkeen/pitchconnect/activitypub"
	"github.com/deemkeen/pitchconnect/auth"
	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"
)

// LinkSender carries a magic link to its recipient. The raw link must only
// travel through the sender, never through any other sink.
type LinkSender interface {
	SendSigninLink(to, link string) error
}

// Server wires the HTTP boundary to the services behind it. Everything is
// injected in main; handlers close over the server instance.
type Server struct {
	db      *db.DB
	conf    *util.AppConfig
	links   *auth.MagicLinks
	signups *auth.Signups
	engine  *activitypub.Engine
	mailer  LinkSender
}

func NewServer(database *db.DB, conf *util.AppConfig, links *auth.MagicLinks, signups *auth.Signups, engine *activitypub.Engine, mailer LinkSender) *Server {
	return &Server{
		db:      database,
		conf:    conf,
		links:   links,
		signups: signups,
		engine:  engine,
		mailer:  mailer,
	}
}

func (s *Server) Router() error {
	log.Printf("Starting server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	g := s.Routes()
	return g.Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

// Routes builds the gin engine without binding a listener, so tests can
// drive it through httptest.
func (s *Server) Routes() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(globalLimiter.Middleware())

	// Magic link sign flows
	g.POST("/sign/up", s.HandleSignupRequest)
	g.POST("/sign/in", s.HandleSigninRequest)
	g.GET("/sign/in/sent", func(c *gin.Context) {
		c.String(200, "If the address is registered, a sign-in link is on its way.")
	})
	g.GET("/sign/up/:token", s.HandleSignupToken)
	g.GET("/sign/in/:token", s.HandleSigninToken)

	// Posting, session-cookie gated
	g.POST("/posts", s.HandlePublishPost)

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		username := c.Query("username")
		rss, err := s.GetRSS(username)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	// Endpoints for the ActivityPub functionality
	if s.conf.Conf.WithAp {
		// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for ActivityPub activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/users/:actor", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := s.GetActor(c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
		})

		g.POST("/inbox", apLimiter.Middleware(), maxBodySize, func(c *gin.Context) {
			log.Println("POST /inbox (shared inbox)")
			s.engine.HandleInbox(c.Writer, c.Request)
		})

		g.POST("/users/:actor/inbox", apLimiter.Middleware(), maxBodySize, func(c *gin.Context) {
			log.Printf("POST /users/%s/inbox", c.Param("actor"))
			s.engine.HandleInbox(c.Writer, c.Request)
		})

		g.GET("/users/:actor/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, collection := s.GetEmptyCollection(c.Param("actor"), "outbox")
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/users/:actor/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, collection := s.GetFollowersCollection(c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/users/:actor/following", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, collection := s.GetFollowingCollection(c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: "{}"})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}
			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", s.conf.Conf.SslDomain))
			err, resp := s.GetWebfinger(resource)
			if err != nil {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				c.Render(200, render.String{Format: resp})
			}
		})
	}

	return g
}
