package web

import (
	"fmt"
	"log"
	"strconv"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mhoehle/loxodon/activitypub"
	"github.com/mhoehle/loxodon/db"
	"github.com/mhoehle/loxodon/util"
)

// Server carries the protocol-facing HTTP surface and its dependencies.
type Server struct {
	conf   *util.AppConfig
	db     *db.DB
	engine *activitypub.Engine
}

func NewServer(conf *util.AppConfig, database *db.DB, engine *activitypub.Engine) *Server {
	return &Server{conf: conf, db: database, engine: engine}
}

// Run wires the routes and blocks serving HTTP.
func (s *Server) Run() error {
	log.Printf("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS rendering of an actor's outbox
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

	if s.conf.Conf.WithAp {
		// Stricter rate limit for federation endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)
		maxBodySize := MaxBytesMiddleware(s.conf.Conf.MaxPayloadBytes)

		g.GET("/notes/:id", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")

			noteId, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(404, gin.H{"error": "Invalid note ID"})
				return
			}
			s.HandleNote(c, noteId)
		})

		g.GET("/users/:actor", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			s.HandleActor(c, c.Param("actor"))
		})

		g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			log.Printf("POST /users/%s/inbox", c.Param("actor"))
			s.HandleInbox(c)
		})

		// The shared inbox takes the same path: the engine routes by
		// the activity's own addressing.
		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			log.Println("POST /inbox (shared inbox)")
			s.HandleInbox(c)
		})

		for _, kind := range []activitypub.CollectionKind{
			activitypub.CollectionFollowers,
			activitypub.CollectionFollowing,
			activitypub.CollectionLiked,
			activitypub.CollectionFeatured,
			activitypub.CollectionOutbox,
		} {
			kind := kind
			g.GET("/users/:actor/"+string(kind), func(c *gin.Context) {
				c.Header("Content-Type", "application/activity+json; charset=utf-8")

				cursorParam, hasCursor := c.GetQuery("cursor")
				if !hasCursor {
					s.HandleCollection(c, kind, c.Param("actor"))
					return
				}
				cursor, err := strconv.Atoi(cursorParam)
				if err != nil || cursor < 0 {
					c.JSON(400, gin.H{"error": "Invalid cursor"})
					return
				}
				s.HandleCollectionPage(c, kind, c.Param("actor"), cursor)
			})
		}

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")
			s.HandleWebfinger(c)
		})

		g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")
			s.HandleNodeinfoIndex(c)
		})

		g.GET("/nodeinfo/2.0", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")
			s.HandleNodeinfo(c)
		})
	}

	return g.Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}
