package web

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

// HandleWebfinger resolves acct: resources to local actor documents.
func (s *Server) HandleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if resource == "" || !strings.HasPrefix(resource, "acct:") {
		c.JSON(404, gin.H{"detail": "Not Found"})
		return
	}

	username := strings.TrimPrefix(resource, "acct:")
	username = strings.TrimSuffix(username, fmt.Sprintf("@%s", s.conf.Conf.SslDomain))
	if strings.Contains(username, "@") {
		// Resource on a foreign domain; not ours to answer.
		c.JSON(404, gin.H{"detail": "Not Found"})
		return
	}

	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		c.JSON(404, gin.H{"detail": "Not Found"})
		return
	}

	c.JSON(200, gin.H{
		"subject": fmt.Sprintf("acct:%s@%s", actor.Username, s.conf.Conf.SslDomain),
		"links": []gin.H{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": actor.URI,
			},
		},
	})
}
