package web

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/mhoehle/loxodon/util"
)

// HandleNodeinfoIndex serves the well-known document pointing at the
// schema endpoint.
func (s *Server) HandleNodeinfoIndex(c *gin.Context) {
	c.JSON(200, gin.H{
		"links": []gin.H{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": fmt.Sprintf("https://%s/nodeinfo/2.0", s.conf.Conf.SslDomain),
			},
		},
	})
}

// HandleNodeinfo reports aggregate local counts for peer discovery.
func (s *Server) HandleNodeinfo(c *gin.Context) {
	err, users := s.db.CountLocalActors()
	if err != nil {
		log.Printf("Nodeinfo: Failed to count actors: %v", err)
		c.JSON(500, gin.H{"error": "Temporary failure"})
		return
	}
	err, posts := s.db.CountLocalPosts()
	if err != nil {
		log.Printf("Nodeinfo: Failed to count posts: %v", err)
		c.JSON(500, gin.H{"error": "Temporary failure"})
		return
	}

	c.JSON(200, gin.H{
		"version": "2.0",
		"software": gin.H{
			"name":    "loxodon",
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": gin.H{
			"inbound":  []string{},
			"outbound": []string{},
		},
		"openRegistrations": false,
		"usage": gin.H{
			"users": gin.H{
				"total": users,
			},
			"localPosts": posts,
		},
		"metadata": gin.H{},
	})
}
