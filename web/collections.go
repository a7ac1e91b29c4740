package web

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/mhoehle/loxodon/activitypub"
)

// HandleCollection serves the collection envelope: total count plus
// first/last page links, no items.
func (s *Server) HandleCollection(c *gin.Context, kind activitypub.CollectionKind, username string) {
	meta, err := s.engine.CollectionMeta(kind, username)
	if err != nil {
		log.Printf("Collections: Failed to read %s meta for %s: %v", kind, username, err)
		c.JSON(500, gin.H{"error": "Temporary failure"})
		return
	}
	if meta == nil {
		c.JSON(404, gin.H{"error": "Actor not found"})
		return
	}

	base := s.collectionURI(username, kind)
	c.JSON(200, gin.H{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         base,
		"type":       "OrderedCollection",
		"totalItems": meta.Total,
		"first":      fmt.Sprintf("%s?cursor=%d", base, meta.First),
		"last":       fmt.Sprintf("%s?cursor=%d", base, meta.Last),
	})
}

// HandleCollectionPage serves one page at the given cursor.
func (s *Server) HandleCollectionPage(c *gin.Context, kind activitypub.CollectionKind, username string, cursor int) {
	page, err := s.engine.CollectionPage(kind, username, cursor)
	if err != nil {
		log.Printf("Collections: Failed to read %s page for %s: %v", kind, username, err)
		c.JSON(500, gin.H{"error": "Temporary failure"})
		return
	}
	if page == nil {
		c.JSON(404, gin.H{"error": "Actor not found"})
		return
	}

	base := s.collectionURI(username, kind)
	items := page.Items
	if items == nil {
		items = []interface{}{}
	}
	doc := gin.H{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?cursor=%d", base, cursor),
		"type":         "OrderedCollectionPage",
		"partOf":       base,
		"orderedItems": items,
	}
	if page.Next != nil {
		doc["next"] = fmt.Sprintf("%s?cursor=%d", base, *page.Next)
	}

	c.JSON(200, doc)
}

func (s *Server) collectionURI(username string, kind activitypub.CollectionKind) string {
	return fmt.Sprintf("https://%s/users/%s/%s", s.conf.Conf.SslDomain, username, kind)
}
