package web

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mhoehle/loxodon/activitypub"
)

// HandleInbox verifies the HTTP signature of an inbound delivery and
// hands the body to the engine. Per-actor and shared inboxes share this
// path; the engine routes on the activity's own addressing. Processing
// outcomes are never reported back to the peer beyond 202.
func (s *Server) HandleInbox(c *gin.Context) {
	if c.GetHeader("Signature") == "" {
		log.Printf("Inbox: Missing HTTP signature")
		c.JSON(401, gin.H{"error": "Missing signature"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.JSON(400, gin.H{"error": "Failed to read body"})
		return
	}

	var envelope struct {
		Actor string `json:"actor"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Actor == "" {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		c.JSON(400, gin.H{"error": "Invalid activity"})
		return
	}

	// Materialize the claimed actor to obtain its published key.
	actor, err := s.engine.Resolver().Resolve(envelope.Actor)
	if err != nil {
		log.Printf("Inbox: Failed to resolve actor %s: %v", envelope.Actor, err)
		c.JSON(400, gin.H{"error": "Failed to verify actor"})
		return
	}

	signer, err := activitypub.VerifyRequest(c.Request, actor.PublicKeyPem)
	if err != nil {
		log.Printf("Inbox: Signature verification failed for %s: %v", envelope.Actor, err)
		c.JSON(401, gin.H{"error": "Invalid signature"})
		return
	}
	if signer != actor.URI {
		log.Printf("Inbox: Signature key owner %s does not match actor %s", signer, actor.URI)
		c.JSON(401, gin.H{"error": "Invalid signature"})
		return
	}

	if err := s.engine.Receive(body, time.Now()); err != nil {
		// Storage trouble; the peer should retry the delivery.
		log.Printf("Inbox: Failed to record activity: %v", err)
		c.JSON(500, gin.H{"error": "Temporary failure"})
		return
	}

	c.Status(202)
}
