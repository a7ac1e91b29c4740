package web

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/mhoehle/loxodon/domain"
)

// HandleActor serves a local actor's identity document, carrying every
// published key variant: the rsa key under publicKey where all peers
// look, the ed25519 key under assertionMethod for peers that verify the
// newer family.
func (s *Server) HandleActor(c *gin.Context, username string) {
	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		c.JSON(404, gin.H{"error": "Actor not found"})
		return
	}

	keys, err := s.engine.Keys().GetPublicKeys(username, actor.URI)
	if err != nil || len(keys) == 0 {
		log.Printf("Actor: Failed to load keys for %s: %v", username, err)
		c.JSON(500, gin.H{"error": "Temporary failure"})
		return
	}

	actorType := "Person"
	if actor.IsGroup() {
		actorType = "Group"
	}

	doc := gin.H{
		"@context": []interface{}{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                actor.URI,
		"type":              actorType,
		"preferredUsername": actor.Username,
		"name":              actor.DisplayName,
		"summary":           actor.Summary,
		"url":               actor.ProfileURL,
		"inbox":             actor.URI + "/inbox",
		"outbox":            actor.URI + "/outbox",
		"followers":         actor.URI + "/followers",
		"following":         actor.URI + "/following",
		"liked":             actor.URI + "/liked",
		"featured":          actor.URI + "/featured",
		"endpoints": gin.H{
			"sharedInbox": "https://" + s.conf.Conf.SslDomain + "/inbox",
		},
	}

	for _, key := range keys {
		entry := gin.H{
			"id":           key.KeyId,
			"owner":        key.Owner,
			"publicKeyPem": key.PublicKeyPem,
		}
		if key.Algorithm == domain.KeyRSA {
			doc["publicKey"] = entry
		} else {
			doc["assertionMethod"] = entry
		}
	}

	if actor.AvatarURL != "" {
		doc["icon"] = gin.H{
			"type":      "Image",
			"mediaType": "image/png",
			"url":       actor.AvatarURL,
		}
	}

	c.JSON(200, doc)
}
