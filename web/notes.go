package web

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleNote serves a single post as its wire object.
func (s *Server) HandleNote(c *gin.Context, noteId uuid.UUID) {
	err, post := s.db.ReadPostById(noteId)
	if err != nil || post == nil {
		c.JSON(404, gin.H{"error": "Note not found"})
		return
	}

	err, author := s.db.ReadActorById(post.ActorId)
	if err != nil || author == nil {
		c.JSON(404, gin.H{"error": "Note not found"})
		return
	}

	c.JSON(200, s.engine.BuildNoteObject(author, post))
}
