package domain

import (
	"time"

	"github.com/google/uuid"
)

// Post is a locally stored status, either authored here or materialized
// from an inbound Create.
type Post struct {
	Id          uuid.UUID
	URI         string
	ActorId     uuid.UUID
	Content     string
	URL         string // external permalink for link posts
	InReplyToId *uuid.UUID
	Sensitive   bool
	Featured    bool
	Recipients  []string // addressed recipient URIs as delivered
	Score       int
	ReplyCount  int
	LikeCount   int
	BoostCount  int
	PublishedAt time.Time
	CreatedAt   time.Time
	EditedAt    *time.Time
}

// MediaAttachment belongs to exactly one post and is replaced wholesale
// when the post is updated.
type MediaAttachment struct {
	Id        uuid.UUID
	PostId    uuid.UUID
	URL       string
	MediaType string
	AltText   string
	Width     int
	Height    int
}

type Tag struct {
	Id   uuid.UUID
	Name string
}
