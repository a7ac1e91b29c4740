package domain

import (
	"time"

	"github.com/google/uuid"
)

// FollowStatus tracks the follow edge lifecycle. Inbound follows are
// accepted immediately; outbound ones stay pending until the peer answers.
type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowAccepted FollowStatus = "accepted"
)

// Follow is a directed edge: AccountId follows TargetAccountId. At most one
// edge exists per ordered pair.
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID
	TargetAccountId uuid.UUID
	URI             string // Follow activity URI
	Status          FollowStatus
	CreatedAt       time.Time
}

// Like is an idempotent (actor, post) edge, reversible via Undo.
type Like struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	PostId    uuid.UUID
	URI       string
	CreatedAt time.Time
}

// Boost is an idempotent (actor, post) reshare edge.
type Boost struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	PostId    uuid.UUID
	URI       string
	CreatedAt time.Time
}

// Activity is the raw inbound log row, keyed unique on the activity URI for
// deduplication. Unprocessed rows are retried under the inbound policy.
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
	Local        bool
}

// DeliveryDirection selects the retry policy for a queue row.
type DeliveryDirection string

const (
	DeliveryOutbound DeliveryDirection = "outbound"
	DeliveryInbound  DeliveryDirection = "inbound"
)

// DeliveryQueueItem is one pending delivery, unique per
// (inbox URI, activity URI) so concurrent retries collapse.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityURI  string
	ActivityJSON string
	Direction    DeliveryDirection
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// NotificationKind is the reason a local user is notified.
type NotificationKind string

const (
	NotifyFollow NotificationKind = "follow"
	NotifyLike   NotificationKind = "like"
	NotifyBoost  NotificationKind = "boost"
	NotifyReply  NotificationKind = "reply"
)

type Notification struct {
	Id          uuid.UUID
	Kind        NotificationKind
	FromActorId uuid.UUID
	ToActorId   uuid.UUID
	PostId      *uuid.UUID
	CreatedAt   time.Time
}

// CommunityPost links a post to a moderated group it was submitted to.
type CommunityPost struct {
	Id        uuid.UUID
	GroupId   uuid.UUID
	PostId    uuid.UUID
	Approved  bool
	CreatedAt time.Time
}
