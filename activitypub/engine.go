package activitypub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
	"github.com/mhoehle/loxodon/util"
)

// Store is the persistence surface the engine depends on. *db.DB
// satisfies it; tests swap in a fake.
type Store interface {
	// Actors
	ReadActorByURI(uri string) (error, *domain.Actor)
	ReadActorById(id uuid.UUID) (error, *domain.Actor)
	ReadLocalActorByUsername(username string) (error, *domain.Actor)
	UpsertRemoteActor(actor *domain.Actor) (error, *domain.Actor)
	DeleteActorCascade(id uuid.UUID) error

	// Keys
	CreateKeyPair(kp *domain.KeyPair) error
	ReadKeyPairs(actorId uuid.UUID) (error, *[]domain.KeyPair)

	// Posts
	CreateOrGetPostByURI(post *domain.Post) (error, *domain.Post, bool)
	UpdatePost(post *domain.Post) error
	ReadPostByURI(uri string) (error, *domain.Post)
	ReadPostById(id uuid.UUID) (error, *domain.Post)
	ReadPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post)
	ReadFeaturedPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post)
	ReadLikedPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post)
	CountPostsByActor(actorId uuid.UUID) (error, int)
	CountFeaturedPostsByActor(actorId uuid.UUID) (error, int)
	CountLikesByActor(actorId uuid.UUID) (error, int)
	DeletePostCascade(id uuid.UUID) error
	ReplaceMediaAttachments(postId uuid.UUID, media []domain.MediaAttachment) error
	ReadMediaByPost(postId uuid.UUID) (error, *[]domain.MediaAttachment)
	ReplacePostTags(postId uuid.UUID, names []string) error
	ReadPostTags(postId uuid.UUID) (error, []string)
	BumpReplyCount(postId uuid.UUID, delta int) error
	BumpLikeCount(postId uuid.UUID, delta int) error
	BumpBoostCount(postId uuid.UUID, delta int) error

	// Follow edges
	UpsertFollow(follow *domain.Follow) error
	ReadFollowByURI(uri string) (error, *domain.Follow)
	ReadFollowByPair(accountId, targetId uuid.UUID) (error, *domain.Follow)
	AcceptFollowByURI(uri string) error
	AcceptPendingFollowsToward(targetId uuid.UUID) error
	DeleteFollowByURI(uri string) error
	DeleteFollowByPair(accountId, targetId uuid.UUID) error
	ReadFollowers(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActorRef)
	ReadFollowing(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActorRef)
	DrainFollowers(actorId uuid.UUID, batchSize int, fn func([]domain.ActorRef) error) error
	CountFollowers(actorId uuid.UUID) (error, int)
	CountFollowing(actorId uuid.UUID) (error, int)

	// Like/boost edges
	CreateLike(like *domain.Like) (error, bool)
	DeleteLike(accountId, postId uuid.UUID) (error, bool)
	CreateBoost(boost *domain.Boost) (error, bool)
	DeleteBoost(accountId, postId uuid.UUID) (error, bool)

	// Activity log
	CreateActivity(activity *domain.Activity) error
	ReadActivityByURI(uri string) (error, *domain.Activity)
	MarkActivityProcessed(id uuid.UUID) error
	UpdateActivityAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteActivity(id uuid.UUID) error
	ReadUnprocessedActivities(limit int) (error, *[]domain.Activity)

	// Delivery queue
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(id uuid.UUID) error

	// Community posts
	CreateCommunityPost(cp *domain.CommunityPost) error
}

// Notifier records local notifications for follows, likes, boosts and
// replies, and removes them again when the action is undone.
type Notifier interface {
	CreateNotification(n *domain.Notification) error
	DeleteNotificationFor(kind domain.NotificationKind, fromActorId, toActorId uuid.UUID, postId *uuid.UUID) error
}

// Scorer maintains the derived post score after likes, boosts and
// replies change.
type Scorer interface {
	RecalcPostScore(postId uuid.UUID) error
	RecalcParentPostScore(childId uuid.UUID) error
}

// ModerationDecision is the outcome of asking whether an actor may post
// into a group.
type ModerationDecision struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
}

// Moderator decides group posting policy. The engine only consults it
// from the Create handler when a post addresses a local group.
type Moderator interface {
	CanPost(group, actor *domain.Actor) ModerationDecision
	ShouldAutoApprove(group, actor *domain.Actor) bool
}

// Engine ties the federation components together: key custodian,
// remote-actor resolver, inbox handlers, delivery queue and collection
// pager all hang off one constructed instance.
type Engine struct {
	store    Store
	notifier Notifier
	scorer   Scorer
	mod      Moderator
	conf     *util.AppConfig
	keys     *KeyCustodian
	resolver *Resolver
	client   *http.Client
}

// NewEngine wires the engine against its collaborators. Pass nil as
// moderator to get the permissive default.
func NewEngine(store Store, notifier Notifier, scorer Scorer, mod Moderator, conf *util.AppConfig) *Engine {
	if mod == nil {
		mod = openModeration{}
	}
	client := &http.Client{Timeout: 30 * time.Second}
	e := &Engine{
		store:    store,
		notifier: notifier,
		scorer:   scorer,
		mod:      mod,
		conf:     conf,
		client:   client,
	}
	e.keys = NewKeyCustodian(store)
	e.resolver = NewResolver(store, client)
	return e
}

// Keys exposes the key custodian for the actor-document endpoints.
func (e *Engine) Keys() *KeyCustodian { return e.keys }

// Resolver exposes the remote-actor resolver.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// StartWorkers launches the delivery worker pool and the inbound
// reprocessor. Call once at startup.
func (e *Engine) StartWorkers() {
	e.startDeliveryWorkers()
	e.startInboundReprocessor()
}

// localURI builds the canonical URI for a local actor.
func (e *Engine) localURI(username string) string {
	return "https://" + e.conf.Conf.SslDomain + "/users/" + username
}

func userAgent() string {
	return util.GetNameAndVersion() + " ActivityPub"
}
