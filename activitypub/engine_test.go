package activitypub

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
	"github.com/mhoehle/loxodon/util"
)

// fakeStore is an in-memory Store for engine tests.
type fakeStore struct {
	actors     map[string]*domain.Actor
	keypairs   map[uuid.UUID][]domain.KeyPair
	posts      map[string]*domain.Post
	media      map[uuid.UUID][]domain.MediaAttachment
	tags       map[uuid.UUID][]string
	follows    map[string]*domain.Follow
	likes      map[string]bool
	boosts     map[string]bool
	activities map[string]*domain.Activity
	deliveries map[string]*domain.DeliveryQueueItem
	community  []*domain.CommunityPost
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actors:     map[string]*domain.Actor{},
		keypairs:   map[uuid.UUID][]domain.KeyPair{},
		posts:      map[string]*domain.Post{},
		media:      map[uuid.UUID][]domain.MediaAttachment{},
		tags:       map[uuid.UUID][]string{},
		follows:    map[string]*domain.Follow{},
		likes:      map[string]bool{},
		boosts:     map[string]bool{},
		activities: map[string]*domain.Activity{},
		deliveries: map[string]*domain.DeliveryQueueItem{},
	}
}

func pairKey(a, b uuid.UUID) string { return a.String() + "|" + b.String() }

func (f *fakeStore) addActor(a *domain.Actor) *domain.Actor {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.LastFetchedAt.IsZero() {
		a.LastFetchedAt = time.Now()
	}
	f.actors[a.URI] = a
	return a
}

func (f *fakeStore) ReadActorByURI(uri string) (error, *domain.Actor) {
	return nil, f.actors[uri]
}

func (f *fakeStore) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	for _, a := range f.actors {
		if a.Id == id {
			return nil, a
		}
	}
	return nil, nil
}

func (f *fakeStore) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	for _, a := range f.actors {
		if a.Local && a.Username == username {
			return nil, a
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertRemoteActor(actor *domain.Actor) (error, *domain.Actor) {
	if existing, ok := f.actors[actor.URI]; ok {
		existing.DisplayName = actor.DisplayName
		existing.Summary = actor.Summary
		existing.AvatarURL = actor.AvatarURL
		existing.InboxURI = actor.InboxURI
		existing.SharedInboxURI = actor.SharedInboxURI
		existing.PublicKeyPem = actor.PublicKeyPem
		existing.LastFetchedAt = actor.LastFetchedAt
		return nil, existing
	}
	return nil, f.addActor(actor)
}

func (f *fakeStore) DeleteActorCascade(id uuid.UUID) error {
	for uri, a := range f.actors {
		if a.Id == id {
			delete(f.actors, uri)
		}
	}
	for uri, p := range f.posts {
		if p.ActorId == id {
			delete(f.posts, uri)
		}
	}
	return nil
}

func (f *fakeStore) CreateKeyPair(kp *domain.KeyPair) error {
	f.keypairs[kp.ActorId] = append(f.keypairs[kp.ActorId], *kp)
	return nil
}

func (f *fakeStore) ReadKeyPairs(actorId uuid.UUID) (error, *[]domain.KeyPair) {
	pairs := append([]domain.KeyPair{}, f.keypairs[actorId]...)
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Algorithm == domain.KeyRSA && pairs[j].Algorithm != domain.KeyRSA
	})
	return nil, &pairs
}

func (f *fakeStore) CreateOrGetPostByURI(post *domain.Post) (error, *domain.Post, bool) {
	if existing, ok := f.posts[post.URI]; ok {
		return nil, existing, false
	}
	cp := *post
	f.posts[post.URI] = &cp
	return nil, &cp, true
}

func (f *fakeStore) UpdatePost(post *domain.Post) error {
	if existing, ok := f.posts[post.URI]; ok {
		*existing = *post
	}
	return nil
}

func (f *fakeStore) ReadPostByURI(uri string) (error, *domain.Post) {
	return nil, f.posts[uri]
}

func (f *fakeStore) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	for _, p := range f.posts {
		if p.Id == id {
			return nil, p
		}
	}
	return nil, nil
}

func (f *fakeStore) postsOf(actorId uuid.UUID, filter func(*domain.Post) bool) []domain.Post {
	var out []domain.Post
	for _, p := range f.posts {
		if p.ActorId == actorId && (filter == nil || filter(p)) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out
}

func slicePage(posts []domain.Post, limit, offset int) *[]domain.Post {
	if offset >= len(posts) {
		empty := []domain.Post{}
		return &empty
	}
	end := offset + limit
	if end > len(posts) {
		end = len(posts)
	}
	page := posts[offset:end]
	return &page
}

func (f *fakeStore) ReadPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	return nil, slicePage(f.postsOf(actorId, nil), limit, offset)
}

func (f *fakeStore) ReadFeaturedPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	return nil, slicePage(f.postsOf(actorId, func(p *domain.Post) bool { return p.Featured }), limit, offset)
}

func (f *fakeStore) ReadLikedPostsByActor(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	var out []domain.Post
	for _, p := range f.posts {
		if f.likes[pairKey(actorId, p.Id)] {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return nil, slicePage(out, limit, offset)
}

func (f *fakeStore) CountPostsByActor(actorId uuid.UUID) (error, int) {
	return nil, len(f.postsOf(actorId, nil))
}

func (f *fakeStore) CountFeaturedPostsByActor(actorId uuid.UUID) (error, int) {
	return nil, len(f.postsOf(actorId, func(p *domain.Post) bool { return p.Featured }))
}

func (f *fakeStore) CountLikesByActor(actorId uuid.UUID) (error, int) {
	count := 0
	for _, p := range f.posts {
		if f.likes[pairKey(actorId, p.Id)] {
			count++
		}
	}
	return nil, count
}

func (f *fakeStore) DeletePostCascade(id uuid.UUID) error {
	for uri, p := range f.posts {
		if p.Id == id {
			delete(f.posts, uri)
		}
	}
	delete(f.media, id)
	delete(f.tags, id)
	return nil
}

func (f *fakeStore) ReplaceMediaAttachments(postId uuid.UUID, media []domain.MediaAttachment) error {
	f.media[postId] = media
	return nil
}

func (f *fakeStore) ReadMediaByPost(postId uuid.UUID) (error, *[]domain.MediaAttachment) {
	media := f.media[postId]
	return nil, &media
}

func (f *fakeStore) ReplacePostTags(postId uuid.UUID, names []string) error {
	f.tags[postId] = names
	return nil
}

func (f *fakeStore) ReadPostTags(postId uuid.UUID) (error, []string) {
	return nil, f.tags[postId]
}

func (f *fakeStore) bumpPost(postId uuid.UUID, fn func(*domain.Post)) error {
	for _, p := range f.posts {
		if p.Id == postId {
			fn(p)
		}
	}
	return nil
}

func (f *fakeStore) BumpReplyCount(postId uuid.UUID, delta int) error {
	return f.bumpPost(postId, func(p *domain.Post) { p.ReplyCount += delta })
}

func (f *fakeStore) BumpLikeCount(postId uuid.UUID, delta int) error {
	return f.bumpPost(postId, func(p *domain.Post) { p.LikeCount += delta })
}

func (f *fakeStore) BumpBoostCount(postId uuid.UUID, delta int) error {
	return f.bumpPost(postId, func(p *domain.Post) { p.BoostCount += delta })
}

func (f *fakeStore) UpsertFollow(follow *domain.Follow) error {
	cp := *follow
	f.follows[pairKey(follow.AccountId, follow.TargetAccountId)] = &cp
	return nil
}

func (f *fakeStore) ReadFollowByURI(uri string) (error, *domain.Follow) {
	for _, fl := range f.follows {
		if fl.URI == uri {
			return nil, fl
		}
	}
	return nil, nil
}

func (f *fakeStore) ReadFollowByPair(accountId, targetId uuid.UUID) (error, *domain.Follow) {
	return nil, f.follows[pairKey(accountId, targetId)]
}

func (f *fakeStore) AcceptFollowByURI(uri string) error {
	for _, fl := range f.follows {
		if fl.URI == uri {
			fl.Status = domain.FollowAccepted
		}
	}
	return nil
}

func (f *fakeStore) AcceptPendingFollowsToward(targetId uuid.UUID) error {
	for _, fl := range f.follows {
		if fl.TargetAccountId == targetId && fl.Status == domain.FollowPending {
			fl.Status = domain.FollowAccepted
		}
	}
	return nil
}

func (f *fakeStore) DeleteFollowByURI(uri string) error {
	for key, fl := range f.follows {
		if fl.URI == uri {
			delete(f.follows, key)
		}
	}
	return nil
}

func (f *fakeStore) DeleteFollowByPair(accountId, targetId uuid.UUID) error {
	delete(f.follows, pairKey(accountId, targetId))
	return nil
}

func (f *fakeStore) followerRefs(actorId uuid.UUID) []domain.ActorRef {
	var edges []*domain.Follow
	for _, fl := range f.follows {
		if fl.TargetAccountId == actorId && fl.Status == domain.FollowAccepted {
			edges = append(edges, fl)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].CreatedAt.Before(edges[j].CreatedAt) })
	var refs []domain.ActorRef
	for _, fl := range edges {
		if err, a := f.ReadActorById(fl.AccountId); err == nil && a != nil {
			refs = append(refs, domain.ActorRef{Id: a.Id, URI: a.URI, InboxURI: a.InboxURI, SharedInboxURI: a.SharedInboxURI})
		}
	}
	return refs
}

func sliceRefs(refs []domain.ActorRef, limit, offset int) *[]domain.ActorRef {
	if offset >= len(refs) {
		empty := []domain.ActorRef{}
		return &empty
	}
	end := offset + limit
	if end > len(refs) {
		end = len(refs)
	}
	page := refs[offset:end]
	return &page
}

func (f *fakeStore) ReadFollowers(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActorRef) {
	return nil, sliceRefs(f.followerRefs(actorId), limit, offset)
}

func (f *fakeStore) ReadFollowing(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActorRef) {
	var edges []*domain.Follow
	for _, fl := range f.follows {
		if fl.AccountId == actorId && fl.Status == domain.FollowAccepted {
			edges = append(edges, fl)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].CreatedAt.Before(edges[j].CreatedAt) })
	var refs []domain.ActorRef
	for _, fl := range edges {
		if err, a := f.ReadActorById(fl.TargetAccountId); err == nil && a != nil {
			refs = append(refs, domain.ActorRef{Id: a.Id, URI: a.URI, InboxURI: a.InboxURI, SharedInboxURI: a.SharedInboxURI})
		}
	}
	return nil, sliceRefs(refs, limit, offset)
}

func (f *fakeStore) DrainFollowers(actorId uuid.UUID, batchSize int, fn func([]domain.ActorRef) error) error {
	refs := f.followerRefs(actorId)
	for start := 0; start < len(refs); start += batchSize {
		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		if err := fn(refs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) CountFollowers(actorId uuid.UUID) (error, int) {
	return nil, len(f.followerRefs(actorId))
}

func (f *fakeStore) CountFollowing(actorId uuid.UUID) (error, int) {
	count := 0
	for _, fl := range f.follows {
		if fl.AccountId == actorId && fl.Status == domain.FollowAccepted {
			count++
		}
	}
	return nil, count
}

func (f *fakeStore) CreateLike(like *domain.Like) (error, bool) {
	key := pairKey(like.AccountId, like.PostId)
	if f.likes[key] {
		return nil, false
	}
	f.likes[key] = true
	return nil, true
}

func (f *fakeStore) DeleteLike(accountId, postId uuid.UUID) (error, bool) {
	key := pairKey(accountId, postId)
	if !f.likes[key] {
		return nil, false
	}
	delete(f.likes, key)
	return nil, true
}

func (f *fakeStore) CreateBoost(boost *domain.Boost) (error, bool) {
	key := pairKey(boost.AccountId, boost.PostId)
	if f.boosts[key] {
		return nil, false
	}
	f.boosts[key] = true
	return nil, true
}

func (f *fakeStore) DeleteBoost(accountId, postId uuid.UUID) (error, bool) {
	key := pairKey(accountId, postId)
	if !f.boosts[key] {
		return nil, false
	}
	delete(f.boosts, key)
	return nil, true
}

func (f *fakeStore) CreateActivity(activity *domain.Activity) error {
	if _, ok := f.activities[activity.ActivityURI]; ok {
		return nil
	}
	cp := *activity
	f.activities[activity.ActivityURI] = &cp
	return nil
}

func (f *fakeStore) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return nil, f.activities[uri]
}

func (f *fakeStore) MarkActivityProcessed(id uuid.UUID) error {
	for _, a := range f.activities {
		if a.Id == id {
			a.Processed = true
		}
	}
	return nil
}

func (f *fakeStore) UpdateActivityAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	for _, a := range f.activities {
		if a.Id == id {
			a.Attempts = attempts
			a.NextRetryAt = nextRetry
		}
	}
	return nil
}

func (f *fakeStore) DeleteActivity(id uuid.UUID) error {
	for uri, a := range f.activities {
		if a.Id == id {
			delete(f.activities, uri)
		}
	}
	return nil
}

func (f *fakeStore) ReadUnprocessedActivities(limit int) (error, *[]domain.Activity) {
	now := time.Now()
	var out []domain.Activity
	for _, a := range f.activities {
		if !a.Processed && !a.Local && !a.NextRetryAt.After(now) && len(out) < limit {
			out = append(out, *a)
		}
	}
	return nil, &out
}

func (f *fakeStore) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	key := item.InboxURI + "|" + item.ActivityURI
	if _, ok := f.deliveries[key]; ok {
		return nil
	}
	cp := *item
	f.deliveries[key] = &cp
	return nil
}

func (f *fakeStore) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	var out []domain.DeliveryQueueItem
	for _, d := range f.deliveries {
		if len(out) < limit {
			out = append(out, *d)
		}
	}
	return nil, &out
}

func (f *fakeStore) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	for _, d := range f.deliveries {
		if d.Id == id {
			d.Attempts = attempts
			d.NextRetryAt = nextRetry
		}
	}
	return nil
}

func (f *fakeStore) DeleteDelivery(id uuid.UUID) error {
	for key, d := range f.deliveries {
		if d.Id == id {
			delete(f.deliveries, key)
		}
	}
	return nil
}

func (f *fakeStore) CreateCommunityPost(cp *domain.CommunityPost) error {
	f.community = append(f.community, cp)
	return nil
}

// fakeNotifier records notification calls.
type retraction struct {
	kind        domain.NotificationKind
	fromActorId uuid.UUID
	toActorId   uuid.UUID
	postId      *uuid.UUID
}

type fakeNotifier struct {
	created []domain.Notification
	deleted []retraction
}

func (f *fakeNotifier) CreateNotification(n *domain.Notification) error {
	f.created = append(f.created, *n)
	return nil
}

func (f *fakeNotifier) DeleteNotificationFor(kind domain.NotificationKind, fromActorId, toActorId uuid.UUID, postId *uuid.UUID) error {
	f.deleted = append(f.deleted, retraction{kind: kind, fromActorId: fromActorId, toActorId: toActorId, postId: postId})
	return nil
}

// fakeScorer counts score recalculations.
type fakeScorer struct {
	postCalls   int
	parentCalls int
}

func (f *fakeScorer) RecalcPostScore(postId uuid.UUID) error {
	f.postCalls++
	return nil
}

func (f *fakeScorer) RecalcParentPostScore(childId uuid.UUID) error {
	f.parentCalls++
	return nil
}

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = "social.example"
	conf.Conf.DeliveryWorkers = 2
	conf.Conf.MaxPayloadBytes = 1 * 1024 * 1024
	conf.Conf.MaxContentBytes = 64 * 1024
	return conf
}

// testEngine builds an engine over fresh fakes.
func testEngine() (*Engine, *fakeStore, *fakeNotifier, *fakeScorer) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	scorer := &fakeScorer{}
	engine := NewEngine(store, notifier, scorer, nil, testConf())
	return engine, store, notifier, scorer
}

func remoteActor(store *fakeStore, uri string) *domain.Actor {
	return store.addActor(&domain.Actor{
		URI:      uri,
		Username: "someone",
		Domain:   "remote.example",
		InboxURI: uri + "/inbox",
		Kind:     domain.ActorPerson,
	})
}

func localActor(store *fakeStore, username string) *domain.Actor {
	return store.addActor(&domain.Actor{
		URI:      "https://social.example/users/" + username,
		Username: username,
		Domain:   "social.example",
		InboxURI: "https://social.example/users/" + username + "/inbox",
		Kind:     domain.ActorPerson,
		Local:    true,
	})
}
