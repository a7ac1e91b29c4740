package activitypub

import (
	"fmt"

	"github.com/mhoehle/loxodon/domain"
)

// CollectionKind names the paginated views exposed to peers.
type CollectionKind string

const (
	CollectionFollowers CollectionKind = "followers"
	CollectionFollowing CollectionKind = "following"
	CollectionLiked     CollectionKind = "liked"
	CollectionFeatured  CollectionKind = "featured"
	CollectionOutbox    CollectionKind = "outbox"
)

// collectionPageSize is the item count per page. Cursors are numeric
// offsets internally but opaque to peers.
const collectionPageSize = 20

// drainBatchSize bounds how many follower rows are materialized at once
// when the full set is drained.
const drainBatchSize = 200

// CollectionMeta describes a collection without loading its items.
type CollectionMeta struct {
	Total int
	First int
	Last  int
}

// CollectionPage is one page of a collection. Items are wire-ready
// values: URI strings for actor collections, object maps for post
// collections. Next is nil on the final page.
type CollectionPage struct {
	Items []interface{}
	Next  *int
}

// CollectionMeta returns total count and first/last cursors for a local
// actor's collection.
func (e *Engine) CollectionMeta(kind CollectionKind, username string) (*CollectionMeta, error) {
	err, actor := e.store.ReadLocalActorByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up actor: %w", err)
	}
	if actor == nil {
		return nil, nil
	}

	var total int
	switch kind {
	case CollectionFollowers:
		err, total = e.store.CountFollowers(actor.Id)
	case CollectionFollowing:
		err, total = e.store.CountFollowing(actor.Id)
	case CollectionLiked:
		err, total = e.store.CountLikesByActor(actor.Id)
	case CollectionFeatured:
		err, total = e.store.CountFeaturedPostsByActor(actor.Id)
	case CollectionOutbox:
		err, total = e.store.CountPostsByActor(actor.Id)
	default:
		return nil, fmt.Errorf("unknown collection %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", kind, err)
	}

	last := 0
	if total > 0 {
		last = ((total - 1) / collectionPageSize) * collectionPageSize
	}
	return &CollectionMeta{Total: total, First: 0, Last: last}, nil
}

// CollectionPage returns the page at the given cursor. Followers at
// cursor zero is special-cased: the entire follower set is returned as
// one logical page, drained in bounded batches, because some peers need
// the zero-index page fully populated to discover the paging shape. The
// outbox is synthesized fresh from live post state on every call, so
// edits and deletes show up in historical pages immediately.
func (e *Engine) CollectionPage(kind CollectionKind, username string, cursor int) (*CollectionPage, error) {
	err, actor := e.store.ReadLocalActorByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up actor: %w", err)
	}
	if actor == nil {
		return nil, nil
	}
	if cursor < 0 {
		cursor = 0
	}

	switch kind {
	case CollectionFollowers:
		if cursor == 0 {
			return e.drainFollowersPage(actor)
		}
		err, refs := e.store.ReadFollowers(actor.Id, collectionPageSize+1, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to read followers: %w", err)
		}
		return actorRefPage(refs, cursor), nil

	case CollectionFollowing:
		err, refs := e.store.ReadFollowing(actor.Id, collectionPageSize+1, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to read following: %w", err)
		}
		return actorRefPage(refs, cursor), nil

	case CollectionLiked:
		err, posts := e.store.ReadLikedPostsByActor(actor.Id, collectionPageSize+1, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to read liked posts: %w", err)
		}
		return e.postPage(actor, posts, cursor, false), nil

	case CollectionFeatured:
		err, posts := e.store.ReadFeaturedPostsByActor(actor.Id, collectionPageSize+1, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to read featured posts: %w", err)
		}
		return e.postPage(actor, posts, cursor, false), nil

	case CollectionOutbox:
		err, posts := e.store.ReadPostsByActor(actor.Id, collectionPageSize+1, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to read posts: %w", err)
		}
		return e.postPage(actor, posts, cursor, true), nil

	default:
		return nil, fmt.Errorf("unknown collection %q", kind)
	}
}

func (e *Engine) drainFollowersPage(actor *domain.Actor) (*CollectionPage, error) {
	page := &CollectionPage{}
	err := e.store.DrainFollowers(actor.Id, drainBatchSize, func(batch []domain.ActorRef) error {
		for _, ref := range batch {
			page.Items = append(page.Items, ref.URI)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain followers: %w", err)
	}
	return page, nil
}

// actorRefPage converts a limit+1 read into a page with next-cursor.
func actorRefPage(refs *[]domain.ActorRef, cursor int) *CollectionPage {
	page := &CollectionPage{}
	if refs == nil {
		return page
	}
	rows := *refs
	if len(rows) > collectionPageSize {
		next := cursor + collectionPageSize
		page.Next = &next
		rows = rows[:collectionPageSize]
	}
	for _, ref := range rows {
		page.Items = append(page.Items, ref.URI)
	}
	return page
}

// postPage renders posts as wire objects, wrapped in Create envelopes
// for the outbox.
func (e *Engine) postPage(owner *domain.Actor, posts *[]domain.Post, cursor int, wrapCreate bool) *CollectionPage {
	page := &CollectionPage{}
	if posts == nil {
		return page
	}
	rows := *posts
	if len(rows) > collectionPageSize {
		next := cursor + collectionPageSize
		page.Next = &next
		rows = rows[:collectionPageSize]
	}
	for i := range rows {
		post := &rows[i]
		err, author := e.store.ReadActorById(post.ActorId)
		if err != nil || author == nil {
			continue
		}
		if wrapCreate {
			page.Items = append(page.Items, e.BuildCreateNote(author, post))
		} else {
			page.Items = append(page.Items, e.BuildNoteObject(author, post))
		}
	}
	return page
}
