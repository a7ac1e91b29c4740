package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
)

// newActivityURI mints the identifier for a locally produced activity.
func (e *Engine) newActivityURI() string {
	return "https://" + e.conf.Conf.SslDomain + "/activities/" + uuid.New().String()
}

// BuildNoteObject renders a stored post as its wire object. Used by the
// outbox collection, the per-post endpoint and Create construction.
func (e *Engine) BuildNoteObject(actor *domain.Actor, post *domain.Post) map[string]interface{} {
	obj := map[string]interface{}{
		"id":           post.URI,
		"type":         "Note",
		"attributedTo": actor.URI,
		"content":      post.Content,
		"published":    post.PublishedAt.UTC().Format(time.RFC3339),
		"sensitive":    post.Sensitive,
		"to":           []string{publicAudience},
		"cc":           []string{actor.URI + "/followers"},
	}
	if post.URL != "" {
		obj["url"] = post.URL
	}
	if post.InReplyToId != nil {
		if err, parent := e.store.ReadPostById(*post.InReplyToId); err == nil && parent != nil {
			obj["inReplyTo"] = parent.URI
		}
	}

	if err, media := e.store.ReadMediaByPost(post.Id); err == nil && media != nil && len(*media) > 0 {
		var attachments []map[string]interface{}
		for _, m := range *media {
			att := map[string]interface{}{
				"type":      "Document",
				"mediaType": m.MediaType,
				"url":       m.URL,
			}
			if m.AltText != "" {
				att["name"] = m.AltText
			}
			attachments = append(attachments, att)
		}
		obj["attachment"] = attachments
	}

	if err, tags := e.store.ReadPostTags(post.Id); err == nil && len(tags) > 0 {
		var entries []map[string]interface{}
		for _, name := range tags {
			entries = append(entries, map[string]interface{}{
				"type": "Hashtag",
				"name": "#" + name,
				"href": "https://" + e.conf.Conf.SslDomain + "/tags/" + name,
			})
		}
		obj["tag"] = entries
	}

	return obj
}

// BuildCreateNote wraps a post object in its Create envelope.
func (e *Engine) BuildCreateNote(actor *domain.Actor, post *domain.Post) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       post.URI + "/activity",
		"type":     "Create",
		"actor":    actor.URI,
		"object":   e.BuildNoteObject(actor, post),
		"to":       []string{publicAudience},
		"cc":       []string{actor.URI + "/followers"},
	}
}

// BuildAnnounce wraps a post reference in an Announce from the given
// actor, used when a group relays an approved submission.
func (e *Engine) BuildAnnounce(actor *domain.Actor, post *domain.Post) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       e.newActivityURI(),
		"type":     "Announce",
		"actor":    actor.URI,
		"object":   post.URI,
		"to":       []string{publicAudience},
		"cc":       []string{actor.URI + "/followers"},
	}
}

// SendAccept emits the Accept for an inbound Follow, addressed to the
// requester's inbox and signed with the local target's primary key at
// delivery time.
func (e *Engine) SendAccept(target *domain.Actor, follow *Activity, requester *domain.Actor) error {
	var embedded interface{}
	if len(follow.Object) > 0 {
		embedded = map[string]interface{}{
			"id":     follow.ID,
			"type":   "Follow",
			"actor":  follow.Actor,
			"object": target.URI,
		}
	} else {
		embedded = follow.ID
	}

	accept := map[string]interface{}{
		"@context": activityContext,
		"id":       e.newActivityURI(),
		"type":     "Accept",
		"actor":    target.URI,
		"object":   embedded,
		"to":       []string{requester.URI},
	}

	body, err := json.Marshal(accept)
	if err != nil {
		return fmt.Errorf("failed to marshal accept: %w", err)
	}
	return e.Enqueue(accept["id"].(string), body, []string{requester.InboxURI})
}

// SendFollow creates the pending outbound edge and queues the Follow
// activity toward the remote actor.
func (e *Engine) SendFollow(local *domain.Actor, remoteURI string) error {
	remote, err := e.resolver.Resolve(remoteURI)
	if err != nil {
		return fmt.Errorf("failed to resolve follow target: %w", err)
	}

	followURI := e.newActivityURI()
	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       local.Id,
		TargetAccountId: remote.Id,
		URI:             followURI,
		Status:          domain.FollowPending,
		CreatedAt:       time.Now(),
	}
	if err := e.store.UpsertFollow(follow); err != nil {
		return fmt.Errorf("failed to store pending follow: %w", err)
	}

	activity := map[string]interface{}{
		"@context": activityContext,
		"id":       followURI,
		"type":     "Follow",
		"actor":    local.URI,
		"object":   remote.URI,
		"to":       []string{remote.URI},
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal follow: %w", err)
	}
	return e.Enqueue(followURI, body, []string{remote.InboxURI})
}

// SendCreateNote federates a locally authored post to the author's
// followers.
func (e *Engine) SendCreateNote(author *domain.Actor, post *domain.Post) error {
	activity := e.BuildCreateNote(author, post)
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal create: %w", err)
	}
	return e.DeliverToFollowers(author, activity["id"].(string), body)
}

// SendDelete federates the removal of a local post.
func (e *Engine) SendDelete(author *domain.Actor, post *domain.Post) error {
	activity := map[string]interface{}{
		"@context": activityContext,
		"id":       e.newActivityURI(),
		"type":     "Delete",
		"actor":    author.URI,
		"object": map[string]interface{}{
			"id":   post.URI,
			"type": "Tombstone",
		},
		"to": []string{publicAudience},
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal delete: %w", err)
	}
	return e.DeliverToFollowers(author, activity["id"].(string), body)
}

// DeliverToFollowers fans an activity out to every follower inbox,
// preferring shared inboxes and deduplicating them, draining the
// follower set in bounded batches so very large lists never sit in
// memory at once.
func (e *Engine) DeliverToFollowers(actor *domain.Actor, activityURI string, activityJSON []byte) error {
	seen := map[string]bool{}
	err := e.store.DrainFollowers(actor.Id, drainBatchSize, func(batch []domain.ActorRef) error {
		var inboxes []string
		for _, ref := range batch {
			inbox := ref.InboxURI
			if ref.SharedInboxURI != "" {
				inbox = ref.SharedInboxURI
			}
			if inbox == "" || seen[inbox] {
				continue
			}
			seen[inbox] = true
			inboxes = append(inboxes, inbox)
		}
		return e.Enqueue(activityURI, activityJSON, inboxes)
	})
	if err != nil {
		return fmt.Errorf("failed to fan out to followers: %w", err)
	}
	log.Printf("Outbox: Queued %s for %d follower inboxes", activityURI, len(seen))
	return nil
}
