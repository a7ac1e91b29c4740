package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
	"github.com/mhoehle/loxodon/util"
)

// Receive is the engine entry point for a verified inbound activity.
// The raw body is recorded in the activities log (keyed unique on the
// activity URI) before dispatch, so replays are collapsed and transient
// failures can be retried by the reprocessor.
//
// Handlers return an error only for transient conditions worth
// retrying; malformed or unauthorized input is dropped with a log line
// and never surfaced to the peer.
func (e *Engine) Receive(body []byte, receivedAt time.Time) error {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Dropping unparseable activity: %v", err)
		return nil
	}
	if activity.ID == "" || activity.Type == "" || activity.Actor == "" {
		log.Printf("Inbox: Dropping activity missing id/type/actor")
		return nil
	}

	err, existing := e.store.ReadActivityByURI(activity.ID)
	if err == nil && existing != nil {
		// Replayed delivery; the first copy owns processing.
		return nil
	}

	// Lease the row past the reprocessor's next tick so an inline
	// dispatch still in flight is not picked up a second time. On
	// failure the retry below lands on the same slot.
	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    activity.objectRef(),
		RawJSON:      string(body),
		Processed:    false,
		Local:        false,
		NextRetryAt:  receivedAt.Add(InboundPolicy.Backoff(1)),
		CreatedAt:    receivedAt,
	}
	if err := e.store.CreateActivity(record); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor)

	if err := e.dispatch(&activity, receivedAt); err != nil {
		// Leave the row unprocessed; the reprocessor retries it
		// under the inbound policy.
		next := receivedAt.Add(InboundPolicy.Backoff(1))
		if uerr := e.store.UpdateActivityAttempt(record.Id, 1, next); uerr != nil {
			log.Printf("Inbox: Failed to schedule retry for %s: %v", activity.ID, uerr)
		}
		log.Printf("Inbox: Processing %s failed, will retry: %v", activity.ID, err)
		return nil
	}

	return e.store.MarkActivityProcessed(record.Id)
}

// dispatch routes an activity to its verb handler. The verb set is
// closed; anything else is logged and dropped.
func (e *Engine) dispatch(activity *Activity, receivedAt time.Time) error {
	switch activity.Type {
	case "Create":
		return e.handleCreate(activity, receivedAt)
	case "Update":
		return e.handleUpdate(activity, receivedAt)
	case "Follow":
		return e.handleFollow(activity)
	case "Accept":
		return e.handleAccept(activity)
	case "Reject":
		return e.handleReject(activity)
	case "Like":
		return e.handleLike(activity)
	case "Announce":
		return e.handleAnnounce(activity, receivedAt)
	case "Undo":
		return e.handleUndo(activity)
	case "Delete":
		return e.handleDelete(activity)
	default:
		log.Printf("Inbox: Unsupported activity type %q from %s", activity.Type, activity.Actor)
		return nil
	}
}

// resolveActor materializes the asserting actor. A nil return (with nil
// error) means the activity must be silently dropped.
func (e *Engine) resolveActor(activity *Activity) *domain.Actor {
	actor, err := e.resolver.Resolve(activity.Actor)
	if err != nil {
		log.Printf("Inbox: Failed to resolve actor %s: %v", activity.Actor, err)
		return nil
	}
	return actor
}

func (e *Engine) handleCreate(activity *Activity, receivedAt time.Time) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	_, stub, err := decodeObject(activity.Object)
	if err != nil || stub == nil {
		log.Printf("Inbox: Create from %s without embedded object, dropping", activity.Actor)
		return nil
	}
	if !noteTypes[stub.Type] {
		log.Printf("Inbox: Create with unsupported object type %q, dropping", stub.Type)
		return nil
	}

	var obj NoteObject
	if err := json.Unmarshal(activity.Object, &obj); err != nil {
		log.Printf("Inbox: Failed to parse Create object from %s: %v", activity.Actor, err)
		return nil
	}

	recipients := mergeRecipients(activity.To, activity.Cc, obj.To, obj.Cc)

	post, created, err := e.materializePost(actor, &obj, recipients, receivedAt)
	if err != nil {
		return err
	}
	if post == nil || !created {
		return nil
	}

	// Reply side effects: parent counters, score, author notification.
	if post.InReplyToId != nil {
		if err := e.store.BumpReplyCount(*post.InReplyToId, 1); err != nil {
			return fmt.Errorf("failed to bump reply count: %w", err)
		}
		if err := e.scorer.RecalcParentPostScore(post.Id); err != nil {
			log.Printf("Inbox: Parent score update failed for %s: %v", post.URI, err)
		}
		e.notifyPostAuthor(domain.NotifyReply, actor.Id, *post.InReplyToId)
	}

	e.bridgeCommunities(actor, post, recipients)

	return nil
}

// materializePost validates and stores a post-like object. It is shared
// by the Create handler and the best-effort fetch of announced objects.
// A nil post (with nil error) means the object was dropped.
func (e *Engine) materializePost(actor *domain.Actor, obj *NoteObject, recipients []string, receivedAt time.Time) (*domain.Post, bool, error) {
	if obj.ID == "" {
		log.Printf("Inbox: Object from %s has no id, dropping", actor.URI)
		return nil, false, nil
	}

	content := util.SanitizeContent(obj.Content)
	if obj.Name != "" {
		// Title-bearing objects (Article/Page) fold the title in as
		// a leading heading.
		content = "# " + strings.TrimSpace(obj.Name) + "\n\n" + content
	}
	if len(content) > e.conf.Conf.MaxContentBytes {
		log.Printf("Inbox: Object %s exceeds content ceiling (%d bytes), dropping", obj.ID, len(content))
		return nil, false, nil
	}

	var replyTo *uuid.UUID
	if obj.InReplyTo != "" {
		err, parent := e.store.ReadPostByURI(obj.InReplyTo)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up reply parent: %w", err)
		}
		if parent == nil {
			// Never orphaned: a reply to an unknown parent is dropped.
			log.Printf("Inbox: Reply %s to unknown parent %s, dropping", obj.ID, obj.InReplyTo)
			return nil, false, nil
		}
		replyTo = &parent.Id
	}

	externalURL := ""
	var media []domain.MediaAttachment
	for _, att := range obj.Attachment {
		switch att.Type {
		case "Link":
			if obj.Type == "Article" || obj.Type == "Page" {
				if att.Href != "" {
					externalURL = att.Href
				} else {
					externalURL = att.URL
				}
			}
		case "Document", "Image", "Video", "Audio":
			if att.URL == "" {
				continue
			}
			media = append(media, domain.MediaAttachment{
				Id:        uuid.New(),
				URL:       att.URL,
				MediaType: att.MediaType,
				AltText:   att.Name,
				Width:     att.Width,
				Height:    att.Height,
			})
		}
	}
	if externalURL == "" && (obj.Type == "Article" || obj.Type == "Page") {
		externalURL = obj.URL
	}

	post := &domain.Post{
		Id:          uuid.New(),
		URI:         obj.ID,
		ActorId:     actor.Id,
		Content:     content,
		URL:         externalURL,
		InReplyToId: replyTo,
		Sensitive:   obj.Sensitive,
		Recipients:  recipients,
		PublishedAt: NormalizePublished(obj.Published, receivedAt),
		CreatedAt:   receivedAt,
	}

	err, stored, created := e.store.CreateOrGetPostByURI(post)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store post: %w", err)
	}
	if !created {
		// At-most-once materialization: the unique object URI wins.
		return stored, false, nil
	}

	tags := collectHashtags(content, obj.Tag)
	if len(tags) > 0 {
		if err := e.store.ReplacePostTags(stored.Id, tags); err != nil {
			log.Printf("Inbox: Failed to store tags for %s: %v", stored.URI, err)
		}
	}
	if len(media) > 0 {
		for i := range media {
			media[i].PostId = stored.Id
		}
		if err := e.store.ReplaceMediaAttachments(stored.Id, media); err != nil {
			log.Printf("Inbox: Failed to store attachments for %s: %v", stored.URI, err)
		}
	}

	if externalURL != "" {
		e.enrichPreview(stored)
	}

	return stored, true, nil
}

func (e *Engine) handleUpdate(activity *Activity, receivedAt time.Time) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	_, stub, err := decodeObject(activity.Object)
	if err != nil || stub == nil {
		log.Printf("Inbox: Update from %s without embedded object, dropping", activity.Actor)
		return nil
	}

	switch {
	case actorTypes[stub.Type]:
		// Profile update: re-run the resolver upsert from the pushed
		// document, but only for the asserting actor itself.
		var doc ActorDoc
		if err := json.Unmarshal(activity.Object, &doc); err != nil {
			log.Printf("Inbox: Failed to parse actor update from %s: %v", activity.Actor, err)
			return nil
		}
		if doc.ID != activity.Actor {
			log.Printf("Inbox: Update(actor) from %s for foreign actor %s, dropping", activity.Actor, doc.ID)
			return nil
		}
		if _, err := e.resolver.Upsert(&doc); err != nil {
			return fmt.Errorf("failed to upsert actor update: %w", err)
		}
		return nil

	case noteTypes[stub.Type]:
		var obj NoteObject
		if err := json.Unmarshal(activity.Object, &obj); err != nil {
			log.Printf("Inbox: Failed to parse post update from %s: %v", activity.Actor, err)
			return nil
		}

		err, post := e.store.ReadPostByURI(obj.ID)
		if err != nil {
			return fmt.Errorf("failed to look up post: %w", err)
		}
		if post == nil {
			log.Printf("Inbox: Update for unknown post %s, dropping", obj.ID)
			return nil
		}
		if post.ActorId != actor.Id {
			log.Printf("Inbox: Update on %s by non-owner %s, dropping", post.URI, actor.URI)
			return nil
		}

		content := util.SanitizeContent(obj.Content)
		if obj.Name != "" {
			content = "# " + strings.TrimSpace(obj.Name) + "\n\n" + content
		}
		if len(content) > e.conf.Conf.MaxContentBytes {
			log.Printf("Inbox: Updated content for %s exceeds ceiling, dropping", post.URI)
			return nil
		}

		post.Content = content
		post.Sensitive = obj.Sensitive
		if obj.URL != "" {
			post.URL = obj.URL
		}
		now := time.Now()
		post.EditedAt = &now
		if err := e.store.UpdatePost(post); err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}

		// Hashtag and media sets are replaced wholesale.
		if err := e.store.ReplacePostTags(post.Id, collectHashtags(content, obj.Tag)); err != nil {
			log.Printf("Inbox: Failed to replace tags for %s: %v", post.URI, err)
		}
		var media []domain.MediaAttachment
		for _, att := range obj.Attachment {
			if att.Type == "Link" || att.URL == "" {
				continue
			}
			media = append(media, domain.MediaAttachment{
				Id:        uuid.New(),
				PostId:    post.Id,
				URL:       att.URL,
				MediaType: att.MediaType,
				AltText:   att.Name,
				Width:     att.Width,
				Height:    att.Height,
			})
		}
		if err := e.store.ReplaceMediaAttachments(post.Id, media); err != nil {
			log.Printf("Inbox: Failed to replace attachments for %s: %v", post.URI, err)
		}
		return nil

	default:
		log.Printf("Inbox: Update with unsupported object type %q, dropping", stub.Type)
		return nil
	}
}

func (e *Engine) handleFollow(activity *Activity) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	targetURI := activity.objectRef()
	if targetURI == "" {
		log.Printf("Inbox: Follow from %s without target, dropping", activity.Actor)
		return nil
	}

	err, target := e.store.ReadActorByURI(targetURI)
	if err != nil {
		return fmt.Errorf("failed to look up follow target: %w", err)
	}
	if target == nil || !target.Local {
		log.Printf("Inbox: Follow for non-local target %s, dropping", targetURI)
		return nil
	}

	// Inbound follows are always accepted at the protocol layer.
	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       actor.Id,
		TargetAccountId: target.Id,
		URI:             activity.ID,
		Status:          domain.FollowAccepted,
		CreatedAt:       time.Now(),
	}
	if err := e.store.UpsertFollow(follow); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	if err := e.notifier.CreateNotification(&domain.Notification{
		Id:          uuid.New(),
		Kind:        domain.NotifyFollow,
		FromActorId: actor.Id,
		ToActorId:   target.Id,
		CreatedAt:   time.Now(),
	}); err != nil {
		log.Printf("Inbox: Failed to record follow notification: %v", err)
	}

	// The one handler that synthesizes a reply activity: an Accept
	// addressed back to the requester, signed with the target's key.
	if err := e.SendAccept(target, activity, actor); err != nil {
		return fmt.Errorf("failed to send accept: %w", err)
	}
	return nil
}

func (e *Engine) handleAccept(activity *Activity) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	_, stub, _ := decodeObject(activity.Object)
	if stub != nil && stub.Type == "Follow" && stub.ID != "" {
		err, follow := e.store.ReadFollowByURI(stub.ID)
		if err != nil {
			return fmt.Errorf("failed to look up follow: %w", err)
		}
		if follow == nil {
			log.Printf("Inbox: Accept for unknown follow %s, dropping", stub.ID)
			return nil
		}
		log.Printf("Inbox: Accept correlated to follow %s", stub.ID)
		return e.store.AcceptFollowByURI(stub.ID)
	}

	// Peers that omit or strip the embedded Follow get the permissive
	// fallback: accept every pending outbound follow toward them.
	log.Printf("Inbox: Accept from %s without embedded Follow, accepting all pending", actor.URI)
	return e.store.AcceptPendingFollowsToward(actor.Id)
}

func (e *Engine) handleReject(activity *Activity) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	_, stub, _ := decodeObject(activity.Object)
	if stub == nil || stub.Type != "Follow" || stub.ID == "" {
		log.Printf("Inbox: Reject from %s without embedded Follow, dropping", activity.Actor)
		return nil
	}

	// No pending state retained: the edge goes away outright.
	if err := e.store.DeleteFollowByURI(stub.ID); err != nil {
		return fmt.Errorf("failed to remove rejected follow: %w", err)
	}
	return nil
}

func (e *Engine) handleLike(activity *Activity) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	objectURI := activity.objectRef()
	err, post := e.store.ReadPostByURI(objectURI)
	if err != nil {
		return fmt.Errorf("failed to look up liked post: %w", err)
	}
	if post == nil {
		log.Printf("Inbox: Like for unknown post %s, dropping", objectURI)
		return nil
	}

	err, created := e.store.CreateLike(&domain.Like{
		Id:        uuid.New(),
		AccountId: actor.Id,
		PostId:    post.Id,
		URI:       activity.ID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store like: %w", err)
	}
	if !created {
		// Duplicate Like: exactly one edge, counters untouched.
		return nil
	}

	if err := e.store.BumpLikeCount(post.Id, 1); err != nil {
		return fmt.Errorf("failed to bump like count: %w", err)
	}
	if err := e.scorer.RecalcPostScore(post.Id); err != nil {
		log.Printf("Inbox: Score update failed for %s: %v", post.URI, err)
	}
	e.notifyPostAuthor(domain.NotifyLike, actor.Id, post.Id)
	return nil
}

func (e *Engine) handleAnnounce(activity *Activity, receivedAt time.Time) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	objectURI, stub, err := decodeObject(activity.Object)
	if err != nil {
		log.Printf("Inbox: Announce from %s with unreadable object, dropping", activity.Actor)
		return nil
	}

	// Group-actor peers wrap moderation actions in Announce.
	if stub != nil {
		switch stub.Type {
		case "Delete":
			return e.handleAnnouncedDelete(actor, stub)
		case "Remove":
			return e.handleAnnouncedRemove(actor, stub)
		}
	}

	err, post := e.store.ReadPostByURI(objectURI)
	if err != nil {
		return fmt.Errorf("failed to look up announced post: %w", err)
	}
	if post == nil {
		// Unknown object: fetch best-effort before recording the boost.
		post, err = e.fetchRemoteNote(objectURI, receivedAt)
		if err != nil || post == nil {
			log.Printf("Inbox: Could not fetch announced object %s, dropping: %v", objectURI, err)
			return nil
		}
	}

	err, created := e.store.CreateBoost(&domain.Boost{
		Id:        uuid.New(),
		AccountId: actor.Id,
		PostId:    post.Id,
		URI:       activity.ID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store boost: %w", err)
	}
	if !created {
		return nil
	}

	if err := e.store.BumpBoostCount(post.Id, 1); err != nil {
		return fmt.Errorf("failed to bump boost count: %w", err)
	}
	if err := e.scorer.RecalcPostScore(post.Id); err != nil {
		log.Printf("Inbox: Score update failed for %s: %v", post.URI, err)
	}
	e.notifyPostAuthor(domain.NotifyBoost, actor.Id, post.Id)
	return nil
}

// handleAnnouncedDelete cascades a group-relayed Delete to the local
// post, gated on the announcer sharing origin with one of the post's
// addressed recipients.
func (e *Engine) handleAnnouncedDelete(announcer *domain.Actor, stub *ObjectStub) error {
	targetURI, _, err := decodeObject(stub.Object)
	if err != nil || targetURI == "" {
		log.Printf("Inbox: Announced Delete without target, dropping")
		return nil
	}

	err, post := e.store.ReadPostByURI(targetURI)
	if err != nil {
		return fmt.Errorf("failed to look up post: %w", err)
	}
	if post == nil {
		return nil
	}

	authorized := false
	for _, rcpt := range post.Recipients {
		if SameOrigin(announcer.URI, rcpt) {
			authorized = true
			break
		}
	}
	if !authorized {
		log.Printf("Inbox: Announced Delete of %s by %s denied (no shared origin with recipients)", post.URI, announcer.URI)
		return nil
	}

	log.Printf("Inbox: Announced Delete of %s authorized via recipient origin %s", post.URI, announcer.Domain)
	return e.deletePost(post)
}

// handleAnnouncedRemove treats a group-relayed Remove as a boost
// retraction by the announcer.
func (e *Engine) handleAnnouncedRemove(announcer *domain.Actor, stub *ObjectStub) error {
	targetURI, _, err := decodeObject(stub.Object)
	if err != nil || targetURI == "" {
		log.Printf("Inbox: Announced Remove without target, dropping")
		return nil
	}

	err, post := e.store.ReadPostByURI(targetURI)
	if err != nil {
		return fmt.Errorf("failed to look up post: %w", err)
	}
	if post == nil {
		return nil
	}
	return e.undoBoost(announcer, post)
}

func (e *Engine) handleUndo(activity *Activity) error {
	actor := e.resolveActor(activity)
	if actor == nil {
		return nil
	}

	_, stub, err := decodeObject(activity.Object)
	if err != nil || stub == nil {
		log.Printf("Inbox: Undo from %s without embedded activity, dropping", activity.Actor)
		return nil
	}

	switch stub.Type {
	case "Follow":
		var targetId uuid.UUID
		if stub.ID != "" {
			err, follow := e.store.ReadFollowByURI(stub.ID)
			if err != nil {
				return fmt.Errorf("failed to look up follow: %w", err)
			}
			if follow == nil {
				// Undo with no prior Follow is a safe no-op.
				return nil
			}
			targetId = follow.TargetAccountId
			if err := e.store.DeleteFollowByURI(stub.ID); err != nil {
				return fmt.Errorf("failed to undo follow: %w", err)
			}
		} else {
			targetURI, _, _ := decodeObject(stub.Object)
			err, target := e.store.ReadActorByURI(targetURI)
			if err != nil || target == nil {
				log.Printf("Inbox: Undo(Follow) with unknown target %s, dropping", targetURI)
				return nil
			}
			targetId = target.Id
			if err := e.store.DeleteFollowByPair(actor.Id, target.Id); err != nil {
				return fmt.Errorf("failed to undo follow: %w", err)
			}
		}
		if err := e.notifier.DeleteNotificationFor(domain.NotifyFollow, actor.Id, targetId, nil); err != nil {
			log.Printf("Inbox: Failed to retract follow notification: %v", err)
		}
		return nil

	case "Like":
		targetURI, _, _ := decodeObject(stub.Object)
		err, post := e.store.ReadPostByURI(targetURI)
		if err != nil {
			return fmt.Errorf("failed to look up post: %w", err)
		}
		if post == nil {
			return nil
		}
		err, removed := e.store.DeleteLike(actor.Id, post.Id)
		if err != nil {
			return fmt.Errorf("failed to undo like: %w", err)
		}
		if !removed {
			// Undo with no prior Like is a safe no-op.
			return nil
		}
		if err := e.store.BumpLikeCount(post.Id, -1); err != nil {
			return fmt.Errorf("failed to bump like count: %w", err)
		}
		if err := e.scorer.RecalcPostScore(post.Id); err != nil {
			log.Printf("Inbox: Score update failed for %s: %v", post.URI, err)
		}
		if err := e.notifier.DeleteNotificationFor(domain.NotifyLike, actor.Id, post.ActorId, &post.Id); err != nil {
			log.Printf("Inbox: Failed to retract like notification: %v", err)
		}
		return nil

	case "Announce":
		targetURI, _, _ := decodeObject(stub.Object)
		err, post := e.store.ReadPostByURI(targetURI)
		if err != nil {
			return fmt.Errorf("failed to look up post: %w", err)
		}
		if post == nil {
			return nil
		}
		return e.undoBoost(actor, post)

	default:
		log.Printf("Inbox: Undo of unsupported type %q from %s, dropping", stub.Type, activity.Actor)
		return nil
	}
}

func (e *Engine) undoBoost(actor *domain.Actor, post *domain.Post) error {
	err, removed := e.store.DeleteBoost(actor.Id, post.Id)
	if err != nil {
		return fmt.Errorf("failed to undo boost: %w", err)
	}
	if !removed {
		return nil
	}
	if err := e.store.BumpBoostCount(post.Id, -1); err != nil {
		return fmt.Errorf("failed to bump boost count: %w", err)
	}
	if err := e.scorer.RecalcPostScore(post.Id); err != nil {
		log.Printf("Inbox: Score update failed for %s: %v", post.URI, err)
	}
	if err := e.notifier.DeleteNotificationFor(domain.NotifyBoost, actor.Id, post.ActorId, &post.Id); err != nil {
		log.Printf("Inbox: Failed to retract boost notification: %v", err)
	}
	return nil
}

func (e *Engine) handleDelete(activity *Activity) error {
	objectURI := activity.objectRef()
	if objectURI == "" {
		log.Printf("Inbox: Delete from %s without object, dropping", activity.Actor)
		return nil
	}

	// Self-deletion: the actor erases its own identity. No resolver
	// round-trip here; the origin server usually answers 410 already.
	if objectURI == activity.Actor {
		err, actor := e.store.ReadActorByURI(objectURI)
		if err != nil {
			return fmt.Errorf("failed to look up actor: %w", err)
		}
		if actor == nil {
			return nil
		}
		if actor.Local {
			log.Printf("Inbox: Remote Delete of local actor %s denied", actor.URI)
			return nil
		}
		log.Printf("Inbox: Self-deletion of %s, cascading", actor.URI)
		return e.store.DeleteActorCascade(actor.Id)
	}

	err, post := e.store.ReadPostByURI(objectURI)
	if err != nil {
		return fmt.Errorf("failed to look up post: %w", err)
	}
	if post == nil {
		return nil
	}

	path := e.deleteAuthPath(activity.Actor, post)
	if path == "" {
		log.Printf("Inbox: Delete of %s by %s denied (no authorization path)", post.URI, activity.Actor)
		return nil
	}
	log.Printf("Inbox: Delete of %s authorized via %s path", post.URI, path)

	return e.deletePost(post)
}

// deleteAuthPath returns which authorization path permits the requester
// to delete the post: "author", "origin" (shared origin with the post)
// or "group-origin" (shared origin with an addressed group recipient).
// Empty string means unauthorized.
func (e *Engine) deleteAuthPath(requesterURI string, post *domain.Post) string {
	err, requester := e.store.ReadActorByURI(requesterURI)
	if err == nil && requester != nil && requester.Id == post.ActorId {
		return "author"
	}
	if SameOrigin(requesterURI, post.URI) {
		return "origin"
	}
	for _, rcpt := range post.Recipients {
		if rcpt == publicAudience || !SameOrigin(requesterURI, rcpt) {
			continue
		}
		err, addr := e.store.ReadActorByURI(rcpt)
		if err == nil && addr != nil && addr.IsGroup() {
			return "group-origin"
		}
	}
	return ""
}

// deletePost removes the post and fixes the parent's derived state. If
// the author is local the Delete propagates to their followers.
func (e *Engine) deletePost(post *domain.Post) error {
	parent := post.InReplyToId

	if err := e.store.DeletePostCascade(post.Id); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	if parent != nil {
		if err := e.store.BumpReplyCount(*parent, -1); err != nil {
			log.Printf("Inbox: Failed to decrement reply count: %v", err)
		}
		if err := e.scorer.RecalcPostScore(*parent); err != nil {
			log.Printf("Inbox: Parent score update failed: %v", err)
		}
	}

	err, author := e.store.ReadActorById(post.ActorId)
	if err == nil && author != nil && author.Local {
		if err := e.SendDelete(author, post); err != nil {
			log.Printf("Inbox: Failed to propagate delete of %s: %v", post.URI, err)
		}
	}
	return nil
}

// fetchRemoteNote fetches an announced object that is not yet known
// locally and materializes it through the same path as Create.
func (e *Engine) fetchRemoteNote(objectURI string, receivedAt time.Time) (*domain.Post, error) {
	req, err := newJSONRequest("GET", objectURI, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("object fetch returned status %d", resp.StatusCode)
	}

	var obj NoteObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("failed to parse object: %w", err)
	}
	if !noteTypes[obj.Type] || obj.AttributedTo == "" {
		return nil, fmt.Errorf("fetched object %s is not a supported post", objectURI)
	}

	author, err := e.resolver.Resolve(obj.AttributedTo)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve object author: %w", err)
	}

	post, _, err := e.materializePost(author, &obj, mergeRecipients(obj.To, obj.Cc), receivedAt)
	return post, err
}

// notifyPostAuthor records a notification for the post's author when
// the author is a local actor.
func (e *Engine) notifyPostAuthor(kind domain.NotificationKind, fromActorId, postId uuid.UUID) {
	err, post := e.store.ReadPostById(postId)
	if err != nil || post == nil {
		return
	}
	err, author := e.store.ReadActorById(post.ActorId)
	if err != nil || author == nil || !author.Local {
		return
	}
	if err := e.notifier.CreateNotification(&domain.Notification{
		Id:          uuid.New(),
		Kind:        kind,
		FromActorId: fromActorId,
		ToActorId:   author.Id,
		PostId:      &post.Id,
		CreatedAt:   time.Now(),
	}); err != nil {
		log.Printf("Inbox: Failed to record %s notification: %v", kind, err)
	}
}

func mergeRecipients(lists ...StringList) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, uri := range list {
			if uri == "" || seen[uri] {
				continue
			}
			seen[uri] = true
			out = append(out, uri)
		}
	}
	return out
}

// collectHashtags unions tags extracted from the content body with the
// object's declared Hashtag entries.
func collectHashtags(content string, declared []TagDTO) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range util.ExtractHashtags(content) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, tag := range declared {
		if tag.Type != "Hashtag" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(tag.Name, "#"))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
