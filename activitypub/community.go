package activitypub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mhoehle/loxodon/domain"
)

// bridgeCommunities links a freshly created post to any local group
// actor it addresses, after consulting the moderation collaborator.
// Auto-approved submissions are announced from the group to the group's
// followers.
func (e *Engine) bridgeCommunities(author *domain.Actor, post *domain.Post, recipients []string) {
	for _, rcpt := range recipients {
		if rcpt == publicAudience {
			continue
		}
		err, group := e.store.ReadActorByURI(rcpt)
		if err != nil || group == nil || !group.Local || !group.IsGroup() {
			continue
		}

		decision := e.mod.CanPost(group, author)
		if !decision.Allowed {
			log.Printf("Community: Submission to %s by %s denied: %s", group.Handle(), author.URI, decision.Reason)
			continue
		}

		approved := !decision.RequiresApproval || e.mod.ShouldAutoApprove(group, author)
		cp := &domain.CommunityPost{
			Id:        uuid.New(),
			GroupId:   group.Id,
			PostId:    post.Id,
			Approved:  approved,
			CreatedAt: time.Now(),
		}
		if err := e.store.CreateCommunityPost(cp); err != nil {
			log.Printf("Community: Failed to link post %s to %s: %v", post.URI, group.Handle(), err)
			continue
		}

		if !approved {
			log.Printf("Community: Submission %s to %s held for approval", post.URI, group.Handle())
			continue
		}

		announce := e.BuildAnnounce(group, post)
		body, err := json.Marshal(announce)
		if err != nil {
			log.Printf("Community: Failed to marshal announce: %v", err)
			continue
		}
		if err := e.DeliverToFollowers(group, announce["id"].(string), body); err != nil {
			log.Printf("Community: Failed to announce %s from %s: %v", post.URI, group.Handle(), err)
		}
	}
}

// openModeration is the permissive default: every submission is allowed
// and auto-approved. Deployments plug in real policy via NewEngine.
type openModeration struct{}

func (openModeration) CanPost(group, actor *domain.Actor) ModerationDecision {
	return ModerationDecision{Allowed: true}
}

func (openModeration) ShouldAutoApprove(group, actor *domain.Actor) bool {
	return true
}
