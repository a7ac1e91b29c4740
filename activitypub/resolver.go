package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mhoehle/loxodon/domain"
)

// actorFreshness is how long a cached remote profile is trusted before
// being re-fetched.
const actorFreshness = 24 * time.Hour

// ActorDoc is the wire shape of a federated actor document.
type ActorDoc struct {
	Context           interface{} `json:"@context,omitempty"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	URL               string      `json:"url"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Resolver materializes remote actors: cached row when fresh, network
// fetch and in-place upsert otherwise. Every inbox handler goes through
// it before trusting a claimed actor URI.
type Resolver struct {
	store  Store
	client *http.Client
	cache  *lru.Cache[string, uuid.UUID]
}

func NewResolver(store Store, client *http.Client) *Resolver {
	cache, _ := lru.New[string, uuid.UUID](1024)
	return &Resolver{store: store, client: client, cache: cache}
}

// Resolve returns the stored actor for the URI, fetching and upserting
// when unknown or stale. Local actors are returned as-is.
func (r *Resolver) Resolve(actorURI string) (*domain.Actor, error) {
	if id, ok := r.cache.Get(actorURI); ok {
		if err, cached := r.store.ReadActorById(id); err == nil && cached != nil {
			if cached.Local || time.Since(cached.LastFetchedAt) < actorFreshness {
				return cached, nil
			}
		}
	} else if err, cached := r.store.ReadActorByURI(actorURI); err == nil && cached != nil {
		r.cache.Add(actorURI, cached.Id)
		if cached.Local || time.Since(cached.LastFetchedAt) < actorFreshness {
			return cached, nil
		}
	}

	return r.FetchRemoteActor(actorURI)
}

// FetchRemoteActor GETs the actor document and upserts it. The identity
// URI is immutable; mutable profile fields are refreshed in place.
func (r *Resolver) FetchRemoteActor(actorURI string) (*domain.Actor, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var doc ActorDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	return r.Upsert(&doc)
}

// Upsert stores the actor document, also invoked directly when a peer
// pushes Update(Person/Group).
func (r *Resolver) Upsert(doc *ActorDoc) (*domain.Actor, error) {
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor document missing required fields")
	}

	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return nil, err
	}

	kind := domain.ActorPerson
	if doc.Type == "Group" {
		kind = domain.ActorGroup
	}

	actor := &domain.Actor{
		Id:             uuid.New(),
		URI:            doc.ID,
		Username:       doc.PreferredUsername,
		Domain:         domainName,
		DisplayName:    doc.Name,
		Summary:        doc.Summary,
		AvatarURL:      doc.Icon.URL,
		InboxURI:       doc.Inbox,
		SharedInboxURI: doc.Endpoints.SharedInbox,
		ProfileURL:     doc.URL,
		Kind:           kind,
		Local:          false,
		PublicKeyPem:   doc.PublicKey.PublicKeyPem,
		LastFetchedAt:  time.Now(),
		CreatedAt:      time.Now(),
	}

	err, stored := r.store.UpsertRemoteActor(actor)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote actor: %w", err)
	}
	r.cache.Add(stored.URI, stored.Id)
	return stored, nil
}

// SameOrigin reports whether two URIs share a network origin
// (scheme-agnostic host comparison).
func SameOrigin(a, b string) bool {
	ha, err1 := extractDomain(a)
	hb, err2 := extractDomain(b)
	return err1 == nil && err2 == nil && ha == hb
}

func extractDomain(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI %q: %w", uri, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("URI %q has no host", uri)
	}
	return parsed.Host, nil
}
