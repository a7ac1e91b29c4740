package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorKind mirrors the ActivityStreams actor type.
type ActorKind string

const (
	ActorPerson ActorKind = "Person"
	ActorGroup  ActorKind = "Group"
)

// Actor is a federated identity, local or remote. The URI is assigned once
// and never changes; everything else may be refreshed in place when a peer
// pushes an Update or the actor is re-resolved.
type Actor struct {
	Id             uuid.UUID
	URI            string
	Username       string
	Domain         string // empty for local actors
	DisplayName    string
	Summary        string
	AvatarURL      string
	InboxURI       string
	SharedInboxURI string
	ProfileURL     string
	Kind           ActorKind
	Local          bool
	OwnerId        *uuid.UUID // local user or group identity, nil for remote
	FollowerCount  int
	FollowingCount int
	PublicKeyPem   string // verification key of a remote actor
	LastFetchedAt  time.Time
	CreatedAt      time.Time
}

// Handle returns "username" for local actors and "username@domain" otherwise.
func (a *Actor) Handle() string {
	if a.Domain == "" {
		return a.Username
	}
	return fmt.Sprintf("%s@%s", a.Username, a.Domain)
}

func (a *Actor) IsGroup() bool {
	return a.Kind == ActorGroup
}

// KeyAlgorithm names a signature algorithm family supported per actor.
type KeyAlgorithm string

const (
	KeyRSA     KeyAlgorithm = "rsa"
	KeyEd25519 KeyAlgorithm = "ed25519"
)

// KeyPair holds one algorithm variant of an actor's signing material.
// Private PEM never leaves the key custodian.
type KeyPair struct {
	Id         uuid.UUID
	ActorId    uuid.UUID
	Algorithm  KeyAlgorithm
	PublicPem  string
	PrivatePem string
	CreatedAt  time.Time
}

// PublicKey is the publishable half of a KeyPair, shaped for the actor
// document.
type PublicKey struct {
	KeyId        string
	Owner        string
	Algorithm    KeyAlgorithm
	PublicKeyPem string
}

// ActorRef is the slim actor view used for collection pages and delivery
// fan-out.
type ActorRef struct {
	Id             uuid.UUID
	URI            string
	InboxURI       string
	SharedInboxURI string
}
