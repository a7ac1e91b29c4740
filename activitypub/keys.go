package activitypub

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mhoehle/loxodon/domain"
)

// keyAlgorithms lists the supported variants, primary first. Every
// local actor carries one pair per algorithm so peers that verify only
// one family still interoperate.
var keyAlgorithms = []domain.KeyAlgorithm{domain.KeyRSA, domain.KeyEd25519}

// KeyCustodian owns per-actor signing keys: lazy generation, persistence
// and an in-process cache. Private material never leaves this type
// except through GetKeyPairs for the delivery signer.
type KeyCustodian struct {
	store Store
	cache *lru.Cache[string, []domain.KeyPair]
}

func NewKeyCustodian(store Store) *KeyCustodian {
	cache, _ := lru.New[string, []domain.KeyPair](256)
	return &KeyCustodian{store: store, cache: cache}
}

// GetKeyPairs returns all key variants for a local actor, primary (rsa)
// first, generating and persisting any missing variant on first call.
// For a handle that is not a local actor it returns an empty slice and
// no error; callers treat that as "no such actor". Storage errors are
// returned as errors so a busy database is never mistaken for a
// missing actor.
func (kc *KeyCustodian) GetKeyPairs(username string) ([]domain.KeyPair, error) {
	if pairs, ok := kc.cache.Get(username); ok {
		return pairs, nil
	}

	err, actor := kc.store.ReadLocalActorByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up actor: %w", err)
	}
	if actor == nil {
		return nil, nil
	}

	err, stored := kc.store.ReadKeyPairs(actor.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypairs: %w", err)
	}

	have := map[domain.KeyAlgorithm]bool{}
	if stored != nil {
		for _, kp := range *stored {
			have[kp.Algorithm] = true
		}
	}

	missing := false
	for _, alg := range keyAlgorithms {
		if have[alg] {
			continue
		}
		missing = true
		kp, err := generateKeyPair(actor.Id, alg)
		if err != nil {
			return nil, err
		}
		if err := kc.store.CreateKeyPair(kp); err != nil {
			// A concurrent request may have generated the same
			// variant; the re-read below picks up the winner.
			log.Printf("KeyCustodian: Insert of %s key for %s raced: %v", alg, username, err)
		}
	}

	if missing {
		err, stored = kc.store.ReadKeyPairs(actor.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read keypairs: %w", err)
		}
	}

	var pairs []domain.KeyPair
	if stored != nil {
		pairs = *stored
	}
	kc.cache.Add(username, pairs)
	return pairs, nil
}

// GetPublicKeys exposes only the public halves, addressed under the
// actor URI, for the actor's published document.
func (kc *KeyCustodian) GetPublicKeys(username, actorURI string) ([]domain.PublicKey, error) {
	pairs, err := kc.GetKeyPairs(username)
	if err != nil {
		return nil, err
	}
	keys := make([]domain.PublicKey, 0, len(pairs))
	for _, kp := range pairs {
		keys = append(keys, domain.PublicKey{
			KeyId:        actorURI + keyId(kp.Algorithm),
			Owner:        actorURI,
			Algorithm:    kp.Algorithm,
			PublicKeyPem: kp.PublicPem,
		})
	}
	return keys, nil
}

// PrimaryKey returns the rsa signing pair for an actor, or nil when the
// actor is not local.
func (kc *KeyCustodian) PrimaryKey(username string) (*domain.KeyPair, error) {
	pairs, err := kc.GetKeyPairs(username)
	if err != nil || len(pairs) == 0 {
		return nil, err
	}
	return &pairs[0], nil
}

// keyId is the fragment appended to the actor URI for each algorithm.
func keyId(alg domain.KeyAlgorithm) string {
	if alg == domain.KeyEd25519 {
		return "#ed25519-key"
	}
	return "#main-key"
}

func generateKeyPair(actorId uuid.UUID, alg domain.KeyAlgorithm) (*domain.KeyPair, error) {
	var publicPem, privatePem string

	switch alg {
	case domain.KeyRSA:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("rsa generation failed: %w", err)
		}
		privatePem = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(priv),
		}))
		pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("rsa public marshal failed: %w", err)
		}
		publicPem = string(pem.EncodeToMemory(&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		}))

	case domain.KeyEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("ed25519 generation failed: %w", err)
		}
		privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("ed25519 private marshal failed: %w", err)
		}
		privatePem = string(pem.EncodeToMemory(&pem.Block{
			Type:  "PRIVATE KEY",
			Bytes: privBytes,
		}))
		pubBytes, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("ed25519 public marshal failed: %w", err)
		}
		publicPem = string(pem.EncodeToMemory(&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		}))

	default:
		return nil, fmt.Errorf("unknown key algorithm: %s", alg)
	}

	return &domain.KeyPair{
		Id:         uuid.New(),
		ActorId:    actorId,
		Algorithm:  alg,
		PublicPem:  publicPem,
		PrivatePem: privatePem,
		CreatedAt:  time.Now(),
	}, nil
}
