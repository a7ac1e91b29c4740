package activitypub

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

// SignRequest signs an outgoing HTTP request with the given RSA private
// key. keyId format: "https://example.com/users/alice#main-key".
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest verifies the HTTP signature on an incoming request
// against the given PEM public key. Both RSA and Ed25519 keys are
// accepted. Returns the signing actor URI (keyId without fragment).
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := ParseAnyPublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	var algo httpsig.Algorithm
	switch pubKey.(type) {
	case *rsa.PublicKey:
		algo = httpsig.RSA_SHA256
	case ed25519.PublicKey:
		algo = httpsig.ED25519
	default:
		return "", fmt.Errorf("unsupported public key type %T", pubKey)
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(pubKey, algo); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is "https://example.com/users/alice#main-key"; the actor
	// URI is everything before the fragment.
	return strings.Split(keyId, "#")[0], nil
}

// ParsePrivateKey converts a PKCS#1 PEM string to *rsa.PrivateKey.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParseAnyPublicKey converts a PKIX PEM string to a crypto.PublicKey,
// accepting the key families used for federation signatures.
func ParseAnyPublicKey(pemString string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	switch pubKey.(type) {
	case *rsa.PublicKey, ed25519.PublicKey:
		return pubKey, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pubKey)
	}
}

// ParsePublicKey converts a PKIX PEM string to *rsa.PublicKey.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	pubKey, err := ParseAnyPublicKey(pemString)
	if err != nil {
		return nil, err
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
