package sessions

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Signer signs and verifies session cookies as compact JWS using Ed25519
// keys. Several keys may be registered so that cookies signed by a retired
// key still verify; only the active key signs.
type Signer struct {
	mu        sync.RWMutex
	activeKid string
	privKeys  map[string]ed25519.PrivateKey
	pubKeys   map[string]ed25519.PublicKey
}

// NewSigner returns a Signer with a freshly generated active key. Cookies it
// signs do not survive a process restart; use NewSignerFromSeed for that.
func NewSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	s := newSigner()
	kid := uuid.NewString()
	s.AddKey(kid, priv)
	if err := s.SetActive(kid); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSignerFromSeed derives the active key from a 32-byte seed, so replicas
// sharing the seed accept each other's cookies.
func NewSignerFromSeed(kid string, seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("session key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	if kid == "" {
		return nil, errors.New("session key id required")
	}
	s := newSigner()
	s.AddKey(kid, ed25519.NewKeyFromSeed(seed))
	if err := s.SetActive(kid); err != nil {
		return nil, err
	}
	return s, nil
}

func newSigner() *Signer {
	return &Signer{
		privKeys: make(map[string]ed25519.PrivateKey),
		pubKeys:  make(map[string]ed25519.PublicKey),
	}
}

// AddKey registers a key pair under kid. The active key is unchanged.
func (s *Signer) AddKey(kid string, priv ed25519.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privKeys[kid] = priv
	s.pubKeys[kid] = priv.Public().(ed25519.PublicKey)
}

// SetActive selects the key used for signing.
func (s *Signer) SetActive(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.privKeys[kid]; !ok {
		return fmt.Errorf("unknown kid: %s", kid)
	}
	s.activeKid = kid
	return nil
}

func (s *Signer) ActiveKID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeKid
}

// Sign returns a compact JWS for payload using the active key.
func (s *Signer) Sign(payload []byte) (string, error) {
	s.mu.RLock()
	kid := s.activeKid
	priv, ok := s.privKeys[kid]
	s.mu.RUnlock()
	if !ok {
		return "", errors.New("no active signing key")
	}

	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize jws: %w", err)
	}
	return compact, nil
}

// Verify parses and verifies a compact JWS and returns its payload.
func (s *Signer) Verify(token string) ([]byte, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, fmt.Errorf("failed to parse jws: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("unexpected signatures: %d", len(jws.Signatures))
	}
	kid := jws.Signatures[0].Protected.KeyID

	s.mu.RLock()
	pub, ok := s.pubKeys[kid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown kid: %s", kid)
	}

	payload, err := jws.Verify(pub)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	return payload, nil
}
