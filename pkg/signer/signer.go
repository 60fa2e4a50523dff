// Package signer implements the Ed25519 signer (C1): it produces the
// signed, chained attestations that the verifiable log persists.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trustchain-audit/trustchain/pkg/canonicalize"
	"github.com/trustchain-audit/trustchain/pkg/record"
)

// Signer produces and verifies signed records over tool invocations.
type Signer interface {
	// Sign canonicalises {tool_id, data, timestamp, nonce, parent_signature}
	// and returns a fully populated record carrying the signature, the key
	// id, the current timestamp, and a fresh signature id.
	Sign(toolID string, data map[string]interface{}, nonce, parentSignature string) (*record.Record, error)
	// Verify canonicalises the same subset of fields from r and checks the
	// Ed25519 signature. It never returns an error for a bad signature —
	// only for malformed input — so callers must check the returned bool.
	Verify(r *record.Record) (bool, error)
	// KeyID returns this signer's key identifier.
	KeyID() string
	// PublicKeyHex returns the signer's public key, hex-encoded.
	PublicKeyHex() string
	// Export returns an opaque JSON structure describing this key. The
	// private key is included; callers are responsible for securing the
	// result at rest.
	Export() ([]byte, error)
}

// signPayload is the exact subset of fields that gets canonicalised and
// signed — deliberately narrower than the full record, so verification does
// not depend on fields the signer itself fills in afterward (signature,
// signature_id, seq, id).
type signPayload struct {
	ToolID          string                 `json:"tool_id"`
	Data            map[string]interface{} `json:"data"`
	Timestamp       string                 `json:"timestamp"`
	Nonce           string                 `json:"nonce,omitempty"`
	ParentSignature string                 `json:"parent_signature,omitempty"`
}

// Ed25519Signer is the sole concrete Signer: Ed25519 over canonical JSON.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// Create generates a fresh Ed25519 keypair and derives a key identifier
// from the truncated SHA-256 of the public key.
func Create() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signer: key generation failed: %w", err)
	}
	return &Ed25519Signer{
		priv:  priv,
		pub:   pub,
		keyID: deriveKeyID(pub),
	}, nil
}

func deriveKeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:16]
}

// FromPrivateKey wraps an existing Ed25519 private key under the given key
// id (used when importing a previously exported key).
func FromPrivateKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	pub := priv.Public().(ed25519.PublicKey)
	if keyID == "" {
		keyID = deriveKeyID(pub)
	}
	return &Ed25519Signer{priv: priv, pub: pub, keyID: keyID}
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) PublicKeyHex() string { return hex.EncodeToString(s.pub) }

func (s *Ed25519Signer) Sign(toolID string, data map[string]interface{}, nonce, parentSignature string) (*record.Record, error) {
	now := time.Now().UTC()
	payload := signPayload{
		ToolID:          toolID,
		Data:            data,
		Timestamp:       now.Format(time.RFC3339Nano),
		Nonce:           nonce,
		ParentSignature: parentSignature,
	}
	canon, err := canonicalize.Canonical(payload)
	if err != nil {
		return nil, fmt.Errorf("signer: canonicalize: %w", err)
	}
	sig := ed25519.Sign(s.priv, canon)

	return &record.Record{
		Tool:        toolID,
		Data:        data,
		Timestamp:   now,
		Signature:   base64.StdEncoding.EncodeToString(sig),
		SignatureID: uuid.New().String(),
		Nonce:       nonce,
		ParentHash:  parentSignature,
		KeyID:       s.keyID,
		Algorithm:   "Ed25519",
	}, nil
}

func (s *Ed25519Signer) Verify(r *record.Record) (bool, error) {
	if r.Signature == "" {
		return false, fmt.Errorf("signer: record has no signature")
	}
	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil {
		return false, fmt.Errorf("signer: invalid signature base64: %w", err)
	}
	payload := signPayload{
		ToolID:          r.Tool,
		Data:            r.Data,
		Timestamp:       r.Timestamp.UTC().Format(time.RFC3339Nano),
		Nonce:           r.Nonce,
		ParentSignature: r.ParentHash,
	}
	canon, err := canonicalize.Canonical(payload)
	if err != nil {
		return false, fmt.Errorf("signer: canonicalize: %w", err)
	}
	return ed25519.Verify(s.pub, canon, sig), nil
}

// exportedKey is the opaque JSON structure Export/Import round-trip through.
type exportedKey struct {
	Algorithm  string `json:"algorithm"`
	KeyID      string `json:"key_id"`
	PrivateKey string `json:"private_key_hex"`
}

func (s *Ed25519Signer) Export() ([]byte, error) {
	return json.Marshal(exportedKey{
		Algorithm:  "Ed25519",
		KeyID:      s.keyID,
		PrivateKey: hex.EncodeToString(s.priv),
	})
}

// Import reconstructs a Signer from the opaque structure Export produced.
// Import of an unrecognised algorithm fails.
func Import(data []byte) (*Ed25519Signer, error) {
	var ek exportedKey
	if err := json.Unmarshal(data, &ek); err != nil {
		return nil, fmt.Errorf("signer: malformed export: %w", err)
	}
	if ek.Algorithm != "Ed25519" {
		return nil, fmt.Errorf("signer: unknown algorithm %q", ek.Algorithm)
	}
	raw, err := hex.DecodeString(ek.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key hex: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: invalid private key size %d", len(raw))
	}
	return FromPrivateKey(ed25519.PrivateKey(raw), ek.KeyID), nil
}
