package signer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/trustchain-audit/trustchain/pkg/record"
)

// KeyRing holds multiple keys under rotation. The active key (used for new
// signatures) is the lexicographically last key id added, so rotation is
// deterministic without a separate "current" pointer: adding a key with a
// lexicographically later id makes it active; RevokeKey removes a key from
// consideration entirely (including for verification of past records).
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]*Ed25519Signer
}

// NewKeyRing creates an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{signers: make(map[string]*Ed25519Signer)}
}

// AddKey registers a key under its own key id.
func (k *KeyRing) AddKey(s *Ed25519Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID()] = s
}

// RevokeKey removes a key from the ring. Records signed with a revoked key
// can no longer be verified through this ring.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
}

// active returns the lexicographically last key id's signer, or nil.
func (k *KeyRing) active() *Ed25519Signer {
	if len(k.signers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(k.signers))
	for id := range k.signers {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return k.signers[keys[len(keys)-1]]
}

// Sign signs with the active key.
func (k *KeyRing) Sign(toolID string, data map[string]interface{}, nonce, parentSignature string) (*record.Record, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s := k.active()
	if s == nil {
		return nil, fmt.Errorf("signer: keyring has no keys")
	}
	return s.Sign(toolID, data, nonce, parentSignature)
}

// Verify verifies r against the key named by r.KeyID, not against every key
// in the ring — a record's key id is part of its envelope and verification
// must use exactly the key that produced it.
func (k *KeyRing) Verify(r *record.Record) (bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[r.KeyID]
	if !ok {
		return false, fmt.Errorf("signer: unknown or revoked key %q", r.KeyID)
	}
	return s.Verify(r)
}

// ActiveKeyID reports the key id that Sign will use, or "" if empty.
func (k *KeyRing) ActiveKeyID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s := k.active()
	if s == nil {
		return ""
	}
	return s.KeyID()
}
