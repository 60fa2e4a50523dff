// Package record defines the Signed Record, the unit every TrustChain
// component (signer, Merkle engine, verifiable log, chain store) operates
// on.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/trustchain-audit/trustchain/pkg/canonicalize"
)

// Record is a single signed, chained operation: one tool invocation plus
// its cryptographic envelope.
type Record struct {
	ID         string                 `json:"id"`
	Seq        int64                  `json:"seq"`
	Tool       string                 `json:"tool"`
	Data       map[string]interface{} `json:"data"`
	Timestamp  time.Time              `json:"timestamp"`
	LatencyMs  float64                `json:"latency_ms,omitempty"`
	Signature  string                 `json:"signature"`
	SignatureID string                `json:"signature_id,omitempty"`
	ParentHash string                 `json:"parent_hash,omitempty"`
	KeyID      string                 `json:"key_id,omitempty"`
	Algorithm  string                 `json:"algorithm"`
	SessionID  string                 `json:"session_id,omitempty"`
	Nonce      string                 `json:"nonce,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ContentID computes the content-addressable identifier of a record: the
// first 12 hex characters of SHA-256 over the pipe-joined tuple
// (tool, sorted-key JSON of data, RFC3339 timestamp, signature). Two
// records with identical tool/data/timestamp/signature always collide on
// id, which is intentional — the id names the *content*, not the slot.
func ContentID(tool string, data map[string]interface{}, timestamp time.Time, signature string) (string, error) {
	dataJSON, err := sortedJSON(data)
	if err != nil {
		return "", fmt.Errorf("record: canonicalize data: %w", err)
	}
	payload := fmt.Sprintf("%s|%s|%s|%s", tool, dataJSON, timestamp.UTC().Format(time.RFC3339Nano), signature)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:12], nil
}

// sortedJSON renders data as JSON with lexicographically sorted keys,
// matching the Python original's json.dumps(data, sort_keys=True).
func sortedJSON(data map[string]interface{}) (string, error) {
	canon, err := canonicalize.String(data)
	if err != nil {
		return "", err
	}
	return canon, nil
}

// LeafHash computes the Merkle leaf hash for a record: bare SHA-256 of the
// record's canonical JSON encoding. No domain-separation prefix is used.
func LeafHash(r *Record) (string, error) {
	return canonicalize.Hash(r)
}

// SortByID returns a copy of records sorted by ID ascending. The chain
// store's log listings are ordered by seq, not by ID.
func SortByID(records []*Record) []*Record {
	out := make([]*Record, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
