// Package chainstore implements the chain store façade (C4): a thin,
// git-like API (commit, log, blame, diff, status, verify, export, session
// refs) layered over the verifiable log.
package chainstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/trustchain-audit/trustchain/pkg/chainerr"
	"github.com/trustchain-audit/trustchain/pkg/merkle"
	"github.com/trustchain-audit/trustchain/pkg/noncestore"
	"github.com/trustchain-audit/trustchain/pkg/record"
	"github.com/trustchain-audit/trustchain/pkg/signer"
	"github.com/trustchain-audit/trustchain/pkg/vlog"
)

// NoParent is the sentinel that distinguishes "explicitly no parent" (the
// genesis of a sub-chain, or the first record of a session) from simply
// omitting ParentHash, which auto-chains to the current HEAD. It is
// distinct from the empty string: the empty string is itself a valid
// parent_hash value (the literal genesis parent), so a separate marker is
// needed to request it explicitly instead of by default.
const NoParent = "\x00explicit-no-parent\x00"

// CommitInput carries everything a caller supplies for one commit. Commit
// itself signs with the supplied Signer, against the parent it chains to,
// and then persists and indexes the signed record.
type CommitInput struct {
	Tool      string
	Data      map[string]interface{}
	Signer    signer.Signer
	Nonce     string
	SessionID string
	Metadata  map[string]interface{}
	LatencyMs float64

	// ParentHash, if empty, auto-chains to the current HEAD. Set it to
	// NoParent to request an explicit genesis instead. Set it to any other
	// non-empty value to chain explicitly off that value.
	ParentHash string
}

// Store is the chain store façade over one verifiable log plus its
// session-ref directory.
type Store struct {
	// commitMu serialises Commit end to end (sign against the observed
	// HEAD, then append) so that, under concurrent commits, the parent
	// hash a caller's Signer attested to always matches the parent_hash
	// vlog.Append assigns — vlog's own mutex only protects the append
	// itself, not the sign-then-append sequence.
	commitMu sync.Mutex

	log      *vlog.Log
	root     string
	noncestr noncestore.Store
}

// Open opens a façade rooted at dir, wrapping an already-open verifiable
// log. noncestr may be nil, in which case nonce-replay checking is
// disabled.
func Open(dir string, log *vlog.Log, noncestr noncestore.Store) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "refs", "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("chainstore: create refs dir: %w", err)
	}
	return &Store{log: log, root: dir, noncestr: noncestr}, nil
}

// Commit signs in.Data with in.Signer, chains it according to in.ParentHash,
// appends it to the underlying log, and — if in.SessionID is set — updates
// that session's ref file. A nonce replay (when a nonce store is
// configured and the nonce was already consumed) is always surfaced as a
// distinct NONCE_REPLAY error, never silently ignored.
func (s *Store) Commit(ctx context.Context, in CommitInput) (*record.Record, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if in.Nonce != "" && s.noncestr != nil {
		fresh, err := s.noncestr.CheckAndSet(ctx, in.Nonce, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("chainstore: nonce check: %w", err)
		}
		if !fresh {
			return nil, chainerr.New(chainerr.CodeNonceReplay, fmt.Sprintf("nonce %q already consumed", in.Nonce))
		}
	}

	var override *string
	var parentForSigning string
	switch in.ParentHash {
	case "":
		// auto-chain: sign against the current HEAD, then let vlog.Append
		// compute its own current-root default — commitMu guarantees
		// nothing appends between the two, so they agree.
		parentForSigning = s.log.Head()
	case NoParent:
		empty := ""
		override = &empty
		parentForSigning = ""
	default:
		parentHash := in.ParentHash
		override = &parentHash
		parentForSigning = in.ParentHash
	}

	signed, err := in.Signer.Sign(in.Tool, in.Data, in.Nonce, parentForSigning)
	if err != nil {
		return nil, fmt.Errorf("chainstore: sign: %w", err)
	}

	r, err := s.log.Append(vlog.AppendInput{
		Tool:               in.Tool,
		Data:               in.Data,
		Signature:          signed.Signature,
		SignatureID:        signed.SignatureID,
		Nonce:              in.Nonce,
		KeyID:              signed.KeyID,
		Algorithm:          signed.Algorithm,
		LatencyMs:          in.LatencyMs,
		SessionID:          in.SessionID,
		Metadata:           in.Metadata,
		ParentHashOverride: override,
	})
	if err != nil {
		return nil, err
	}

	if in.SessionID != "" {
		if err := s.saveSessionRef(in.SessionID, r.ID); err != nil {
			return nil, fmt.Errorf("chainstore: save session ref: %w", err)
		}
	}

	return r, nil
}

// Head returns the current Merkle root.
func (s *Store) Head() string { return s.log.Head() }

// Log returns records oldest-first, paginated.
func (s *Store) Log(limit, offset int) ([]*record.Record, error) {
	return s.log.LogEntries(limit, offset)
}

// LogReverse returns records newest-first.
func (s *Store) LogReverse(limit int) ([]*record.Record, error) {
	return s.log.LogReverse(limit)
}

// Show returns a single record by content id.
func (s *Store) Show(contentID string) (*record.Record, bool, error) {
	return s.log.Show(contentID)
}

// Blame returns every record invoking tool, up to limit.
func (s *Store) Blame(tool string, limit int) ([]*record.Record, error) {
	return s.log.Blame(tool, limit)
}

// Verify delegates to the log's O(1) integrity check.
func (s *Store) Verify() (*vlog.VerifyReport, error) {
	return s.log.Verify()
}

// InclusionProof returns a Merkle inclusion proof for the record
// identified by contentID.
func (s *Store) InclusionProof(contentID string) (*merkle.InclusionProof, error) {
	return s.log.InclusionProof(contentID)
}

// DiffResult reports the fields that differ between two records, per key.
type DiffResult struct {
	A             string                 `json:"a"`
	B             string                 `json:"b"`
	SameTool      bool                   `json:"same_tool"`
	TimeDeltaSecs float64                `json:"time_delta_seconds"`
	Changed       map[string][2]interface{} `json:"changed"`
}

// Diff compares two records field by field over the union of their top
// -level keys, reporting only keys whose values differ.
func (s *Store) Diff(contentIDA, contentIDB string) (*DiffResult, error) {
	a, ok, err := s.log.Show(contentIDA)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chainerr.New(chainerr.CodeNotFound, fmt.Sprintf("record %q not found", contentIDA))
	}
	b, ok, err := s.log.Show(contentIDB)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chainerr.New(chainerr.CodeNotFound, fmt.Sprintf("record %q not found", contentIDB))
	}

	am := recordToMap(a)
	bm := recordToMap(b)
	changed := make(map[string][2]interface{})
	keys := make(map[string]bool)
	for k := range am {
		keys[k] = true
	}
	for k := range bm {
		keys[k] = true
	}
	for k := range keys {
		av, aok := am[k]
		bv, bok := bm[k]
		if !aok || !bok || !jsonEqual(av, bv) {
			changed[k] = [2]interface{}{av, bv}
		}
	}

	return &DiffResult{
		A:             contentIDA,
		B:             contentIDB,
		SameTool:      a.Tool == b.Tool,
		TimeDeltaSecs: b.Timestamp.Sub(a.Timestamp).Abs().Seconds(),
		Changed:       changed,
	}, nil
}

func recordToMap(r *record.Record) map[string]interface{} {
	b, _ := json.Marshal(r)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	return m
}

func jsonEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// Status is a chain health summary.
type Status struct {
	Length       int64          `json:"length"`
	Head         string         `json:"head"`
	Tools        map[string]int `json:"tools"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
}

// StatusReport returns aggregate stats: length, head, tool histogram,
// average latency.
func (s *Store) StatusReport() (*Status, error) {
	all, err := s.log.LogEntries(1<<31-1, 0)
	if err != nil {
		return nil, err
	}
	tools := make(map[string]int)
	var totalLatency float64
	for _, r := range all {
		tools[r.Tool]++
		totalLatency += r.LatencyMs
	}
	avg := 0.0
	if len(all) > 0 {
		avg = totalLatency / float64(len(all))
	}
	return &Status{
		Length:       int64(len(all)),
		Head:         s.log.Head(),
		Tools:        tools,
		AvgLatencyMs: avg,
	}, nil
}

// Export is the full-chain JSON export: every record plus the Merkle root
// and the export timestamp.
type Export struct {
	Head       string            `json:"head"`
	Chain      []*record.Record  `json:"chain"`
	ExportedAt time.Time         `json:"exported_at"`
}

// ExportJSON dumps the entire chain as JSON. If path is non-empty, the
// result is also written there.
func (s *Store) ExportJSON(path string) ([]byte, error) {
	all, err := s.log.LogEntries(1<<31-1, 0)
	if err != nil {
		return nil, err
	}
	export := Export{
		Head:       s.log.Head(),
		Chain:      all,
		ExportedAt: time.Now().UTC(),
	}
	b, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ── Session refs ──

func (s *Store) sessionRefPath(sessionID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(sessionID)
	return filepath.Join(s.root, "refs", "sessions", safe)
}

func (s *Store) saveSessionRef(sessionID, contentID string) error {
	return os.WriteFile(s.sessionRefPath(sessionID), []byte(contentID), 0o644)
}

// SessionHead returns the content id of the latest commit bearing
// sessionID, or "" if the session has no commits yet.
func (s *Store) SessionHead(sessionID string) (string, error) {
	b, err := os.ReadFile(s.sessionRefPath(sessionID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Sessions lists every session id with a ref, sorted.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "refs", "sessions"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
