// Package vlog implements the verifiable append-only log (C3): a binary
// journal paired with an indexed read projection and a Merkle root HEAD,
// Certificate-Transparency style.
package vlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/trustchain-audit/trustchain/pkg/merkle"
	"github.com/trustchain-audit/trustchain/pkg/record"
)

const (
	logFileName  = "chain.log"
	headFileName = "HEAD"
)

// Log is one verifiable append-only log instance: chain.log + HEAD + an
// Index. A single mutex serialises every mutating operation (append,
// rebuild). Reads (Show, LogEntries, LogReverse, Blame) go straight to the
// Index without taking that mutex, so they may run concurrently with other
// reads and also with an append.
type Log struct {
	mu  sync.Mutex
	dir string

	logPath string
	index   Index

	leafHashes []string
	tree       *merkle.Tree
}

// Open opens (or creates) a verifiable log rooted at dir, using idx as the
// read projection. On open, the journal is rescanned in order, the
// in-memory Merkle tree and HEAD are re-derived from it (overwriting any
// stale HEAD on disk), and the index is rebuilt from scratch if its
// highest projected seq differs from the number of complete framed
// records in the journal.
func Open(dir string, idx Index) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vlog: create log dir: %w", err)
	}

	l := &Log{
		dir:     dir,
		logPath: filepath.Join(dir, logFileName),
		index:   idx,
	}

	records, err := l.scanJournal()
	if err != nil {
		return nil, fmt.Errorf("vlog: scan journal: %w", err)
	}

	hashes := make([]string, len(records))
	for i, r := range records {
		h, err := record.LeafHash(r)
		if err != nil {
			return nil, fmt.Errorf("vlog: leaf hash for seq %d: %w", r.Seq, err)
		}
		hashes[i] = h
	}
	l.leafHashes = hashes
	l.tree = merkle.Build(hashes)

	if err := l.writeHead(); err != nil {
		return nil, err
	}

	maxSeq, err := idx.MaxSeq()
	if err != nil {
		return nil, fmt.Errorf("vlog: read index max seq: %w", err)
	}
	if maxSeq != int64(len(records)) {
		if err := l.rebuildIndexFrom(records); err != nil {
			return nil, fmt.Errorf("vlog: rebuild index on open: %w", err)
		}
	}

	return l, nil
}

// scanJournal reads every complete framed record from chain.log, in order,
// tolerating and discarding a trailing partial frame.
func (l *Log) scanJournal() ([]*record.Record, error) {
	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*record.Record
	err = iterFrames(f, func(r *record.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

func (l *Log) headPath() string { return filepath.Join(l.dir, headFileName) }

func (l *Log) writeHead() error {
	root := l.tree.Root
	return os.WriteFile(l.headPath(), []byte(root), 0o644)
}

func (l *Log) readHeadFromDisk() (string, error) {
	b, err := os.ReadFile(l.headPath())
	if os.IsNotExist(err) {
		return merkle.NoRoot, nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Length returns the current number of records in the log.
func (l *Log) Length() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.leafHashes))
}

// Head returns the current Merkle root, or merkle.NoRoot for an empty log.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Root
}

// AppendInput carries every caller-supplied field for one append. Seq,
// ParentHash, Timestamp, and ID are computed by Append itself.
type AppendInput struct {
	Tool        string
	Data        map[string]interface{}
	Signature   string
	SignatureID string
	Nonce       string
	KeyID       string
	Algorithm   string
	LatencyMs   float64
	SessionID   string
	Metadata    map[string]interface{}

	// ParentHashOverride, when non-nil, is used verbatim as the record's
	// parent_hash instead of the log's own current root. This is how a
	// collaborator layered on top of the log (the chain store façade)
	// expresses "explicitly no parent" for a sub-chain genesis, distinct
	// from simply omitting a parent hash (which auto-chains to the
	// current root). Direct users of Log who never set this field get the
	// log's default behaviour: parent_hash = current root, or empty for a
	// genesis append.
	ParentHashOverride *string
}

// Append executes the mandatory, crash-safe append pipeline (spec §4.4):
// assign seq, compute parent_hash from the current root, compute the
// content id, append the framed record to chain.log and flush, recompute
// the Merkle tree, write the new root to HEAD, then project into the
// index. Each step only becomes visible once the previous one has
// completed; a crash between any two steps is reconciled on the next Open.
func (l *Log) Append(in AppendInput) (*record.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := int64(len(l.leafHashes)) + 1
	parentHash := l.tree.Root
	if parentHash == merkle.NoRoot {
		parentHash = ""
	}
	if in.ParentHashOverride != nil {
		parentHash = *in.ParentHashOverride
	}

	now := time.Now().UTC()
	contentID, err := record.ContentID(in.Tool, in.Data, now, in.Signature)
	if err != nil {
		return nil, fmt.Errorf("vlog: content id: %w", err)
	}

	r := &record.Record{
		ID:          contentID,
		Seq:         seq,
		Tool:        in.Tool,
		Data:        in.Data,
		Timestamp:   now,
		LatencyMs:   in.LatencyMs,
		Signature:   in.Signature,
		SignatureID: in.SignatureID,
		ParentHash:  parentHash,
		KeyID:       in.KeyID,
		Algorithm:   in.Algorithm,
		SessionID:   in.SessionID,
		Nonce:       in.Nonce,
		Metadata:    in.Metadata,
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vlog: open journal for append: %w", err)
	}
	if _, err := writeFrame(f, r); err != nil {
		f.Close()
		return nil, fmt.Errorf("vlog: write frame: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("vlog: flush journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("vlog: close journal: %w", err)
	}

	leafHash, err := record.LeafHash(r)
	if err != nil {
		return nil, fmt.Errorf("vlog: leaf hash: %w", err)
	}
	l.leafHashes = append(l.leafHashes, leafHash)
	l.tree = merkle.Build(l.leafHashes)

	if err := l.writeHead(); err != nil {
		return nil, fmt.Errorf("vlog: write HEAD: %w", err)
	}

	if err := l.index.Insert(r); err != nil {
		return nil, fmt.Errorf("vlog: index insert: %w", err)
	}

	return r, nil
}

// Show returns a single record by content id.
func (l *Log) Show(contentID string) (*record.Record, bool, error) {
	return l.index.Get(contentID)
}

// LogEntries returns records ordered by seq ascending, paginated.
func (l *Log) LogEntries(limit, offset int) ([]*record.Record, error) {
	return l.index.List(limit, offset, "", "", false)
}

// LogReverse returns records newest-first.
func (l *Log) LogReverse(limit int) ([]*record.Record, error) {
	return l.index.List(limit, 0, "", "", true)
}

// Blame returns every record whose tool matches, up to limit.
func (l *Log) Blame(tool string, limit int) ([]*record.Record, error) {
	return l.index.Blame(tool, limit)
}

// VerifyReport is the outcome of a full-log verification.
type VerifyReport struct {
	Valid        bool      `json:"valid"`
	Length       int64     `json:"length"`
	StoredRoot   string    `json:"stored_root"`
	ComputedRoot string    `json:"computed_root"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// Verify recomputes every leaf hash by rescanning chain.log (not the
// in-memory cache) and compares the resulting root to HEAD as read fresh
// from disk. Equality means the log is intact; any divergence is reported
// with both roots so an auditor can see exactly what disagreed.
func (l *Log) Verify() (*VerifyReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.scanJournal()
	if err != nil {
		return nil, fmt.Errorf("vlog: verify: scan journal: %w", err)
	}
	hashes := make([]string, len(records))
	for i, r := range records {
		h, err := record.LeafHash(r)
		if err != nil {
			return nil, fmt.Errorf("vlog: verify: leaf hash: %w", err)
		}
		hashes[i] = h
	}
	computedTree := merkle.Build(hashes)

	storedRoot, err := l.readHeadFromDisk()
	if err != nil {
		return nil, fmt.Errorf("vlog: verify: read HEAD: %w", err)
	}

	return &VerifyReport{
		Valid:        storedRoot == computedTree.Root,
		Length:       int64(len(records)),
		StoredRoot:   storedRoot,
		ComputedRoot: computedTree.Root,
		VerifiedAt:   time.Now().UTC(),
	}, nil
}

// InclusionProof looks up seq by content id in the index, derives the leaf
// index, and produces a proof over the in-memory tree.
func (l *Log) InclusionProof(contentID string) (*merkle.InclusionProof, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok, err := l.index.Get(contentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("vlog: content id %q not found", contentID)
	}
	leafIndex := int(r.Seq - 1)
	return l.tree.Proof(leafIndex)
}

// ConsistencyReport is the outcome of a consistency-proof evaluation.
type ConsistencyReport struct {
	Consistent bool   `json:"consistent"`
	OldLength  int64  `json:"old_length"`
	OldRoot    string `json:"old_root"`
	Error      string `json:"error,omitempty"`
}

// ConsistencyProof rebuilds the tree over the first oldLength leaves and
// compares its root to oldRoot. oldLength == 0 is trivially consistent.
// oldLength > current length is rejected.
func (l *Log) ConsistencyProof(oldLength int64, oldRoot string) (*ConsistencyReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if oldLength == 0 {
		return &ConsistencyReport{Consistent: true, OldLength: 0, OldRoot: oldRoot}, nil
	}
	current := int64(len(l.leafHashes))
	if oldLength > current {
		return &ConsistencyReport{
			Consistent: false, OldLength: oldLength, OldRoot: oldRoot,
			Error: fmt.Sprintf("old_length %d exceeds current length %d", oldLength, current),
		}, nil
	}

	prefix := merkle.Build(l.leafHashes[:oldLength])
	return &ConsistencyReport{
		Consistent: prefix.Root == oldRoot,
		OldLength:  oldLength,
		OldRoot:    oldRoot,
	}, nil
}

// Rebuild truncates the index and re-projects every record from chain.log
// in order. Disaster recovery: delete index.db, call Rebuild, queries
// resume.
func (l *Log) Rebuild() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.scanJournal()
	if err != nil {
		return fmt.Errorf("vlog: rebuild: scan journal: %w", err)
	}
	return l.rebuildIndexFrom(records)
}

func (l *Log) rebuildIndexFrom(records []*record.Record) error {
	if err := l.index.DeleteAll(); err != nil {
		return err
	}
	for _, r := range records {
		if err := l.index.Insert(r); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying index resources.
func (l *Log) Close() error {
	return l.index.Close()
}
