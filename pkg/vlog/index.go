package vlog

import "github.com/trustchain-audit/trustchain/pkg/record"

// Index is the indexed read projection over chain.log: one row per record,
// always rebuildable from the journal. Reads (log, blame, show, diff,
// status) go through an Index rather than scanning chain.log directly.
type Index interface {
	// Insert projects one record into the index. seq must be unique and
	// monotonically increasing; content id must be unique.
	Insert(r *record.Record) error
	// Get looks up a record by content id.
	Get(contentID string) (*record.Record, bool, error)
	// GetBySeq looks up a record by its 1-based sequence number.
	GetBySeq(seq int64) (*record.Record, bool, error)
	// List returns records ordered by seq, applying limit/offset and
	// optional tool/session filters. If reverse is true, results are
	// newest-first.
	List(limit, offset int, tool, sessionID string, reverse bool) ([]*record.Record, error)
	// Blame returns every record whose tool matches, newest-first-agnostic
	// (insertion order), up to limit.
	Blame(tool string, limit int) ([]*record.Record, error)
	// MaxSeq returns the highest seq currently projected, or 0 if empty.
	MaxSeq() (int64, error)
	// Count returns the total number of projected rows.
	Count() (int64, error)
	// DeleteAll clears every row, used by RebuildIndex before re-projecting.
	DeleteAll() error
	// Close releases underlying resources (database handles, etc).
	Close() error
}
