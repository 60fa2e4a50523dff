package vlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustchain-audit/trustchain/pkg/record"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is the default Index backend: embedded, pure-Go, WAL mode.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (creating if necessary) a SQLite-backed index at
// path, sets WAL journal mode, and ensures the schema exists.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vlog: open sqlite index: %w", err)
	}
	idx := wrapSQLiteIndex(db)
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// wrapSQLiteIndex adapts an already-open *sql.DB, letting tests inject a
// sqlmock connection without going through the sqlite driver.
func wrapSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

func (s *SQLiteIndex) migrate() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("vlog: pragma %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chain_index (
		seq         INTEGER PRIMARY KEY,
		content_id  TEXT UNIQUE NOT NULL,
		tool        TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		signature   TEXT NOT NULL,
		session_id  TEXT,
		latency_ms  REAL DEFAULT 0,
		record_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chain_tool ON chain_index(tool);
	CREATE INDEX IF NOT EXISTS idx_chain_timestamp ON chain_index(timestamp);
	CREATE INDEX IF NOT EXISTS idx_chain_session ON chain_index(session_id);
	CREATE INDEX IF NOT EXISTS idx_chain_content_id ON chain_index(content_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteIndex) Insert(r *record.Record) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("vlog: marshal record for index: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO chain_index (seq, content_id, tool, timestamp, signature, session_id, latency_ms, record_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Seq, r.ID, r.Tool, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Signature, nullableString(r.SessionID), r.LatencyMs, string(blob),
	)
	return err
}

func (s *SQLiteIndex) Get(contentID string) (*record.Record, bool, error) {
	return s.queryOne(`SELECT record_json FROM chain_index WHERE content_id = ?`, contentID)
}

func (s *SQLiteIndex) GetBySeq(seq int64) (*record.Record, bool, error) {
	return s.queryOne(`SELECT record_json FROM chain_index WHERE seq = ?`, seq)
}

func (s *SQLiteIndex) queryOne(query string, arg interface{}) (*record.Record, bool, error) {
	var blob string
	err := s.db.QueryRow(query, arg).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r record.Record
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

func (s *SQLiteIndex) List(limit, offset int, tool, sessionID string, reverse bool) ([]*record.Record, error) {
	query := `SELECT record_json FROM chain_index WHERE 1=1`
	var args []interface{}
	if tool != "" {
		query += ` AND tool = ?`
		args = append(args, tool)
	}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if reverse {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq ASC`
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var r record.Record
		if err := json.Unmarshal([]byte(blob), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Blame(tool string, limit int) ([]*record.Record, error) {
	return s.List(limit, 0, tool, "", false)
}

func (s *SQLiteIndex) MaxSeq() (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM chain_index`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (s *SQLiteIndex) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chain_index`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) DeleteAll() error {
	_, err := s.db.Exec(`DELETE FROM chain_index`)
	return err
}

func (s *SQLiteIndex) Close() error { return s.db.Close() }

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
