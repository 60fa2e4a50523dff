package vlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustchain-audit/trustchain/pkg/record"

	_ "github.com/lib/pq"
)

// PostgresIndex is an optional Index backend for operators who already run
// a shared Postgres and want the read projection queryable outside the
// log's own process. It is never required: the write path (chain.log,
// HEAD, the in-memory Merkle tree) is identical regardless of which Index
// implementation is plugged in.
type PostgresIndex struct {
	db *sql.DB
}

// OpenPostgresIndex opens a connection using a standard postgres://
// connection string and ensures the schema exists.
func OpenPostgresIndex(connStr string) (*PostgresIndex, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("vlog: open postgres index: %w", err)
	}
	idx := &PostgresIndex{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PostgresIndex) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chain_index (
		seq         BIGINT PRIMARY KEY,
		content_id  TEXT UNIQUE NOT NULL,
		tool        TEXT NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL,
		signature   TEXT NOT NULL,
		session_id  TEXT,
		latency_ms  DOUBLE PRECISION DEFAULT 0,
		record_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chain_tool ON chain_index(tool);
	CREATE INDEX IF NOT EXISTS idx_chain_timestamp ON chain_index(timestamp);
	CREATE INDEX IF NOT EXISTS idx_chain_session ON chain_index(session_id);
	`
	_, err := p.db.Exec(schema)
	return err
}

func (p *PostgresIndex) Insert(r *record.Record) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("vlog: marshal record for index: %w", err)
	}
	_, err = p.db.Exec(
		`INSERT INTO chain_index (seq, content_id, tool, timestamp, signature, session_id, latency_ms, record_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.Seq, r.ID, r.Tool, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Signature, nullableString(r.SessionID), r.LatencyMs, string(blob),
	)
	return err
}

func (p *PostgresIndex) Get(contentID string) (*record.Record, bool, error) {
	return p.queryOne(`SELECT record_json FROM chain_index WHERE content_id = $1`, contentID)
}

func (p *PostgresIndex) GetBySeq(seq int64) (*record.Record, bool, error) {
	return p.queryOne(`SELECT record_json FROM chain_index WHERE seq = $1`, seq)
}

func (p *PostgresIndex) queryOne(query string, arg interface{}) (*record.Record, bool, error) {
	var blob string
	err := p.db.QueryRow(query, arg).Scan(&blob)
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

func (p *PostgresIndex) List(limit, offset int, tool, sessionID string, reverse bool) ([]*record.Record, error) {
	query := `SELECT record_json FROM chain_index WHERE 1=1`
	var args []interface{}
	argN := 1
	if tool != "" {
		query += fmt.Sprintf(` AND tool = $%d`, argN)
		args = append(args, tool)
		argN++
	}
	if sessionID != "" {
		query += fmt.Sprintf(` AND session_id = $%d`, argN)
		args = append(args, sessionID)
		argN++
	}
	if reverse {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq ASC`
	}
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.Query(query, args...)
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

func (p *PostgresIndex) Blame(tool string, limit int) ([]*record.Record, error) {
	return p.List(limit, 0, tool, "", false)
}

func (p *PostgresIndex) MaxSeq() (int64, error) {
	var max sql.NullInt64
	if err := p.db.QueryRow(`SELECT MAX(seq) FROM chain_index`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (p *PostgresIndex) Count() (int64, error) {
	var n int64
	err := p.db.QueryRow(`SELECT COUNT(*) FROM chain_index`).Scan(&n)
	return n, err
}

func (p *PostgresIndex) DeleteAll() error {
	_, err := p.db.Exec(`DELETE FROM chain_index`)
	return err
}

func (p *PostgresIndex) Close() error { return p.db.Close() }
