package vlog

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/trustchain-audit/trustchain/pkg/record"
)

func TestSQLiteIndex_Insert_PropagatesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	idx := wrapSQLiteIndex(db)
	r := &record.Record{Seq: 1, ID: "c1", Tool: "bash", Timestamp: time.Now()}

	mock.ExpectExec("INSERT INTO chain_index").
		WillReturnError(sqlmock.ErrCancelled)

	if err := idx.Insert(r); err == nil {
		t.Fatal("expected Insert to surface the underlying driver error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLiteIndex_Get_NotFoundReturnsFalseNotError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	idx := wrapSQLiteIndex(db)

	mock.ExpectQuery("SELECT record_json FROM chain_index WHERE content_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"record_json"}))

	_, ok, err := idx.Get("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing content id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLiteIndex_MaxSeq_PropagatesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	idx := wrapSQLiteIndex(db)

	mock.ExpectQuery("SELECT MAX\\(seq\\) FROM chain_index").
		WillReturnError(sqlmock.ErrCancelled)

	if _, err := idx.MaxSeq(); err == nil {
		t.Fatal("expected MaxSeq to surface the underlying driver error")
	}
}
