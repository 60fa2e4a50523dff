package chainstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/trustchain-audit/trustchain/pkg/noncestore"
	"github.com/trustchain-audit/trustchain/pkg/signer"
	"github.com/trustchain-audit/trustchain/pkg/vlog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	idx, err := vlog.OpenSQLiteIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	log, err := vlog.Open(dir, idx)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir, log, noncestore.NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCommit_AutoChainsToHead(t *testing.T) {
	s := newTestStore(t)
	sgn, err := signer.Create()
	if err != nil {
		t.Fatal(err)
	}

	r1, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signer: sgn})
	if err != nil {
		t.Fatal(err)
	}
	if r1.ParentHash != "" {
		t.Fatalf("expected genesis parent hash empty, got %q", r1.ParentHash)
	}
	head := s.Head()

	r2, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "pwd"}, Signer: sgn})
	if err != nil {
		t.Fatal(err)
	}
	if r2.ParentHash != head {
		t.Fatalf("expected auto-chained parent hash %q, got %q", head, r2.ParentHash)
	}
}

func TestCommit_ExplicitNoParent(t *testing.T) {
	s := newTestStore(t)
	sgn, err := signer.Create()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signer: sgn}); err != nil {
		t.Fatal(err)
	}

	r2, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "genesis-of-subchain"}, Signer: sgn, ParentHash: NoParent})
	if err != nil {
		t.Fatal(err)
	}
	if r2.ParentHash != "" {
		t.Fatalf("expected explicit no-parent to yield empty parent hash even mid-log, got %q", r2.ParentHash)
	}
}

func TestCommit_NonceReplayRejected(t *testing.T) {
	s := newTestStore(t)
	sgn, err := signer.Create()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signer: sgn, Nonce: "n1"}); err != nil {
		t.Fatal(err)
	}
	_, err = s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signer: sgn, Nonce: "n1"})
	if err == nil {
		t.Fatal("expected nonce replay to be rejected")
	}
}

func TestSessionRefs_TrackPerSessionHead(t *testing.T) {
	s := newTestStore(t)
	sgn, err := signer.Create()
	if err != nil {
		t.Fatal(err)
	}

	r1, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signer: sgn, SessionID: "task_abc"})
	if err != nil {
		t.Fatal(err)
	}
	head, err := s.SessionHead("task_abc")
	if err != nil {
		t.Fatal(err)
	}
	if head != r1.ID {
		t.Fatalf("expected session head %s, got %s", r1.ID, head)
	}

	other, err := s.SessionHead("unknown_session")
	if err != nil {
		t.Fatal(err)
	}
	if other != "" {
		t.Fatal("expected unknown session to have no head")
	}
}

func TestDiff_ReportsChangedFields(t *testing.T) {
	s := newTestStore(t)
	sgn, err := signer.Create()
	if err != nil {
		t.Fatal(err)
	}

	a, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signer: sgn})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Commit(context.Background(), CommitInput{Tool: "curl", Data: map[string]interface{}{"cmd": "pwd"}, Signer: sgn})
	if err != nil {
		t.Fatal(err)
	}

	diff, err := s.Diff(a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff.SameTool {
		t.Fatal("expected different tools to be reported as different")
	}
	if _, ok := diff.Changed["tool"]; !ok {
		t.Fatal("expected 'tool' to be reported as a changed field")
	}
}

func TestStatusReport_AggregatesToolCounts(t *testing.T) {
	s := newTestStore(t)
	sgn, err := signer.Create()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Commit(context.Background(), CommitInput{Tool: "bash", Data: map[string]interface{}{"i": i}, Signer: sgn}); err != nil {
			t.Fatal(err)
		}
	}
	status, err := s.StatusReport()
	if err != nil {
		t.Fatal(err)
	}
	if status.Length != 3 || status.Tools["bash"] != 3 {
		t.Fatalf("expected 3 bash commits, got %+v", status)
	}
}
