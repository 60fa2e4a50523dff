package vlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/trustchain-audit/trustchain/pkg/merkle"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	idx, err := OpenSQLiteIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	l, err := Open(dir, idx)
	if err != nil {
		t.Fatal(err)
	}
	return l, dir
}

func TestOpen_EmptyLogHasNoRootAndZeroLength(t *testing.T) {
	l, _ := newTestLog(t)
	if l.Length() != 0 {
		t.Fatalf("expected length 0, got %d", l.Length())
	}
	if l.Head() != "" {
		t.Fatalf("expected empty HEAD for empty log, got %q", l.Head())
	}
}

func TestAppend_GenesisHasEmptyParentHash(t *testing.T) {
	l, _ := newTestLog(t)
	r, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signature: "sig_A", Algorithm: "Ed25519"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", r.Seq)
	}
	if r.ParentHash != "" {
		t.Fatalf("expected empty parent hash for genesis, got %q", r.ParentHash)
	}
	if l.Head() == "" {
		t.Fatal("expected non-empty HEAD after first append")
	}
}

func TestAppend_ChainOfThree(t *testing.T) {
	l, _ := newTestLog(t)
	r1, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signature: "sig_A"})
	if err != nil {
		t.Fatal(err)
	}
	head1 := l.Head()

	r2, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "pwd"}, Signature: "sig_B"})
	if err != nil {
		t.Fatal(err)
	}
	if r2.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", r2.Seq)
	}
	if r2.ParentHash != head1 {
		t.Fatalf("expected record 2's parent hash to equal head after record 1: %q != %q", r2.ParentHash, head1)
	}
	head2 := l.Head()

	r3, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "whoami"}, Signature: "sig_C"})
	if err != nil {
		t.Fatal(err)
	}
	if r3.ParentHash != head2 {
		t.Fatalf("expected record 3's parent hash to equal head after record 2: %q != %q", r3.ParentHash, head2)
	}

	report, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Length != 3 {
		t.Fatalf("expected valid length-3 chain, got %+v", report)
	}
	_ = r1
}

func TestVerify_DetectsTamperedJournal(t *testing.T) {
	l, dir := newTestLog(t)
	if _, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signature: "sig_A"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	// Flip a byte inside the payload region of chain.log (past the 4-byte
	// header), simulating tampering with stored data.
	path := filepath.Join(dir, logFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) <= headerSize+2 {
		t.Fatal("journal too short to tamper meaningfully")
	}
	data[headerSize+5] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	idx2, err := OpenSQLiteIndex(filepath.Join(dir, "index2.db"))
	if err != nil {
		t.Fatal(err)
	}
	l2, err := Open(dir, idx2)
	if err != nil {
		// tampering may corrupt JSON framing entirely, which Open's scan
		// surfaces as an error — also an acceptable detection outcome.
		return
	}
	report, err := l2.Verify()
	if err != nil {
		return
	}
	if report.Valid {
		t.Fatal("expected tampered journal to fail verification")
	}
}

func TestInclusionProof_VerifiesForEveryAppendedRecord(t *testing.T) {
	l, _ := newTestLog(t)
	var ids []string
	for i := 0; i < 5; i++ {
		r, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"i": i}, Signature: "sig"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}

	for _, id := range ids {
		proof, err := l.InclusionProof(id)
		if err != nil {
			t.Fatal(err)
		}
		if proof.MerkleRoot != l.Head() {
			t.Fatalf("expected proof root to equal current head")
		}
		if !merkle.Verify(proof.LeafHash, proof.ProofPath, proof.MerkleRoot) {
			t.Fatalf("expected inclusion proof for %s to verify", id)
		}
	}
}

func TestConsistencyProof_TrivialForZeroOldLength(t *testing.T) {
	l, _ := newTestLog(t)
	if _, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signature: "sig"}); err != nil {
		t.Fatal(err)
	}
	report, err := l.ConsistencyProof(0, "")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Consistent {
		t.Fatal("expected old_length==0 to be trivially consistent")
	}
}

func TestConsistencyProof_RejectsOldLengthGreaterThanCurrent(t *testing.T) {
	l, _ := newTestLog(t)
	if _, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signature: "sig"}); err != nil {
		t.Fatal(err)
	}
	report, err := l.ConsistencyProof(99, "whatever")
	if err != nil {
		t.Fatal(err)
	}
	if report.Consistent {
		t.Fatal("expected old_length greater than current length to be rejected")
	}
}

func TestRebuild_RestoresIndexFromJournal(t *testing.T) {
	l, dir := newTestLog(t)
	r, err := l.Append(AppendInput{Tool: "bash", Data: map[string]interface{}{"cmd": "ls"}, Signature: "sig"})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.index.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	if n, _ := l.index.Count(); n != 0 {
		t.Fatalf("expected index cleared, got %d rows", n)
	}

	if err := l.Rebuild(); err != nil {
		t.Fatal(err)
	}
	got, ok, err := l.Show(r.ID)
	if err != nil || !ok {
		t.Fatalf("expected record to be findable after rebuild: ok=%v err=%v", ok, err)
	}
	if got.ID != r.ID {
		t.Fatalf("expected rebuilt record to match, got %s want %s", got.ID, r.ID)
	}
	_ = dir
}
