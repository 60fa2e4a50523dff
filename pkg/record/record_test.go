package record

import (
	"testing"
	"time"
)

func TestContentID_PureFunctionOfInputs(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data := map[string]interface{}{"cmd": "ls -la"}

	id1, err := ContentID("bash", data, ts, "sig_A")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ContentID("bash", data, ts, "sig_A")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected deterministic id, got %s != %s", id1, id2)
	}
	if len(id1) != 12 {
		t.Fatalf("expected 12 hex chars, got %d (%s)", len(id1), id1)
	}
}

func TestContentID_ChangesWithData(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id1, err := ContentID("bash", map[string]interface{}{"cmd": "ls"}, ts, "sig_A")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ContentID("bash", map[string]interface{}{"cmd": "ls -la"}, ts, "sig_A")
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("expected different data to produce different content ids")
	}
}

func TestContentID_KeyOrderIrrelevant(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := map[string]interface{}{"a": 1, "b": 2}
	b := map[string]interface{}{"b": 2, "a": 1}

	id1, err := ContentID("t", a, ts, "sig")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ContentID("t", b, ts, "sig")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatal("expected map key order to not affect content id")
	}
}

func TestLeafHash_Deterministic(t *testing.T) {
	r := &Record{ID: "abc123def456", Seq: 1, Tool: "bash", Signature: "sig", Algorithm: "Ed25519"}
	h1, err := LeafHash(r)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := LeafHash(r)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected deterministic leaf hash")
	}
}

func TestSortByID(t *testing.T) {
	records := []*Record{
		{ID: "b"},
		{ID: "a"},
		{ID: "c"},
	}
	sorted := SortByID(records)
	if sorted[0].ID != "a" || sorted[1].ID != "b" || sorted[2].ID != "c" {
		t.Fatalf("expected sorted order a,b,c got %v", []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	}
	// original slice untouched
	if records[0].ID != "b" {
		t.Fatal("expected SortByID to not mutate its input")
	}
}
