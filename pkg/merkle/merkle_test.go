package merkle

import "testing"

func leafHashes(values ...string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = LeafHash([]byte(v))
	}
	return out
}

func TestBuild_EmptyHasNoRoot(t *testing.T) {
	tree := Build(nil)
	if tree.Root != NoRoot {
		t.Fatalf("expected sentinel NoRoot for empty tree, got %q", tree.Root)
	}
}

func TestBuild_SingleLeafRootIsLeaf(t *testing.T) {
	hashes := leafHashes("a")
	tree := Build(hashes)
	if tree.Root != hashes[0] {
		t.Fatalf("expected root to equal the sole leaf, got %s vs %s", tree.Root, hashes[0])
	}
}

func TestBuild_OddFanInDuplicatesLast(t *testing.T) {
	hashes := leafHashes("a", "b", "c")
	tree := Build(hashes)

	n1 := nodeHash(hashes[0], hashes[1])
	n2 := nodeHash(hashes[2], hashes[2]) // duplicated last
	root := nodeHash(n1, n2)

	if tree.Root != root {
		t.Fatalf("expected root %s, got %s", root, tree.Root)
	}
}

func TestProofAndVerify_AllLeavesRoundTrip(t *testing.T) {
	hashes := leafHashes("a", "b", "c", "d", "e")
	tree := Build(hashes)

	for i := range hashes {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("proof for leaf %d: %v", i, err)
		}
		if !Verify(proof.LeafHash, proof.ProofPath, tree.Root) {
			t.Fatalf("proof for leaf %d failed to verify", i)
		}
	}
}

func TestVerify_RejectsTamperedLeaf(t *testing.T) {
	hashes := leafHashes("a", "b", "c", "d")
	tree := Build(hashes)

	proof, err := tree.Proof(1)
	if err != nil {
		t.Fatal(err)
	}
	if Verify(LeafHash([]byte("tampered")), proof.ProofPath, tree.Root) {
		t.Fatal("expected verification to fail for a leaf hash that was not in the tree")
	}
}

func TestProof_OutOfRangeIndexErrors(t *testing.T) {
	tree := Build(leafHashes("a", "b"))
	if _, err := tree.Proof(5); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
	if _, err := tree.Proof(-1); err == nil {
		t.Fatal("expected error for negative index")
	}
}
