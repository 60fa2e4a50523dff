package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InclusionProofVerifiesForAnyLeafOfAnyTree is a property test
// over invariant 4 (spec.md §8): for any non-empty tree built from any
// sequence of leaf values, every leaf's inclusion proof verifies against
// that tree's root.
func TestProperty_InclusionProofVerifiesForAnyLeafOfAnyTree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("inclusion proof verifies for any leaf of any tree", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			hashes := make([]string, len(values))
			for i, v := range values {
				sum := sha256.Sum256([]byte(v))
				hashes[i] = hex.EncodeToString(sum[:])
			}
			tree := Build(hashes)
			for i := range hashes {
				proof, err := tree.Proof(i)
				if err != nil {
					return false
				}
				if !Verify(proof.LeafHash, proof.ProofPath, tree.Root) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()).SuchThat(func(v []string) bool { return len(v) <= 64 }),
	))

	properties.TestingRun(t)
}

// TestProperty_ContentIDPureFunctionOfInputs is a property test over
// invariant 3/6 (spec.md §8): the leaf hash is a pure function of its
// input bytes, so the same input always hashes the same and flipping one
// bit of the input changes the hash (modulo the astronomically unlikely
// case of a hash collision).
func TestProperty_ContentIDPureFunctionOfInputs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs produce the same leaf hash; a bit flip changes it", prop.ForAll(
		func(tool, data string) bool {
			raw := []byte(fmt.Sprintf("%s|%s", tool, data))
			flipped := append([]byte{}, raw...)
			flipped[len(flipped)-1] ^= 1
			return LeafHash(raw) == LeafHash(raw) && LeafHash(raw) != LeafHash(flipped)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
