// Package merkle implements the binary merkle tree over transaction ids
// used for block.merkle_root and inclusion proofs (§4.2). Hashing and
// odd-level duplication follow the teacher's Bitcoin-style
// double-SHA256 merkle construction (see other_examples's
// BuildMerkleTreeStore), generalized with explicit proof generation.
package merkle

import "github.com/fractalpow/node/pkg/util"

// Side identifies which side of a hash pairing a sibling sits on.
type Side int

const (
	Left Side = iota
	Right
)

// ProofStep is one (sibling_hash, side) pair on the path from a leaf to
// the root.
type ProofStep struct {
	Sibling [32]byte
	Side    Side
}

// Root computes the merkle root over an ordered list of leaf hashes
// (txids). The root of an empty list is the all-zero 32-byte string
// (§4.2). Odd levels duplicate the last node.
func Root(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}

	level := make([][32]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = combine(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

// Proof returns the inclusion proof for the leaf at index idx, walking
// from leaf to root. A single-leaf tree returns an empty proof (the leaf
// itself is the root); an empty tree has no valid index, so any idx
// returns an index-out-of-range error.
func Proof(leaves [][32]byte, idx int) ([]ProofStep, error) {
	if idx < 0 || idx >= len(leaves) {
		return nil, errIndexOutOfRange
	}

	level := make([][32]byte, len(leaves))
	copy(level, leaves)

	var steps []ProofStep
	pos := idx

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		var sibling [32]byte
		var side Side
		if pos%2 == 0 {
			sibling = level[pos+1]
			side = Right
		} else {
			sibling = level[pos-1]
			side = Left
		}
		steps = append(steps, ProofStep{Sibling: sibling, Side: side})

		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = combine(level[2*i], level[2*i+1])
		}
		level = next
		pos /= 2
	}

	return steps, nil
}

// Verify recomputes the root from a leaf and its proof and compares it
// against root.
func Verify(leaf [32]byte, proof []ProofStep, root [32]byte) bool {
	h := leaf
	for _, step := range proof {
		if step.Side == Right {
			h = combine(h, step.Sibling)
		} else {
			h = combine(step.Sibling, h)
		}
	}
	return h == root
}

func combine(left, right [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return util.Sha256d(buf)
}

type indexOutOfRangeError struct{}

func (indexOutOfRangeError) Error() string { return "merkle: index out of range" }

var errIndexOutOfRange error = indexOutOfRangeError{}
