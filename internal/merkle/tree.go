package merkle

import (
	"errors"
	"math/bits"
)

// ErrIndexOutOfRange is returned when a leaf index is not below the tree size.
var ErrIndexOutOfRange = errors.New("merkle: index out of range")

// Side records where an audit path sibling sits relative to the running hash.
type Side uint8

const (
	// Left means the sibling is the left operand of NodeHash.
	Left Side = iota
	// Right means the sibling is the right operand of NodeHash.
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Step is one entry of an audit path.
type Step struct {
	Side Side
	Hash Digest
}

// split returns the largest power of two strictly less than n. n must be >= 2.
func split(n uint64) uint64 {
	return 1 << (bits.Len64(n-1) - 1)
}

// Root computes the root over leaves. The empty sequence yields EmptyRoot.
func Root(leaves []Digest) Digest {
	if len(leaves) == 0 {
		return EmptyRoot()
	}
	return subtreeRoot(leaves, 0, uint64(len(leaves)))
}

// subtreeRoot hashes leaves[lo:hi]; hi > lo.
func subtreeRoot(leaves []Digest, lo, hi uint64) Digest {
	n := hi - lo
	if n == 1 {
		return leaves[lo]
	}
	k := split(n)
	return NodeHash(subtreeRoot(leaves, lo, lo+k), subtreeRoot(leaves, lo+k, hi))
}

// AuditPath returns the siblings needed to recompute the root from the leaf
// at index, ordered from the leaf up to the root.
func AuditPath(index uint64, leaves []Digest) ([]Step, error) {
	if index >= uint64(len(leaves)) {
		return nil, ErrIndexOutOfRange
	}
	path := make([]Step, 0, bits.Len64(uint64(len(leaves))))
	return auditPath(path, leaves, index, 0, uint64(len(leaves))), nil
}

func auditPath(path []Step, leaves []Digest, index, lo, hi uint64) []Step {
	n := hi - lo
	if n == 1 {
		return path
	}
	k := split(n)
	if index < lo+k {
		path = auditPath(path, leaves, index, lo, lo+k)
		return append(path, Step{Side: Right, Hash: subtreeRoot(leaves, lo+k, hi)})
	}
	path = auditPath(path, leaves, index, lo+k, hi)
	return append(path, Step{Side: Left, Hash: subtreeRoot(leaves, lo, lo+k)})
}

// PathSides returns the sides of a valid audit path for index in a tree of
// size leaves, leaf to root. ok is false when no such path exists.
func PathSides(index, size uint64) (sides []Side, ok bool) {
	if index >= size {
		return nil, false
	}
	sides = make([]Side, 0, bits.Len64(size))
	for size > 1 {
		// Walk top-down, then reverse into leaf-to-root order.
		k := split(size)
		if index < k {
			sides = append(sides, Right)
			size = k
		} else {
			sides = append(sides, Left)
			index -= k
			size -= k
		}
	}
	for i, j := 0, len(sides)-1; i < j; i, j = i+1, j-1 {
		sides[i], sides[j] = sides[j], sides[i]
	}
	return sides, true
}

// Verify reports whether path proves that leaf sits at index in the tree of
// the given size whose root is root. Malformed shapes yield false.
func Verify(leaf Digest, index, size uint64, path []Digest, root Digest) bool {
	computed, ok := ComputeRoot(leaf, index, size, path)
	return ok && computed == root
}

// ComputeRoot folds path into leaf following the positional shape for
// (index, size). ok is false when the path length does not fit that shape.
func ComputeRoot(leaf Digest, index, size uint64, path []Digest) (root Digest, ok bool) {
	sides, ok := PathSides(index, size)
	if !ok || len(sides) != len(path) {
		return Digest{}, false
	}
	acc := leaf
	for i, sib := range path {
		if sides[i] == Left {
			acc = NodeHash(sib, acc)
		} else {
			acc = NodeHash(acc, sib)
		}
	}
	return acc, true
}
