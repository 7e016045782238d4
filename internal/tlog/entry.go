package tlog

import (
	"time"

	"github.com/jmerrifield20/realitylog/internal/merkle"
)

// Entry is a single appended record. Index is its permanent position.
type Entry struct {
	Index      uint64        `json:"index"`
	Payload    []byte        `json:"payload"`
	ReceivedAt time.Time     `json:"received_at"`
	LeafHash   merkle.Digest `json:"leaf"`
}

// Leaf is the hash-only view of an Entry used to rebuild the tree.
type Leaf struct {
	Index uint64
	Hash  merkle.Digest
}

// TreeState is the size and root of the log at one instant.
type TreeState struct {
	Size uint64        `json:"tree_size"`
	Root merkle.Digest `json:"root"`
}

// Snapshot is an immutable view of a durable prefix of the log.
type Snapshot struct {
	size   uint64
	root   merkle.Digest
	leaves []merkle.Digest
}

// Size returns the number of leaves in the snapshot.
func (s *Snapshot) Size() uint64 { return s.size }

// Root returns the root over the snapshot's leaves.
func (s *Snapshot) Root() merkle.Digest { return s.root }

// State returns the snapshot's size and root.
func (s *Snapshot) State() TreeState {
	return TreeState{Size: s.size, Root: s.root}
}

// LeafHashes returns the first upto leaf hashes. The returned slice is shared
// and must not be modified.
func (s *Snapshot) LeafHashes(upto uint64) ([]merkle.Digest, error) {
	if upto > s.size {
		return nil, ErrOutOfRange
	}
	return s.leaves[:upto:upto], nil
}
