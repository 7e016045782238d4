package proof

import (
	"fmt"

	"github.com/jmerrifield20/realitylog/internal/merkle"
	"github.com/jmerrifield20/realitylog/internal/tlog"
)

// SnapshotSource is the read surface of the log that proofs are built from.
// *tlog.Log satisfies it.
type SnapshotSource interface {
	Snapshot() *tlog.Snapshot
}

// Service answers inclusion proof requests against a log.
type Service struct {
	src SnapshotSource
}

// NewService creates a Service reading from src.
func NewService(src SnapshotSource) *Service {
	return &Service{src: src}
}

// Prove builds the inclusion proof for index against the log as it is right
// now. The proof's size, root and path all come from one snapshot, so it
// stays self-consistent even if the log grows while it is being built.
// It returns tlog.ErrOutOfRange when index is not below the current size.
func (s *Service) Prove(index uint64) (*InclusionProof, error) {
	snap := s.src.Snapshot()
	if index >= snap.Size() {
		return nil, fmt.Errorf("prove index %d at size %d: %w", index, snap.Size(), tlog.ErrOutOfRange)
	}
	leaves, err := snap.LeafHashes(snap.Size())
	if err != nil {
		return nil, err
	}
	steps, err := merkle.AuditPath(index, leaves)
	if err != nil {
		return nil, fmt.Errorf("audit path for %d: %w", index, err)
	}
	return &InclusionProof{
		Index:    index,
		TreeSize: snap.Size(),
		Leaf:     leaves[index].String(),
		Root:     snap.Root().String(),
		Path:     fromSteps(steps),
	}, nil
}

// Verify delegates to the package-level Verify; it never reads the log.
func (s *Service) Verify(p *InclusionProof) (Result, error) {
	return Verify(p)
}
