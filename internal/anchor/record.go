package anchor

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/realitylog/internal/merkle"
	"github.com/jmerrifield20/realitylog/internal/tlog"
)

var (
	// ErrCorrupt is returned when a persisted anchor store cannot be read back.
	ErrCorrupt = errors.New("anchor: corrupt store")
	// ErrStorageFailure wraps failures to durably write an anchor.
	ErrStorageFailure = errors.New("anchor: storage failure")
)

// Record binds a tree size and root to the moment they were read.
// TimestampNanos is serialised as a string so JSON consumers without 64-bit
// integers keep full precision.
type Record struct {
	TreeSize       uint64        `json:"tree_size"`
	Root           merkle.Digest `json:"root"`
	TimestampNanos uint64        `json:"timestamp_nanos,string"`
	TxID           merkle.Digest `json:"txid"`
}

// ComputeTxID returns SHA-256 of "size:root_hex:timestamp_nanos".
func ComputeTxID(size uint64, root merkle.Digest, timestampNanos uint64) merkle.Digest {
	return sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%d", size, root, timestampNanos)))
}

// NewRecord builds the anchor for state read at ts.
func NewRecord(state tlog.TreeState, ts time.Time) Record {
	nanos := uint64(ts.UnixNano())
	return Record{
		TreeSize:       state.Size,
		Root:           state.Root,
		TimestampNanos: nanos,
		TxID:           ComputeTxID(state.Size, state.Root, nanos),
	}
}

// Valid reports whether r.TxID matches its other fields.
func (r Record) Valid() bool {
	return r.TxID == ComputeTxID(r.TreeSize, r.Root, r.TimestampNanos)
}
