package tlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmerrifield20/realitylog/internal/merkle"
	"go.uber.org/zap"
)

// Log owns the append-only leaf sequence and its published tree state.
type Log struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	// mu serialises appends. The fields below it are only touched by the
	// writer holding mu.
	mu       sync.Mutex
	closed   bool
	frontier *merkle.Frontier
	leaves   []merkle.Digest

	snap atomic.Pointer[Snapshot]
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock used to stamp ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Open rebuilds the log state by replaying every durable leaf of backend
// through the tree hash. Any root persisted elsewhere is never consulted.
func Open(ctx context.Context, backend Backend, logger *zap.Logger, opts ...Option) (*Log, error) {
	l := &Log{
		backend:  backend,
		logger:   logger,
		now:      time.Now,
		frontier: &merkle.Frontier{},
	}
	for _, opt := range opts {
		opt(l)
	}

	err := backend.Leaves(ctx, func(leaf Leaf) error {
		if leaf.Index != l.frontier.Size() {
			return fmt.Errorf("%w: leaf index %d at position %d", ErrCorrupt, leaf.Index, l.frontier.Size())
		}
		l.frontier.Push(leaf.Hash)
		l.leaves = append(l.leaves, leaf.Hash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay leaves: %w", err)
	}

	l.publish()
	st := l.CurrentRoot()
	logger.Info("transparency log opened",
		zap.Uint64("tree_size", st.Size),
		zap.Stringer("root", st.Root),
	)
	return l, nil
}

// publish stores a snapshot of the current writer state. Caller holds mu or
// has exclusive access.
func (l *Log) publish() {
	n := uint64(len(l.leaves))
	l.snap.Store(&Snapshot{
		size:   n,
		root:   l.frontier.Root(),
		leaves: l.leaves[:n:n],
	})
}

// Append assigns the next index to payload, persists it, and only then
// publishes the extended tree. On ErrStorageFailure nothing was appended.
func (l *Log) Append(ctx context.Context, payload []byte) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	e := Entry{
		Index:      uint64(len(l.leaves)),
		Payload:    bytes.Clone(payload),
		ReceivedAt: l.now().UTC(),
		LeafHash:   merkle.LeafHash(payload),
	}
	if e.Payload == nil {
		e.Payload = []byte{}
	}

	if err := l.backend.Append(ctx, e); err != nil {
		l.logger.Error("durable append failed",
			zap.Uint64("index", e.Index),
			zap.Error(err),
		)
		return Entry{}, fmt.Errorf("%w: append entry %d: %w", ErrStorageFailure, e.Index, err)
	}

	l.frontier.Push(e.LeafHash)
	l.leaves = append(l.leaves, e.LeafHash)
	l.publish()

	l.logger.Debug("log entry appended",
		zap.Uint64("index", e.Index),
		zap.Stringer("leaf", e.LeafHash),
	)
	return e, nil
}

// CurrentRoot returns the size and root of the latest durable prefix.
func (l *Log) CurrentRoot() TreeState {
	return l.snap.Load().State()
}

// Snapshot returns an immutable view of the latest durable prefix.
func (l *Log) Snapshot() *Snapshot {
	return l.snap.Load()
}

// Size returns the number of durable leaves.
func (l *Log) Size() uint64 {
	return l.snap.Load().Size()
}

// LeafHashes returns the first upto leaf hashes; upto must not exceed the
// current size. The returned slice must not be modified.
func (l *Log) LeafHashes(upto uint64) ([]merkle.Digest, error) {
	return l.snap.Load().LeafHashes(upto)
}

// Entry returns the entry at index.
func (l *Log) Entry(ctx context.Context, index uint64) (Entry, error) {
	if index >= l.Size() {
		return Entry{}, ErrOutOfRange
	}
	e, err := l.backend.Entry(ctx, index)
	if err != nil {
		if errors.Is(err, ErrOutOfRange) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("%w: read entry %d: %w", ErrStorageFailure, index, err)
	}
	return e, nil
}

// Close waits for any in-flight append and closes the backend.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.backend.Close()
}
