package tlog

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is an in-memory, thread-safe Backend.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Leaves implements Backend.
func (b *MemoryBackend) Leaves(ctx context.Context, fn func(Leaf) error) error {
	b.mu.RLock()
	entries := b.entries
	b.mu.RUnlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(Leaf{Index: e.Index, Hash: e.LeafHash}); err != nil {
			return err
		}
	}
	return nil
}

// Append implements Backend.
func (b *MemoryBackend) Append(_ context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.Index != uint64(len(b.entries)) {
		return fmt.Errorf("non-contiguous append: have %d entries, got index %d", len(b.entries), e.Index)
	}
	b.entries = append(b.entries, e)
	return nil
}

// Entry implements Backend.
func (b *MemoryBackend) Entry(_ context.Context, index uint64) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index >= uint64(len(b.entries)) {
		return Entry{}, ErrOutOfRange
	}
	return b.entries[index], nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }
