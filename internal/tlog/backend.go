package tlog

import "context"

// Backend is the durable storage behind a Log.
// MemoryBackend, FileBackend and PostgresBackend implement this interface.
// A Backend is only ever written by one Log.
type Backend interface {
	// Leaves replays every durable leaf in index order. It reads only leaf
	// hashes, never payloads.
	Leaves(ctx context.Context, fn func(Leaf) error) error

	// Append stores e, whose Index is the current number of entries. It must
	// not return nil before the entry and its leaf are on stable storage, and
	// must leave storage unchanged when it returns an error.
	Append(ctx context.Context, e Entry) error

	// Entry returns the stored entry at index, or ErrOutOfRange.
	Entry(ctx context.Context, index uint64) (Entry, error)

	// Close releases the backend's resources.
	Close() error
}
