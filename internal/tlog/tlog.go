// Package tlog implements the append-only transparency log store.
//
// A Log is the single writer of the leaf sequence. Every append is made
// durable through a Backend before the new tree state is published, so
// readers never observe a root over leaves that could be lost in a crash.
// Readers take lock-free snapshots; appends are serialised.
//
// Three Backend implementations are provided:
//   - MemoryBackend: in-process, for tests and ephemeral deployments.
//   - FileBackend: append-only files with torn-tail recovery.
//   - PostgresBackend: durable, for production use.
package tlog
