package tlog

import "errors"

var (
	// ErrOutOfRange is returned for an index or size beyond the current log.
	ErrOutOfRange = errors.New("tlog: index out of range")
	// ErrStorageFailure wraps any failure of the durable backend. An append
	// that returns it did not happen.
	ErrStorageFailure = errors.New("tlog: storage failure")
	// ErrCorrupt is returned at open when persisted records are damaged
	// somewhere other than the trailing record.
	ErrCorrupt = errors.New("tlog: corrupt storage")
	// ErrClosed is returned by operations on a closed Log.
	ErrClosed = errors.New("tlog: log closed")
)
