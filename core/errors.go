package core

import "errors"

var (
	// ErrKeyNotFound is returned by Get when the key is absent or has been
	// tombstoned by a prior Delete.
	ErrKeyNotFound = errors.New("kvlog: key not found")

	// ErrCorrupt marks damage found on the active read path (a bad magic or
	// an unexpected opcode at a location the index claims is live). Unlike
	// corruption found during a bootstrap scan, this is never recovered
	// locally: it means the index and the on-disk segment have diverged.
	ErrCorrupt = errors.New("kvlog: corrupt record")

	// ErrClosed is returned by any operation attempted after Close, other
	// than Close itself: a second Close returns nil.
	ErrClosed = errors.New("kvlog: store is closed")

	// ErrKeyTooLarge is returned when a key's length does not fit in 32 bits.
	ErrKeyTooLarge = errors.New("kvlog: key exceeds maximum length")

	// ErrValueTooLarge is returned when a value's length does not fit in 32 bits.
	ErrValueTooLarge = errors.New("kvlog: value exceeds maximum length")
)
