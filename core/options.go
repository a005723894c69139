package core

import "go.uber.org/zap"

// Option configures a Store at Open time.
type Option func(*Store)

// WithSegmentMaxBytes sets the soft upper bound for the active segment
// before it is rolled into a fresh one. Default: 64 MiB.
func WithSegmentMaxBytes(n int64) Option {
	return func(st *Store) { st.segmentMaxBytes = n }
}

// WithFsyncEachWrite controls whether every put/delete/compact append is
// flushed to stable storage before returning. Default: true.
func WithFsyncEachWrite(b bool) Option {
	return func(st *Store) { st.fsyncEachWrite = b }
}

// WithLogger supplies a structured logger for recoverable conditions
// (stale hints, swallowed compaction cleanup errors, orphaned segment
// files). Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(st *Store) { st.log = log }
}

// WithHintFilesEnabled is a test-only escape hatch that disables reading
// and writing hint files, forcing every bootstrap to do a full segment
// scan. Default: true.
func WithHintFilesEnabled(b bool) Option {
	return func(st *Store) { st.hintFilesEnabled = b }
}

const (
	defaultSegmentMaxBytes = 64 * 1024 * 1024
	defaultFsyncEachWrite  = true
)
