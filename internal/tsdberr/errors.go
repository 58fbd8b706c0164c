// Package tsdberr holds the typed sentinel errors of §7's error
// taxonomy, in the teacher's package-level `ErrXxx` style
// (pkg/metricstore/api.go's ErrInvalidTimeRange/ErrEmptyCluster)
// instead of ad-hoc fmt.Errorf strings, so callers can branch with
// errors.Is instead of string matching.
package tsdberr

import "errors"

var (
	// ErrProtocolError marks malformed input (bad line syntax, bad
	// JSON); the offending line/field is dropped and processing
	// continues.
	ErrProtocolError = errors.New("tsdberr: malformed input")

	// ErrRejected marks syntactically valid input that violates an
	// invariant (empty metric, tag with a space/quote, timestamp
	// outside the configured range).
	ErrRejected = errors.New("tsdberr: rejected")

	// ErrBucketReadOnly marks a write that landed in a read_only,
	// archived, or compacted bucket.
	ErrBucketReadOnly = errors.New("tsdberr: bucket is read-only")

	// ErrBucketCompacted marks a write against an already-compacted
	// bucket specifically (a stricter case of ErrBucketReadOnly some
	// callers want to distinguish).
	ErrBucketCompacted = errors.New("tsdberr: bucket is compacted")

	// ErrPageTooSmall marks a single sample that cannot be encoded
	// into an empty page at the configured page size; indicates
	// misconfiguration, not a transient condition.
	ErrPageTooSmall = errors.New("tsdberr: page too small for sample")

	// ErrOutOfSpace is BitStream's internal "page full" signal, always
	// handled one layer up (seal page, allocate the next one) and
	// never surfaced past internal/page.
	ErrOutOfSpace = errors.New("tsdberr: out of space")

	// ErrOutOfMemory marks RecyclePool exhaustion: the write is
	// rejected, queries return 503, and the lifecycle scheduler is
	// asked to shut down cleanly.
	ErrOutOfMemory = errors.New("tsdberr: out of memory")

	// ErrIO marks a file/mmap/fsync failure. The affected bucket
	// transitions to a degraded variant of its current state and
	// refuses writes; queries return 500 for affected ranges.
	ErrIO = errors.New("tsdberr: io error")

	// ErrDeadlineExceeded is query-only: the caller gets a partial
	// result with a timed_out flag rather than this error directly.
	ErrDeadlineExceeded = errors.New("tsdberr: query deadline exceeded")

	// ErrFatal marks MetaLog corruption beyond the trailing partial
	// record, or a manifest mismatch. Startup aborts on this error.
	ErrFatal = errors.New("tsdberr: fatal integrity error")
)
