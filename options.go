package cask

import "time"

// Option configures a DB at Open time. Options compose via functional
// options, the way the teacher's ConfOption does; DefaultOptions supplies
// every field spec.md's configuration table requires a default for.
type Option func(*Options)

// Options holds the configuration recognized at Open time (spec.md §6).
type Options struct {
	// MaxFileSize bounds a segment's size in bytes; crossing it rotates to
	// a new active file.
	MaxFileSize int64
	// SyncWrites, if true, fsyncs the active segment after every mutation.
	SyncWrites bool
	// IndexType selects the ordered-map implementation (§4.4).
	IndexType IndexType
	// MergeRatio is the reclaimable/disk ratio merge requires before
	// MergeIfDue, or the background merge loop, will actually run it.
	// Merge() itself always runs unconditionally when called directly.
	MergeRatio float64
	// MergeInterval, if positive, starts a background goroutine at Open
	// that calls MergeIfDue on this period for as long as the DB is open.
	// Zero disables the background loop; callers drive merge manually.
	MergeInterval time.Duration
	// BatchMaxSize bounds how many operations a single Batch may stage.
	BatchMaxSize int
}

// DefaultMaxFileSize is 256 MiB, per spec.md §6.
const DefaultMaxFileSize int64 = 256 * 1024 * 1024

// DefaultMergeRatio is the reclaimable/disk fraction above which merge is
// considered warranted, per spec.md §6.
const DefaultMergeRatio = 0.5

// DefaultBatchMaxSize bounds staged batch operations, per spec.md §6.
const DefaultBatchMaxSize = 10_000

// DefaultOptions returns the configuration Open uses when no Option
// overrides a field.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:  DefaultMaxFileSize,
		SyncWrites:   false,
		IndexType:    IndexBTree,
		MergeRatio:   DefaultMergeRatio,
		BatchMaxSize: DefaultBatchMaxSize,
	}
}

// WithMaxFileSize sets the segment-size ceiling in bytes.
func WithMaxFileSize(size int64) Option {
	return func(o *Options) { o.MaxFileSize = size }
}

// WithSyncWrites enables or disables fsync-per-mutation durability.
func WithSyncWrites(sync bool) Option {
	return func(o *Options) { o.SyncWrites = sync }
}

// WithIndexType selects the index implementation.
func WithIndexType(t IndexType) Option {
	return func(o *Options) { o.IndexType = t }
}

// WithMergeRatio sets the automatic-merge trigger threshold.
func WithMergeRatio(ratio float64) Option {
	return func(o *Options) { o.MergeRatio = ratio }
}

// WithMergeInterval starts a background goroutine, the way the teacher's
// periodicMerge ticker does, that calls MergeIfDue every interval for the
// lifetime of the DB.
func WithMergeInterval(interval time.Duration) Option {
	return func(o *Options) { o.MergeInterval = interval }
}

// WithBatchMaxSize bounds how many staged operations a Batch may hold.
func WithBatchMaxSize(n int) Option {
	return func(o *Options) { o.BatchMaxSize = n }
}
