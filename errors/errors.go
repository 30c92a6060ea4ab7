// Package errors defines all exported error sentinels for the diskplot library.
//
// This is the single source of truth for error values. Both the top-level
// diskplot package and internal packages import from here, ensuring
// errors.Is checks work across package boundaries.
package errors

import "errors"

// Configuration errors. These are reported before any temporary file is
// created and always indicate caller mistakes.
var (
	ErrInvalidK           = errors.New("diskplot: plot size k out of range")
	ErrInvalidBuckets     = errors.New("diskplot: bucket count out of range or not a power of two")
	ErrInsufficientMemory = errors.New("diskplot: not enough memory for the requested configuration")
	ErrStripeTooLarge     = errors.New("diskplot: stripe size too large for bucket size")
	ErrInvalidID          = errors.New("diskplot: plot id must be exactly 32 bytes")
	ErrBitfieldRequired   = errors.New("diskplot: the non-bitfield back-propagation path is not supported")
)

// Environment errors. The target directories must exist before a build
// starts; files inside them are created by the build itself.
var (
	ErrMissingDirectory = errors.New("diskplot: directory does not exist")
	ErrOpenFailed       = errors.New("diskplot: cannot open file")
)

// Invariant violations. These indicate bugs in the pipeline, not
// recoverable conditions; the build aborts and unwinds.
var (
	ErrConsumerRegressed = errors.New("diskplot: sort consumer read position regressed")
	ErrReadOnlyDisk      = errors.New("diskplot: write to read-only disk view")
	ErrSortBoundExceeded = errors.New("diskplot: read past the last sorted bucket")
	ErrParkOverflow      = errors.New("diskplot: park deltas exceed reserved park space")
	ErrEntryMisaligned   = errors.New("diskplot: read not aligned to entry size")
)

// Sort kernel errors. ErrNonUniformData is raised by the uniform sort
// kernel when a probe chain grows past its threshold; the sort manager
// recovers by re-sorting the bucket with quicksort.
var (
	ErrNonUniformData = errors.New("diskplot: bucket data failed uniformity assumption")
	ErrBucketTooLarge = errors.New("diskplot: bucket does not fit in sort memory")
)

// ErrDescriptorLimit is returned when the file-descriptor limit cannot be
// raised high enough for the configured bucket count.
var ErrDescriptorLimit = errors.New("diskplot: file descriptor limit too low; raise ulimit -n to at least 600")
