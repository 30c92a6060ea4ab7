// Package disk implements the layered disk abstractions of the plot
// builder: positioned file I/O with retry-forever semantics (FileDisk),
// sequential read-ahead and write-coalescing (BufferedDisk), and a
// bitfield-compacted read-only view (FilteredDisk).
//
// Reads return views into internal buffers. A returned slice is valid only
// until the next Read, Write or Truncate on the same disk, and always has
// bits.TailPadding addressable bytes past the requested range so bit
// slicing may over-read.
package disk

import "time"

// Disk is the capability surface shared by BufferedDisk, FilteredDisk and
// the sort manager's consumer side.
type Disk interface {
	// Read returns a view of length bytes at offset begin.
	Read(begin, length uint64) ([]byte, error)
	// Write stores p at offset begin.
	Write(begin uint64, p []byte) error
	// Truncate resizes the underlying file, flushing buffered writes first.
	Truncate(newSize uint64) error
	// Name returns the underlying file path, for diagnostics.
	Name() string
	// FreeMemory flushes and drops internal buffers.
	FreeMemory() error
}

var (
	_ Disk = (*BufferedDisk)(nil)
	_ Disk = (*FilteredDisk)(nil)
)

// Op distinguishes observer events.
type Op int

// Observer operations.
const (
	OpRead Op = iota
	OpWrite
)

// Observer receives a callback for every physical file operation, used for
// I/O tracing and by tests; the default is nil (no observation).
type Observer interface {
	Observe(file string, op Op, offset uint64, data []byte)
}

// retryInterval is how long FileDisk waits before retrying a transient
// failure. Plot builds run for hours; aborting on a transient ENOSPC or
// EBUSY wastes all prior work, so I/O retries forever.
const retryInterval = 5 * time.Minute

// sleepFn is replaced in tests so retry paths run without sleeping.
var sleepFn = time.Sleep
