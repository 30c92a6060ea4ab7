package diskplot

import (
	"github.com/rs/zerolog"

	"github.com/tamirms/diskplot/internal/disk"
)

// Defaults for tunable build parameters.
const (
	defaultMemoryMiB  = 4608
	defaultStripeSize = 65536
	defaultThreads    = 2

	// minMemoryMiB is the least workable sort budget.
	minMemoryMiB = 10
)

// Option is a functional option for configuring a build.
type Option func(*buildConfig)

type buildConfig struct {
	memoryMiB  uint64
	numBuckets uint32 // 0 = derive from memory and table sizes
	stripeSize uint64
	numThreads int
	noBitfield bool

	log      zerolog.Logger
	progress ProgressFunc
	observer disk.Observer
}

func defaultBuildConfig() *buildConfig {
	return &buildConfig{
		memoryMiB:  defaultMemoryMiB,
		stripeSize: defaultStripeSize,
		numThreads: defaultThreads,
		log:        zerolog.Nop(),
		progress:   progressNone,
	}
}

// WithMemoryMiB sets the sort/buffer memory budget in MiB.
func WithMemoryMiB(mib uint64) Option {
	return func(c *buildConfig) {
		c.memoryMiB = mib
	}
}

// WithBuckets forces the sort bucket count (a power of two in [16, 128]).
// Zero derives the count from the memory budget.
func WithBuckets(n uint32) Option {
	return func(c *buildConfig) {
		c.numBuckets = n
	}
}

// WithStripeSize sets the phase-1 match window granularity in entries.
func WithStripeSize(n uint64) Option {
	return func(c *buildConfig) {
		c.stripeSize = n
	}
}

// WithThreads sets the phase-1 F1 worker count.
func WithThreads(n int) Option {
	return func(c *buildConfig) {
		c.numThreads = n
	}
}

// WithNoBitfield requests the legacy non-bitfield back-propagation path.
// That path is not implemented; builds configured with it fail up front
// with ErrBitfieldRequired rather than producing a plot by a different
// algorithm than the one asked for.
func WithNoBitfield() Option {
	return func(c *buildConfig) {
		c.noBitfield = true
	}
}

// WithLogger routes build logging to the given logger. Default: no-op.
func WithLogger(log zerolog.Logger) Option {
	return func(c *buildConfig) {
		c.log = log
	}
}

// WithProgress installs a progress callback. It is advisory: it cannot
// cancel the build (use the context for that).
func WithProgress(fn ProgressFunc) Option {
	return func(c *buildConfig) {
		if fn != nil {
			c.progress = fn
		}
	}
}

// WithObserver installs a physical-I/O observer on every disk of the build.
func WithObserver(obs disk.Observer) Option {
	return func(c *buildConfig) {
		c.observer = obs
	}
}
