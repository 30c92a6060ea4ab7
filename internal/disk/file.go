package disk

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	diskerrors "github.com/tamirms/diskplot/errors"
)

// FileDisk performs positioned reads and writes on a single file. Short
// reads and writes are logged and retried after a fixed interval, forever;
// the only hard failure is an open without the retry flag.
//
// The file handle is opened lazily and can be dropped by Truncate or Close;
// the next operation reopens it.
type FileDisk struct {
	name     string
	f        *os.File
	writeMax uint64
	log      zerolog.Logger
	obs      Observer
}

// NewFileDisk creates (truncating) the file at path.
func NewFileDisk(path string, log zerolog.Logger, obs Observer) (*FileDisk, error) {
	d := &FileDisk{name: path, log: log, obs: obs}
	if err := d.open(true, false); err != nil {
		return nil, err
	}
	if err := d.f.Truncate(0); err != nil {
		d.f.Close()
		return nil, fmt.Errorf("%w: %s: %v", diskerrors.ErrOpenFailed, path, err)
	}
	return d, nil
}

// open ensures the handle exists. With create, a missing file is created
// (without truncation of an existing one after the first open). With retry,
// failures sleep and loop instead of returning.
func (d *FileDisk) open(create, retry bool) error {
	if d.f != nil {
		return nil
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	for {
		f, err := os.OpenFile(d.name, flags, 0o644)
		if err == nil {
			d.f = f
			return nil
		}
		if !retry {
			return fmt.Errorf("%w: %s: %v", diskerrors.ErrOpenFailed, d.name, err)
		}
		d.log.Warn().Str("file", d.name).Err(err).
			Dur("retry_in", retryInterval).Msg("could not open file, retrying")
		sleepFn(retryInterval)
	}
}

// Read fills p from offset begin. It retries short reads indefinitely.
func (d *FileDisk) Read(begin uint64, p []byte) error {
	if err := d.open(false, true); err != nil {
		return err
	}
	for {
		n, err := d.f.ReadAt(p, int64(begin))
		if n == len(p) {
			if d.obs != nil {
				d.obs.Observe(d.name, OpRead, begin, p)
			}
			return nil
		}
		if err == io.EOF && begin+uint64(n) >= d.writeMax && n > 0 {
			// Reading the unwritten tail of the last entry's padding.
			for i := n; i < len(p); i++ {
				p[i] = 0
			}
			return nil
		}
		d.log.Warn().Str("file", d.name).
			Uint64("offset", begin).Int("want", len(p)).Int("got", n).Err(err).
			Dur("retry_in", retryInterval).Msg("short read, retrying")
		sleepFn(retryInterval)
	}
}

// Write stores p at offset begin. It retries short writes indefinitely.
func (d *FileDisk) Write(begin uint64, p []byte) error {
	if err := d.open(true, true); err != nil {
		return err
	}
	for {
		n, err := d.f.WriteAt(p, int64(begin))
		if end := begin + uint64(n); end > d.writeMax {
			d.writeMax = end
		}
		if n == len(p) {
			if d.obs != nil {
				d.obs.Observe(d.name, OpWrite, begin, p)
			}
			return nil
		}
		d.log.Warn().Str("file", d.name).
			Uint64("offset", begin).Int("want", len(p)).Int("got", n).Err(err).
			Dur("retry_in", retryInterval).Msg("short write, retrying")
		sleepFn(retryInterval)
		p = p[n:]
		begin += uint64(n)
	}
}

// Truncate closes the handle and resizes the file on the filesystem. The
// handle reopens on the next read or write.
func (d *FileDisk) Truncate(newSize uint64) error {
	if err := d.Close(); err != nil {
		return err
	}
	if err := os.Truncate(d.name, int64(newSize)); err != nil {
		return fmt.Errorf("truncate %s: %w", d.name, err)
	}
	if d.writeMax > newSize {
		d.writeMax = newSize
	}
	return nil
}

// Name returns the file path.
func (d *FileDisk) Name() string { return d.name }

// WriteMax returns the highest file offset ever written through this disk.
func (d *FileDisk) WriteMax() uint64 { return d.writeMax }

// AdviseSequential hints the kernel that the file is about to be scanned
// front to back. Best-effort.
func (d *FileDisk) AdviseSequential() {
	if d.f != nil {
		fadviseSequential(int(d.f.Fd()), 0, int64(d.writeMax))
	}
}

// Close releases the file handle. The disk remains usable; operations
// reopen the file.
func (d *FileDisk) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// Remove closes the handle and deletes the file.
func (d *FileDisk) Remove() error {
	if err := d.Close(); err != nil {
		return err
	}
	if err := os.Remove(d.name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
