package diskplot

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/tamirms/diskplot/internal/disk"
)

// plotWriter writes the final plot file through a memory mapping. The file
// is created once with an upper-bound size (pre-allocated so mapped writes
// cannot SIGBUS on a full disk), parks and checkpoint tables are copied
// into the mapping at their computed offsets, and Finish truncates the file
// to the exact end offset.
type plotWriter struct {
	file *os.File
	mmap mmap.MMap
	path string
	size uint64
}

// newPlotWriter creates path with capacity for at most maxSize bytes.
func newPlotWriter(path string, maxSize uint64) (*plotWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create plot file: %w", err)
	}
	if err := disk.Fallocate(file, int64(maxSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("pre-allocate plot file: %w", err)
	}
	m, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap plot file: %w", err)
	}
	prefaultRegion(m)
	return &plotWriter{file: file, mmap: m, path: path, size: maxSize}, nil
}

// WriteAt copies p into the mapping at off.
func (w *plotWriter) WriteAt(off uint64, p []byte) {
	copy(w.mmap[off:], p)
}

// Finish flushes the mapping, truncates the file to finalSize and closes
// it.
func (w *plotWriter) Finish(finalSize uint64) error {
	if err := w.mmap.Flush(); err != nil {
		return fmt.Errorf("flush plot mmap: %w", err)
	}
	if err := w.mmap.Unmap(); err != nil {
		return fmt.Errorf("unmap plot file: %w", err)
	}
	w.mmap = nil
	if err := w.file.Truncate(int64(finalSize)); err != nil {
		return fmt.Errorf("truncate plot file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close plot file: %w", err)
	}
	w.file = nil
	return nil
}

// Close unwinds without finishing (error paths). The partial file is left
// for the caller to delete.
func (w *plotWriter) Close() {
	if w.mmap != nil {
		_ = w.mmap.Unmap()
		w.mmap = nil
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
}
