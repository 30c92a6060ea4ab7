package disk

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// TraceObserver records one line per physical I/O operation, with an
// xxhash64 checksum of the payload so traces from two runs can be diffed to
// localize a divergence. One observer may be shared across every disk of a
// build.
type TraceObserver struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
	files map[string]int
}

// NewTraceObserver writes trace lines to w.
func NewTraceObserver(w io.Writer) *TraceObserver {
	return &TraceObserver{
		w:     w,
		start: time.Now(),
		files: make(map[string]int),
	}
}

// Observe implements Observer.
func (t *TraceObserver) Observe(file string, op Op, offset uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.files[file]
	if !ok {
		idx = len(t.files)
		t.files[file] = idx
		fmt.Fprintf(t.w, "# %d %s\n", idx, file)
	}
	// timestamp (ms), start-offset, end-offset, op (0 = read, 1 = write),
	// file index, payload checksum
	fmt.Fprintf(t.w, "%d\t%d\t%d\t%d\t%d\t%016x\n",
		time.Since(t.start).Milliseconds(),
		offset, offset+uint64(len(data)), int(op), idx, xxhash.Sum64(data))
}
