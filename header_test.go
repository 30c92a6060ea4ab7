package diskplot

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/tamirms/diskplot/internal/pos"
)

// TestHeaderLayout pins the byte-exact header format.
func TestHeaderLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header.plot")
	id := make([]byte, 32)
	for i := range id {
		id[i] = byte(i)
	}
	memo := []byte("memo bytes")

	w, err := newPlotWriter(path, 4096)
	if err != nil {
		t.Fatalf("newPlotWriter: %v", err)
	}
	end := writeHeader(w, 25, id, memo)
	if end != headerSize(len(memo)) {
		t.Fatalf("writeHeader returned %d, want %d", end, headerSize(len(memo)))
	}
	var pointers [numTablePointers]uint64
	for i := range pointers {
		pointers[i] = uint64(i+1) * 1000
	}
	writeTablePointers(w, end, &pointers)
	if err := w.Finish(end); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if uint64(len(raw)) != end {
		t.Fatalf("file is %d bytes, want %d", len(raw), end)
	}

	if !bytes.Equal(raw[0:19], []byte("Proof of Space Plot")) {
		t.Errorf("magic = %q", raw[0:19])
	}
	if !bytes.Equal(raw[19:51], id) {
		t.Errorf("id bytes wrong")
	}
	if raw[51] != 25 {
		t.Errorf("k byte = %d", raw[51])
	}
	descLen := int(binary.BigEndian.Uint16(raw[52:54]))
	if string(raw[54:54+descLen]) != pos.FormatDescription {
		t.Errorf("format description = %q", raw[54:54+descLen])
	}
	off := 54 + descLen
	memoLen := int(binary.BigEndian.Uint16(raw[off : off+2]))
	off += 2
	if !bytes.Equal(raw[off:off+memoLen], memo) {
		t.Errorf("memo = %q", raw[off:off+memoLen])
	}
	off += memoLen
	for i := 0; i < numTablePointers; i++ {
		got := binary.BigEndian.Uint64(raw[off+8*i:])
		if got != uint64(i+1)*1000 {
			t.Errorf("pointer %d = %d, want %d", i, got, (i+1)*1000)
		}
	}
	if off+80 != int(end) {
		t.Errorf("header ends at %d, want %d", off+80, end)
	}
}
