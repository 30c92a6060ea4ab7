package disk

import (
	"github.com/tamirms/diskplot/internal/bits"
)

const (
	// ReadAhead is the size of the sequential read buffer.
	ReadAhead = 1 << 20
	// WriteCache is the size of the contiguous write-coalescing buffer.
	WriteCache = 1 << 20

	// bypassSize bounds reads serviced outside the read-ahead buffer when a
	// caller regresses. The access pattern is assumed forward-sequential;
	// regressions work but are logged and slow.
	bypassSize = 128
)

// BufferedDisk wraps a FileDisk with a 1 MiB read-ahead buffer and a 1 MiB
// write-coalescing buffer for contiguous appends. Reads return views into
// the read buffer with the 7-byte slicing tail guaranteed.
type BufferedDisk struct {
	disk     *FileDisk
	fileSize uint64

	// file offset the read buffer was filled from; ^0 when empty
	readBufferStart uint64
	readBuffer      []byte
	readBufferSize  uint64

	// file offset the write buffer flushes to; ^0 when empty
	writeBufferStart uint64
	writeBuffer      []byte
	writeBufferSize  uint64

	bypass [bypassSize + bits.TailPadding]byte
}

const invalidOffset = ^uint64(0)

// NewBuffered wraps disk, whose readable content is fileSize bytes.
func NewBuffered(disk *FileDisk, fileSize uint64) *BufferedDisk {
	return &BufferedDisk{
		disk:             disk,
		fileSize:         fileSize,
		readBufferStart:  invalidOffset,
		writeBufferStart: invalidOffset,
	}
}

func (d *BufferedDisk) needReadBuffer() {
	if d.readBuffer != nil {
		return
	}
	d.readBuffer = make([]byte, ReadAhead+bits.TailPadding)
	d.readBufferStart = invalidOffset
	d.readBufferSize = 0
}

func (d *BufferedDisk) needWriteBuffer() {
	if d.writeBuffer != nil {
		return
	}
	d.writeBuffer = make([]byte, WriteCache)
	d.writeBufferStart = invalidOffset
	d.writeBufferSize = 0
}

// Read returns a view of length bytes at begin. Lengths must stay below the
// read-ahead size. A read before the buffer start is serviced through the
// bypass buffer without disturbing the read-ahead window.
func (d *BufferedDisk) Read(begin, length uint64) ([]byte, error) {
	d.needReadBuffer()
	if d.readBufferStart <= begin &&
		begin+length <= d.readBufferStart+d.readBufferSize &&
		begin+length+bits.TailPadding <= d.readBufferStart+ReadAhead {
		off := begin - d.readBufferStart
		return d.readBuffer[off : off+length+bits.TailPadding], nil
	}
	if begin >= d.readBufferStart || begin == 0 || d.readBufferStart == invalidOffset {
		// Forward-sequential (or first) read: slide the window to begin.
		d.readBufferStart = begin
		amount := d.fileSize - begin
		if amount > ReadAhead {
			amount = ReadAhead
		}
		if err := d.disk.Read(begin, d.readBuffer[:amount]); err != nil {
			return nil, err
		}
		d.readBufferSize = amount
		return d.readBuffer[:length+bits.TailPadding], nil
	}
	// Regressed read. Keep the window; assume the scan resumes forward.
	d.disk.log.Warn().Str("file", d.disk.Name()).
		Uint64("offset", begin).Uint64("length", length).
		Uint64("buffer_start", d.readBufferStart).
		Msg("disk read position regressed; optimized for forward scans")
	if err := d.disk.Read(begin, d.bypass[:length]); err != nil {
		return nil, err
	}
	return d.bypass[: length+bits.TailPadding : length+bits.TailPadding], nil
}

// Write buffers contiguous appends and forwards anything else directly.
func (d *BufferedDisk) Write(begin uint64, p []byte) error {
	d.needWriteBuffer()
	length := uint64(len(p))
	if begin == d.writeBufferStart+d.writeBufferSize {
		if d.writeBufferSize+length <= WriteCache {
			copy(d.writeBuffer[d.writeBufferSize:], p)
			d.writeBufferSize += length
			d.growTo(begin + length)
			return nil
		}
		if err := d.Flush(); err != nil {
			return err
		}
	}
	if d.writeBufferSize == 0 && length <= WriteCache {
		d.writeBufferStart = begin
		copy(d.writeBuffer, p)
		d.writeBufferSize = length
		d.growTo(begin + length)
		return nil
	}
	d.growTo(begin + length)
	return d.disk.Write(begin, p)
}

func (d *BufferedDisk) growTo(end uint64) {
	if end > d.fileSize {
		d.fileSize = end
	}
}

// Flush writes out the pending contiguous append buffer.
func (d *BufferedDisk) Flush() error {
	if d.writeBufferSize == 0 {
		return nil
	}
	if err := d.disk.Write(d.writeBufferStart, d.writeBuffer[:d.writeBufferSize]); err != nil {
		return err
	}
	d.writeBufferSize = 0
	return nil
}

// Truncate flushes pending writes, resizes the file and drops both buffers.
func (d *BufferedDisk) Truncate(newSize uint64) error {
	if err := d.Flush(); err != nil {
		return err
	}
	if err := d.disk.Truncate(newSize); err != nil {
		return err
	}
	d.fileSize = newSize
	return d.FreeMemory()
}

// Name returns the underlying file path.
func (d *BufferedDisk) Name() string { return d.disk.Name() }

// FileSize returns the current logical size.
func (d *BufferedDisk) FileSize() uint64 { return d.fileSize }

// FreeMemory flushes pending writes and releases both buffers.
func (d *BufferedDisk) FreeMemory() error {
	if err := d.Flush(); err != nil {
		return err
	}
	d.readBuffer = nil
	d.writeBuffer = nil
	d.readBufferSize = 0
	d.writeBufferSize = 0
	d.readBufferStart = invalidOffset
	d.writeBufferStart = invalidOffset
	return nil
}
