//go:build linux

package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fallocate pre-allocates disk blocks so later mmap writes cannot SIGBUS on
// a full disk. On Linux, uses the fallocate syscall.
func Fallocate(file *os.File, size int64) error {
	err := unix.Fallocate(int(file.Fd()), 0, 0, size)
	if err != nil {
		// Fallback to ftruncate if fallocate fails (e.g., NFS, some filesystems)
		return unix.Ftruncate(int(file.Fd()), size)
	}
	// Fallocate allocates blocks but doesn't set file size - must also truncate
	return unix.Ftruncate(int(file.Fd()), size)
}
