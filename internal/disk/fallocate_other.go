//go:build !linux && !darwin

package disk

import "os"

// Fallocate pre-allocates disk blocks so later mmap writes cannot SIGBUS on
// a full disk. On platforms without native fallocate, uses Truncate as a
// fallback. Note: this sets file size but may not reserve actual disk
// blocks on all filesystems.
func Fallocate(file *os.File, size int64) error {
	return file.Truncate(size)
}
