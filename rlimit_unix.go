//go:build linux || darwin

package diskplot

import "golang.org/x/sys/unix"

// descriptorTarget is the soft RLIMIT_NOFILE a build needs: one descriptor
// per sort bucket plus table files, buffers and the final file.
const descriptorTarget = 600

// raiseDescriptorLimit lifts the soft file-descriptor limit to
// descriptorTarget if it is below. Returns the resulting soft limit.
func raiseDescriptorLimit() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, err
	}
	if lim.Cur >= descriptorTarget {
		return lim.Cur, nil
	}
	want := lim
	want.Cur = descriptorTarget
	if want.Max != unix.RLIM_INFINITY && want.Cur > want.Max {
		want.Cur = want.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err != nil {
		return lim.Cur, err
	}
	return want.Cur, nil
}
