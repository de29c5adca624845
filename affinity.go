//go:build linux

package msgpump

import (
	"golang.org/x/sys/unix"
)

// pinToCPU restricts the calling thread to a single CPU core. The
// caller must have locked the goroutine to its OS thread first.
func pinToCPU(cpu int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
