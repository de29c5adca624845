//go:build !linux

package msgpump

// CPU pinning is a Linux-only optimization; elsewhere it is a no-op.
func pinToCPU(int) error { return nil }
