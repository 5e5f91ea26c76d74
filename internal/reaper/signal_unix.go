//go:build !windows

package reaper

import "syscall"

// osSignaler delivers signals with kill(2). Signal zero is the existence
// probe: it raises ESRCH when the pid is gone and otherwise returns
// without affecting the target.
type osSignaler struct{}

func (osSignaler) Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

func (osSignaler) Exists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func (osSignaler) StartTime(pid int) int64 {
	return procStartUnix(pid)
}
