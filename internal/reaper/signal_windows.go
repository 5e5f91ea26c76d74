//go:build windows

package reaper

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// osSignaler approximates Unix signal delivery on Windows: any stop
// signal becomes TerminateProcess, signal zero becomes an OpenProcess
// existence probe.
type osSignaler struct{}

func (osSignaler) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if sig == 0 {
		handle, err := openProcess(processQueryInformation, pid)
		if err != nil {
			return syscall.ESRCH
		}
		_ = closeHandle(handle)
		return nil
	}
	handle, err := openProcess(processTerminate, pid)
	if err != nil {
		// The process is most likely already gone.
		return syscall.ESRCH
	}
	defer func() { _ = closeHandle(handle) }()
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func (s osSignaler) Exists(pid int) bool {
	return s.Signal(pid, 0) == nil
}

// StartTime is unavailable on Windows; returning zero disables the
// pid-reuse guard and falls back to the plain existence probe.
func (osSignaler) StartTime(pid int) int64 { return 0 }

func openProcess(access uint32, pid int) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), uintptr(0), uintptr(uint32(pid)))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}
