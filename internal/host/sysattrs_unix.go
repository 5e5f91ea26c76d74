//go:build !windows

package host

import (
	"os"
	"os/exec"
	"syscall"
)

// configureAgentAttrs places the agent in its own process group so the
// whole tree can be signaled at once.
func configureAgentAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// configureReaperAttrs starts the reaper in a new session so it is
// detached from the controlling terminal and survives the host's exit.
// That survival is the whole point: the reaper must still be around to
// clean up when the host crashes.
func configureReaperAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// killGroup signals the agent's entire process group.
func killGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// socketPair returns the two ends of a connected AF_UNIX stream pair used
// as the host/reaper link. Both ends are close-on-exec in the host; the
// child end reaches the reaper only through ExtraFiles, so the agent never
// inherits a handle that would keep the link alive.
func socketPair() (hostEnd, childEnd *os.File, err error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	hostEnd = os.NewFile(uintptr(fds[0]), "reaper-link-host")
	childEnd = os.NewFile(uintptr(fds[1]), "reaper-link-child")
	return hostEnd, childEnd, nil
}
