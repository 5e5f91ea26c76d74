//go:build windows

package host

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// Windows creation flags
const (
	createNewProcessGroup = 0x00000200
	detachedProcess       = 0x00000008
)

func configureAgentAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

func configureReaperAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup | detachedProcess}
}

func killGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// socketPair has no Windows equivalent with inheritable descriptors in
// this layout; hosting with a reaper link is Unix-only.
func socketPair() (*os.File, *os.File, error) {
	return nil, nil, errors.New("reaper link requires a Unix socketpair")
}
