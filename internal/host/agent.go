package host

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/agentward/internal/ackchan"
)

// Agent is one running guarded process together with the reaper watching
// it and the host end of their shared link.
type Agent struct {
	spec AgentSpec
	log  *slog.Logger

	mu          sync.Mutex
	cmd         *exec.Cmd
	reaperCmd   *exec.Cmd
	link        *os.File
	linkTr      *ackchan.PipeTransport
	outW        io.WriteCloser
	errW        io.WriteCloser
	reaperLogW  io.WriteCloser
	running     bool
	reaperReady bool
	stopping    bool
	startedAt   time.Time
	stoppedAt   time.Time
	exitErr     error
	waitDone    chan struct{}
}

// Status is a point-in-time snapshot of an agent and its reaper.
type Status struct {
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	PID         int       `json:"pid"`
	ReaperPID   int       `json:"reaper_pid"`
	ReaperReady bool      `json:"reaper_ready"`
	StartedAt   time.Time `json:"started_at"`
	StoppedAt   time.Time `json:"stopped_at"`
	ExitError   string    `json:"exit_error,omitempty"`
}

func (a *Agent) Name() string { return a.spec.Name }

// PID returns the agent's process id, or 0 before start.
func (a *Agent) PID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd == nil || a.cmd.Process == nil {
		return 0
	}
	return a.cmd.Process.Pid
}

// ReaperPID returns the watching reaper's process id, or 0 when none.
func (a *Agent) ReaperPID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reaperCmd == nil || a.reaperCmd.Process == nil {
		return 0
	}
	return a.reaperCmd.Process.Pid
}

// Snapshot returns a copy of the current status.
func (a *Agent) Snapshot() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{
		Name:        a.spec.Name,
		Running:     a.running,
		ReaperReady: a.reaperReady,
		StartedAt:   a.startedAt,
		StoppedAt:   a.stoppedAt,
	}
	if a.cmd != nil && a.cmd.Process != nil {
		st.PID = a.cmd.Process.Pid
	}
	if a.reaperCmd != nil && a.reaperCmd.Process != nil {
		st.ReaperPID = a.reaperCmd.Process.Pid
	}
	if a.exitErr != nil {
		st.ExitError = a.exitErr.Error()
	}
	return st
}

func (a *Agent) markStarted(cmd *exec.Cmd) {
	a.mu.Lock()
	a.cmd = cmd
	a.running = true
	a.startedAt = time.Now()
	a.waitDone = make(chan struct{})
	a.mu.Unlock()
}

func (a *Agent) markExited(err error) {
	a.mu.Lock()
	a.running = false
	a.stoppedAt = time.Now()
	a.exitErr = err
	wd := a.waitDone
	a.mu.Unlock()
	if wd != nil {
		close(wd)
	}
}

func (a *Agent) waitDoneChan() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waitDone
}

func (a *Agent) stopRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopping
}

// stop runs the host-side escalation against the agent's process group,
// then releases the reaper by tearing down the link. With the agent
// already gone the reaper's own termination pass is a no-op.
func (a *Agent) stop(wait time.Duration) error {
	a.mu.Lock()
	a.stopping = true
	cmd := a.cmd
	a.mu.Unlock()

	if wait <= 0 {
		wait = a.spec.grace()
	}

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		_ = killGroup(pid, syscall.SIGTERM)
		if wd := a.waitDoneChan(); wd != nil {
			select {
			case <-wd:
				// reaped by the monitor
			case <-time.After(wait):
				_ = killGroup(pid, syscall.SIGKILL)
				select {
				case <-wd:
				case <-time.After(200 * time.Millisecond):
					// best-effort
				}
			}
		}
	}

	a.releaseReaper()
	a.removePIDFile()
	a.closeWriters()
	return nil
}

// releaseReaper closes the host end of the link. The reaper observes the
// closure, finds the agent already gone, and exits on its own.
func (a *Agent) releaseReaper() {
	a.mu.Lock()
	tr := a.linkTr
	a.linkTr = nil
	a.link = nil
	a.mu.Unlock()
	if tr != nil {
		_ = tr.Close()
	}
}

func (a *Agent) writePIDFile() {
	a.mu.Lock()
	pidFile := a.spec.PIDFile
	pid := 0
	if a.cmd != nil && a.cmd.Process != nil {
		pid = a.cmd.Process.Pid
	}
	a.mu.Unlock()

	if pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pidFile), 0o750)
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o600)
}

// removePIDFile best-effort
func (a *Agent) removePIDFile() {
	a.mu.Lock()
	pidFile := a.spec.PIDFile
	a.mu.Unlock()
	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}

func (a *Agent) closeWriters() {
	a.mu.Lock()
	outW, errW, rw := a.outW, a.errW, a.reaperLogW
	a.outW, a.errW, a.reaperLogW = nil, nil, nil
	a.mu.Unlock()
	if outW != nil {
		_ = outW.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
	if rw != nil {
		_ = rw.Close()
	}
}
