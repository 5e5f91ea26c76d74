package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/agentward/internal/ackchan"
	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/metrics"
	"github.com/loykin/agentward/internal/reaper"
)

// Manager launches agents, pairs each with a detached reaper process, and
// tracks their lifecycles. The cleanup guarantee never depends on the
// Manager running cleanup code: once the reaper is ready, the host can
// crash at any point and the agent still goes away.
type Manager struct {
	mu         sync.RWMutex
	log        *slog.Logger
	agents     map[string]*Agent
	sinks      []history.Sink
	globalEnv  []string
	reaperExe  string
	reaperArgs []string
	ackTimeout time.Duration
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	exe, _ := os.Executable()
	return &Manager{
		log:        log,
		agents:     make(map[string]*Agent),
		reaperExe:  exe,
		reaperArgs: []string{"reaper"},
	}
}

// SetHistorySinks configures external history sinks (SQLite, PostgreSQL,
// ClickHouse, OpenSearch). Passing no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// SetGlobalEnv replaces the base environment handed to agents. When unset,
// agents inherit the host's environment.
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	m.globalEnv = append([]string(nil), kvs...)
	m.mu.Unlock()
}

// SetAckTimeout sets the manager-wide bound on waiting for acks over an
// agent's link, including the reaper's readiness ack. A spec's
// ReadyTimeout still takes precedence for that agent.
func (m *Manager) SetAckTimeout(d time.Duration) {
	m.mu.Lock()
	m.ackTimeout = d
	m.mu.Unlock()
}

// SetReaperCommand overrides the executable and argument prefix used to
// spawn reapers. The default re-invokes the current binary with "reaper".
func (m *Manager) SetReaperCommand(exe string, args ...string) {
	m.mu.Lock()
	m.reaperExe = exe
	m.reaperArgs = append([]string(nil), args...)
	m.mu.Unlock()
}

// Start launches the agent described by spec, spawns its reaper, and
// blocks until the reaper signals readiness. On any failure after the
// agent was started, the agent is torn down again before returning.
func (m *Manager) Start(spec AgentSpec) (*Agent, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.agents[spec.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("agent %q already registered", spec.Name)
	}
	a := &Agent{spec: spec, log: m.log.With("agent", spec.Name)}
	m.agents[spec.Name] = a
	m.mu.Unlock()

	if err := m.startAgent(a); err != nil {
		m.forget(spec.Name)
		return nil, err
	}
	if err := m.startReaper(a); err != nil {
		_ = a.stop(spec.grace())
		m.forget(spec.Name)
		return nil, err
	}
	return a, nil
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	delete(m.agents, name)
	m.mu.Unlock()
}

func (m *Manager) startAgent(a *Agent) error {
	spec := a.spec
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(m.globalEnv) > 0 || len(spec.Env) > 0 {
		base := m.globalEnv
		if len(base) == 0 {
			base = os.Environ()
		}
		cmd.Env = append(append([]string(nil), base...), spec.Env...)
	}
	configureAgentAttrs(cmd)

	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.AgentWriters(spec.Name)
		a.outW, a.errW = outW, errW
	}
	if a.outW != nil {
		cmd.Stdout = a.outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if a.errW != nil {
		cmd.Stderr = a.errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		a.closeWriters()
		return fmt.Errorf("start agent %q: %w", spec.Name, err)
	}
	a.markStarted(cmd)
	a.writePIDFile()
	metrics.IncAgentStart(spec.Name)
	m.record(history.EventAgentStarted, a, "")
	a.log.Info("agent started", "pid", cmd.Process.Pid)

	go m.monitor(a, cmd)
	return nil
}

// monitor owns the wait on the agent process and finalizes its state.
func (m *Manager) monitor(a *Agent, cmd *exec.Cmd) {
	err := cmd.Wait()
	a.markExited(err)
	a.closeWriters()
	metrics.IncAgentStop(a.spec.Name)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	m.record(history.EventAgentStopped, a, detail)
	if err != nil && !a.stopRequested() {
		a.log.Warn("agent exited unexpectedly", "error", err)
	} else {
		a.log.Info("agent exited", "error", err)
	}
}

func (m *Manager) startReaper(a *Agent) error {
	m.mu.RLock()
	exe := m.reaperExe
	argPrefix := m.reaperArgs
	m.mu.RUnlock()
	if exe == "" {
		return fmt.Errorf("no reaper executable configured")
	}

	hostEnd, childEnd, err := socketPair()
	if err != nil {
		return fmt.Errorf("create reaper link: %w", err)
	}

	spec := a.spec
	args := append(append([]string(nil), argPrefix...),
		strconv.Itoa(a.PID()),
		strconv.Itoa(os.Getpid()),
		spec.Name,
		strconv.FormatInt(spec.grace().Milliseconds(), 10),
	)
	// #nosec G204
	cmd := exec.Command(exe, args...)
	cmd.ExtraFiles = []*os.File{childEnd} // becomes fd 3 in the reaper
	configureReaperAttrs(cmd)
	if w := spec.Log.ReaperWriter(spec.Name); w != nil {
		a.mu.Lock()
		a.reaperLogW = w
		a.mu.Unlock()
		cmd.Stdout = w
		cmd.Stderr = w
	}

	if err := cmd.Start(); err != nil {
		_ = hostEnd.Close()
		_ = childEnd.Close()
		return fmt.Errorf("start reaper for %q: %w", spec.Name, err)
	}
	// The child holds its own dup now.
	_ = childEnd.Close()

	a.mu.Lock()
	a.reaperCmd = cmd
	a.link = hostEnd
	a.mu.Unlock()

	// Detached children are still waited on so they do not linger as
	// zombies when they exit before the host does.
	go func() { _ = cmd.Wait() }()

	if err := m.awaitReady(a, hostEnd); err != nil {
		return err
	}
	a.mu.Lock()
	a.reaperReady = true
	a.mu.Unlock()
	m.record(history.EventReaperReady, a, "")
	a.log.Info("reaper ready", "reaper_pid", cmd.Process.Pid)
	return nil
}

// awaitReady watches the link for the reaper's readiness ack. The
// transport stays attached to the agent afterwards: the host keeps its end
// open for the rest of the agent's life, and that open descriptor is the
// entire liveness protocol.
func (m *Manager) awaitReady(a *Agent, hostEnd *os.File) error {
	tr := ackchan.NewPipeTransport(hostEnd)
	a.mu.Lock()
	a.linkTr = tr
	a.mu.Unlock()

	ready := make(chan struct{})
	var once sync.Once
	unsub := tr.OnMessage(func(f ackchan.Frame) {
		if f.Type == ackchan.FrameAck && f.ID == reaper.ReadyMessageID {
			once.Do(func() { close(ready) })
		}
	})
	defer unsub()
	closed := make(chan struct{})
	var closeOnce sync.Once
	unsubClose := tr.OnClose(func(error) {
		closeOnce.Do(func() { close(closed) })
	})
	defer unsubClose()

	if err := tr.Start(); err != nil {
		return fmt.Errorf("watch reaper link: %w", err)
	}

	timeout := m.readyTimeout(&a.spec)
	select {
	case <-ready:
		return nil
	case <-closed:
		return fmt.Errorf("reaper for %q exited before signaling readiness", a.spec.Name)
	case <-time.After(timeout):
		return fmt.Errorf("reaper for %q not ready within %s", a.spec.Name, timeout)
	}
}

// readyTimeout resolves the readiness deadline for one agent: the spec's
// own ReadyTimeout wins, then the manager-wide ack timeout, then the
// built-in default.
func (m *Manager) readyTimeout(spec *AgentSpec) time.Duration {
	if spec.ReadyTimeout > 0 {
		return spec.ReadyTimeout
	}
	m.mu.RLock()
	d := m.ackTimeout
	m.mu.RUnlock()
	if d > 0 {
		return d
	}
	return spec.readyTimeout()
}

// Stop gracefully stops the named agent, escalating to a forceful stop
// after wait, then releases its reaper. The registration stays visible
// with its final status.
func (m *Manager) Stop(name string, wait time.Duration) error {
	m.mu.RLock()
	a, ok := m.agents[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown agent %q", name)
	}
	err := a.stop(wait)
	m.record(history.EventParentLost, a, "host requested stop")
	return err
}

// StopAll stops every registered agent.
func (m *Manager) StopAll(wait time.Duration) {
	m.mu.RLock()
	names := make([]string, 0, len(m.agents))
	for name := range m.agents {
		names = append(names, name)
	}
	m.mu.RUnlock()
	for _, name := range names {
		_ = m.Stop(name, wait)
	}
}

// Status returns the snapshot for one agent.
func (m *Manager) Status(name string) (Status, error) {
	m.mu.RLock()
	a, ok := m.agents[name]
	m.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("unknown agent %q", name)
	}
	return a.Snapshot(), nil
}

// StatusAll returns snapshots for all registered agents.
func (m *Manager) StatusAll() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Snapshot())
	}
	return out
}

// record fans one audit event out to the configured history sinks.
func (m *Manager) record(t history.EventType, a *Agent, detail string) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	ev := history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Label:      a.spec.Name,
		AgentPID:   a.PID(),
		ParentPID:  os.Getpid(),
		Detail:     detail,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, s := range sinks {
		if err := s.Send(ctx, ev); err != nil {
			m.log.Debug("history sink send failed", "event", string(t), "error", err)
		}
	}
}
