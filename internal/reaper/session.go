package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loykin/agentward/internal/metrics"
)

// DefaultGrace is the wait between the graceful and forceful stop signals
// when the launch contract carries no explicit duration.
const DefaultGrace = 5 * time.Second

// Reserved exit codes for setup-time races. These are expected outcomes,
// not failures.
const (
	// ExitParentGoneDuringSetup: the parent died between spawning the
	// reaper and the reaper finishing setup. Termination was attempted.
	ExitParentGoneDuringSetup = 41
	// ExitAgentGoneDuringSetup: the agent was already gone at startup.
	// Nothing to terminate.
	ExitAgentGoneDuringSetup = 42
)

// signaler abstracts process-signal delivery so the escalation logic can
// be exercised against fakes.
type signaler interface {
	Signal(pid int, sig syscall.Signal) error
	Exists(pid int) bool
	StartTime(pid int) int64
}

// Config is the launch contract of one session.
type Config struct {
	// AgentPID identifies the guarded process. Immutable once set.
	AgentPID int
	// ParentPID is recorded for diagnostics only; the liveness signal is
	// the link, never the pid, since pids can be reused or reparented.
	ParentPID int
	// Label attributes log lines to the spawning host.
	Label string
	// Grace bounds the wait after the graceful stop signal. Defaults to
	// DefaultGrace when non-positive.
	Grace time.Duration
}

// Session guards one agent process for the lifetime of one parent. It is
// purely event-driven: after reaching Ready it blocks on the link watcher
// and consumes no CPU while the parent is alive.
type Session struct {
	cfg  Config
	link *ParentLink
	log  *slog.Logger
	sig  signaler

	state atomic.Int32
	// Kernel start time of the agent captured at session start; zero when
	// the platform cannot report it.
	agentStart int64
}

// NewSession validates the launch contract and binds the session to its
// parent link.
func NewSession(cfg Config, link *ParentLink, log *slog.Logger) (*Session, error) {
	if cfg.AgentPID <= 0 {
		return nil, fmt.Errorf("agent pid must be a positive integer, got %d", cfg.AgentPID)
	}
	if cfg.ParentPID <= 0 {
		return nil, fmt.Errorf("parent pid must be a positive integer, got %d", cfg.ParentPID)
	}
	if link == nil {
		return nil, errors.New("session requires an open parent link")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Session{cfg: cfg, link: link, log: log, sig: osSignaler{}}, nil
}

// State reports the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) attrs() []any {
	return []any{
		"agent_pid", s.cfg.AgentPID,
		"parent_pid", s.cfg.ParentPID,
		"self_pid", os.Getpid(),
		"label", s.cfg.Label,
	}
}

// Run drives the session to completion and returns the process exit code.
// A non-nil error means an unrecoverable signaling failure (for example a
// permissions problem); everything expected is expressed in the code.
func (s *Session) Run(ctx context.Context) (int, error) {
	s.setState(StateStarting)
	s.agentStart = s.sig.StartTime(s.cfg.AgentPID)

	// Announce readiness. A parent that already died shows up as a write
	// error here; delivery failure alone is tolerated silently because the
	// consistency checks below are the authority.
	announceErr := s.link.AnnounceReady()

	if s.linkGone(announceErr) {
		s.log.Warn("parent disappeared during setup, cleaning up agent", s.attrs()...)
		if err := s.terminate(); err != nil {
			s.setState(StateExited)
			return 0, err
		}
		s.setState(StateExited)
		return ExitParentGoneDuringSetup, nil
	}
	if !s.agentAlive() {
		s.log.Warn("agent exited during setup, nothing to guard", s.attrs()...)
		s.setState(StateExited)
		return ExitAgentGoneDuringSetup, nil
	}

	s.setState(StateReady)
	metrics.IncSessionReady(s.cfg.Label)
	s.log.Info("guarding agent", s.attrs()...)

	select {
	case <-s.link.Closed():
	case <-ctx.Done():
		// Embedding host asked the session itself to stop. The agent is
		// left untouched; only link closure triggers cleanup.
		s.setState(StateExited)
		return 0, nil
	}

	s.setState(StateTerminating)
	s.log.Info("parent link closed, terminating agent", s.attrs()...)
	if err := s.terminate(); err != nil {
		s.setState(StateExited)
		return 0, err
	}
	s.setState(StateExited)
	return 0, nil
}

// linkGone reports whether the parent link is already closed, either
// observed by the watcher or surfaced as a broken-pipe write error from
// the readiness announcement.
func (s *Session) linkGone(announceErr error) bool {
	select {
	case <-s.link.Closed():
		return true
	default:
	}
	return isClosedLink(announceErr)
}

func isClosedLink(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, os.ErrClosed)
}

// agentAlive combines the existence probe with the start-time guard: a
// live pid whose start time changed belongs to an unrelated process that
// inherited a recycled pid, and must not be signaled.
func (s *Session) agentAlive() bool {
	if !s.sig.Exists(s.cfg.AgentPID) {
		return false
	}
	if s.agentStart != 0 {
		if cur := s.sig.StartTime(s.cfg.AgentPID); cur != 0 && cur != s.agentStart {
			return false
		}
	}
	return true
}

// terminate runs one escalation cycle: graceful stop, bounded wait,
// existence probe, forceful stop. It is the entire contract; there is no
// re-check after the forceful signal and no retry.
func (s *Session) terminate() error {
	pid := s.cfg.AgentPID
	if !s.agentAlive() {
		metrics.IncTermination(s.cfg.Label, "already_gone")
		s.log.Info("agent already gone", s.attrs()...)
		return nil
	}

	err := s.sig.Signal(pid, syscall.SIGTERM)
	if isNoSuchProcess(err) {
		// The agent exited before the signal could be delivered.
		metrics.IncTermination(s.cfg.Label, "already_gone")
		s.log.Info("agent exited before graceful stop", s.attrs()...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("send graceful stop to agent %d: %w", pid, err)
	}

	timer := time.NewTimer(s.cfg.Grace)
	defer timer.Stop()
	<-timer.C

	if !s.agentAlive() {
		metrics.IncTermination(s.cfg.Label, "graceful")
		s.log.Info("agent exited within grace period", s.attrs()...)
		return nil
	}

	err = s.sig.Signal(pid, syscall.SIGKILL)
	if isNoSuchProcess(err) {
		metrics.IncTermination(s.cfg.Label, "graceful")
		s.log.Info("agent exited as forceful stop was sent", s.attrs()...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("send forceful stop to agent %d: %w", pid, err)
	}
	metrics.IncTermination(s.cfg.Label, "forced")
	s.log.Warn("agent forcefully stopped after grace period", s.attrs()...)
	return nil
}

func isNoSuchProcess(err error) bool {
	return err != nil && (errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone))
}
