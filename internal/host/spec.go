package host

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/agentward/internal/logger"
	"github.com/loykin/agentward/internal/reaper"
)

// AgentSpec describes one background agent to launch and guard.
type AgentSpec struct {
	Name    string `json:"name" mapstructure:"name"`
	Command string `json:"command" mapstructure:"command"` // command to start the agent (shell)
	WorkDir string `json:"work_dir" mapstructure:"work_dir"`
	// Env holds extra KEY=VALUE entries appended to the host environment.
	Env     []string `json:"env" mapstructure:"env"`
	PIDFile string   `json:"pid_file" mapstructure:"pid_file"`
	// Grace is handed to the reaper as the termination grace duration and
	// reused by Stop for its own escalation.
	Grace time.Duration `json:"grace" mapstructure:"grace"`
	// ReadyTimeout bounds the wait for the reaper's readiness signal.
	ReadyTimeout time.Duration `json:"ready_timeout" mapstructure:"ready_timeout"`
	Log          logger.Config `json:"log" mapstructure:"log"`
}

// Validate checks the fields the spawn path depends on.
func (s *AgentSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("agent spec requires a name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("agent %q requires a command", s.Name)
	}
	return nil
}

func (s *AgentSpec) grace() time.Duration {
	if s.Grace > 0 {
		return s.Grace
	}
	return reaper.DefaultGrace
}

func (s *AgentSpec) readyTimeout() time.Duration {
	if s.ReadyTimeout > 0 {
		return s.ReadyTimeout
	}
	return 10 * time.Second
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *AgentSpec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	// Fallback: when metacharacters are present, use /bin/sh -c
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell (the outer quotes would otherwise
			// inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
