package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/loykin/agentward/internal/logger"
	"github.com/loykin/agentward/internal/reaper"
	"github.com/spf13/cobra"
)

// createReaperCommand creates the internal reaper subcommand. The host spawns
// it with the parent link inherited on fd 3; it is not meant to be run by hand.
func createReaperCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "reaper AGENT_PID PARENT_PID LABEL [GRACE_MS]",
		Short:  "Watch an agent process and clean it up when its parent exits",
		Args:   cobra.RangeArgs(3, 4),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReaper(cmd, args)
		},
	}
	return cmd
}

// graceFromArgs parses the optional GRACE_MS argument. A non-positive
// value means the caller wants the default, same as omitting it.
func graceFromArgs(args []string) (time.Duration, error) {
	if len(args) < 4 {
		return reaper.DefaultGrace, nil
	}
	ms, err := strconv.Atoi(args[3])
	if err != nil {
		return 0, fmt.Errorf("invalid grace %q: must be milliseconds", args[3])
	}
	if ms <= 0 {
		return reaper.DefaultGrace, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func runReaper(cmd *cobra.Command, args []string) error {
	agentPID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid agent pid %q: %w", args[0], err)
	}
	parentPID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid parent pid %q: %w", args[1], err)
	}
	label := args[2]
	grace, err := graceFromArgs(args)
	if err != nil {
		return err
	}

	log := logger.NewStderr(slog.LevelInfo)

	link, err := reaper.OpenInherited()
	if err != nil {
		return fmt.Errorf("parent link: %w", err)
	}
	sess, err := reaper.NewSession(reaper.Config{
		AgentPID:  agentPID,
		ParentPID: parentPID,
		Label:     label,
		Grace:     grace,
	}, link, log)
	if err != nil {
		return err
	}

	code, err := sess.Run(cmd.Context())
	if err != nil {
		log.Error("reaper session failed", "error", err)
		os.Exit(1)
	}
	os.Exit(code)
	return nil
}
