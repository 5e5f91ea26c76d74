package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createReaperCommand(),
		createServeCommand(globalFlags),
		createStatusCommand(),
		createStopCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "agentward",
		Short: "Agent supervision and cleanup tool",
		Long: `Agentward supervises long-running agent processes and guarantees their
cleanup: every agent gets a detached reaper that terminates it if the
host process dies first.

Examples:
  agentward serve --config=config.toml  # Start the host daemon
  agentward status --name=myagent       # Query a running daemon
  agentward reaper 1234 5678 myagent    # (internal) watch agent 1234 for host 5678`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
