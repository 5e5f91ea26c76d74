package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	var name string
	var apiURL string
	var apiTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent status",
		Long: `Show the status of one agent, or of all agents when no name is given.

Examples:
  agentward status
  agentward status --name=myagent
  agentward status --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiTimeout)
			result, err := client.GetStatus(name)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "agent name (all agents when empty)")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&apiTimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand() *cobra.Command {
	var name string
	var wait time.Duration
	var apiURL string
	var apiTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running agent",
		Long: `Stop a supervised agent by name.

Examples:
  agentward stop --name=myagent
  agentward stop --name=myagent --wait=5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(apiURL, apiTimeout)
			if err := client.StopAgent(name, wait); err != nil {
				return err
			}
			fmt.Printf("Stopped %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "agent name (required)")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "time to wait for graceful shutdown")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&apiTimeout, "api-timeout", 10*time.Second, "request timeout")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}
