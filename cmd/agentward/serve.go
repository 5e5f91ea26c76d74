package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/agentward"
	"github.com/spf13/cobra"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath    string
	BasePath      string
	MetricsListen string
	NonBlocking   bool
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{
		ConfigPath: globalFlags.ConfigPath,
	}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the agentward host daemon",
		Long: `Start the agentward host daemon. The daemon starts every agent from the
config file, pairs each with a detached reaper, and serves the management
API on the configured listen address.

Examples:
  agentward serve --config=config.toml
  agentward serve config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveFlags.ConfigPath == "" {
				serveFlags.ConfigPath = globalFlags.ConfigPath
			}
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "/api", "base path for the management API")
	cmd.Flags().StringVar(&serveFlags.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&serveFlags.NonBlocking, "non-blocking", false, "return immediately after startup (testing)")
	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}

	cfg, err := agentward.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	mgr := agentward.New()
	mgr.SetGlobalEnv(cfg.GlobalEnv)
	if cfg.AckTimeout > 0 {
		mgr.SetAckTimeout(cfg.AckTimeout)
	}

	if cfg.HistoryDSN != "" {
		sink, err := agentward.NewHistorySink(cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		mgr.SetHistorySinks(sink)
	}

	if err := agentward.RegisterMetricsDefault(); err != nil {
		fmt.Printf("Warning: failed to register metrics: %v\n", err)
	}
	if flags.MetricsListen != "" {
		go func() {
			if err := agentward.ServeMetrics(flags.MetricsListen); err != nil {
				fmt.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	for _, spec := range cfg.Agents {
		if err := mgr.Start(spec); err != nil {
			fmt.Printf("Warning: failed to start agent %s: %v\n", spec.Name, err)
		}
	}

	var srv interface{ Close() error }
	if cfg.Listen != "" {
		protocol := "HTTP"
		var s interface{ Close() error }
		if cfg.TLS != nil && cfg.TLS.Enabled {
			protocol = "HTTPS"
			s, err = agentward.NewTLSServer(cfg.Listen, flags.BasePath, *cfg.TLS, mgr)
		} else {
			s, err = agentward.NewHTTPServer(cfg.Listen, flags.BasePath, mgr)
		}
		if err != nil {
			return fmt.Errorf("failed to create %s server: %w", protocol, err)
		}
		srv = s
		fmt.Printf("Starting agentward %s server on %s%s\n", protocol, cfg.Listen, flags.BasePath)
	}

	if flags.NonBlocking {
		mgr.StopAll(2 * time.Second)
		if srv != nil {
			return srv.Close()
		}
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	mgr.StopAll(3 * time.Second)
	if srv != nil {
		return srv.Close()
	}
	return nil
}
