package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/agentward/internal/env"
	"github.com/loykin/agentward/internal/host"
	"github.com/loykin/agentward/internal/logger"
	"github.com/loykin/agentward/internal/tls"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env        []string       `toml:"env" mapstructure:"env"`
	EnvFiles   []string       `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool           `toml:"use_os_env" mapstructure:"use_os_env"`
	Listen     string         `toml:"listen" mapstructure:"listen"`
	HistoryDSN string         `toml:"history_dsn" mapstructure:"history_dsn"`
	// AckTimeout bounds how long the host waits for acks over agent
	// links, including each reaper's readiness ack. A per-agent
	// ready_timeout overrides it for that agent.
	AckTimeout time.Duration  `toml:"ack_timeout" mapstructure:"ack_timeout"`
	TLS        *tls.Config    `toml:"tls" mapstructure:"tls"`
	Log        *logger.Config `toml:"log" mapstructure:"log"`
	Agents     []AgentConfig  `toml:"agents" mapstructure:"agents"`
}

// AgentConfig is the file-level shape of one guarded agent.
type AgentConfig struct {
	Name         string         `toml:"name" mapstructure:"name"`
	Command      string         `toml:"command" mapstructure:"command"`
	WorkDir      string         `toml:"workdir" mapstructure:"workdir"`
	Env          []string       `toml:"env" mapstructure:"env"`
	PIDFile      string         `toml:"pidfile" mapstructure:"pidfile"`
	Grace        time.Duration  `toml:"grace" mapstructure:"grace"`
	ReadyTimeout time.Duration  `toml:"ready_timeout" mapstructure:"ready_timeout"`
	Log          *logger.Config `toml:"log" mapstructure:"log"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Listen     string
	HistoryDSN string
	AckTimeout time.Duration
	TLS        *tls.Config
	GlobalEnv  []string
	Agents     []host.AgentSpec
}

// Load reads a TOML config file and resolves it into runtime specs.
// A global [log] section becomes the default for agents without their own.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}

	genv, err := mergeEnv(fc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Listen:     fc.Listen,
		HistoryDSN: fc.HistoryDSN,
		AckTimeout: fc.AckTimeout,
		TLS:        fc.TLS,
		GlobalEnv:  genv,
	}

	seen := make(map[string]struct{})
	for _, ac := range fc.Agents {
		if strings.TrimSpace(ac.Name) == "" {
			return nil, fmt.Errorf("agent entry without a name")
		}
		if _, dup := seen[ac.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", ac.Name)
		}
		seen[ac.Name] = struct{}{}

		spec := host.AgentSpec{
			Name:         ac.Name,
			Command:      ac.Command,
			WorkDir:      ac.WorkDir,
			Env:          ac.Env,
			PIDFile:      ac.PIDFile,
			Grace:        ac.Grace,
			ReadyTimeout: ac.ReadyTimeout,
		}
		switch {
		case ac.Log != nil:
			spec.Log = *ac.Log
		case fc.Log != nil:
			spec.Log = *fc.Log
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		cfg.Agents = append(cfg.Agents, spec)
	}
	return cfg, nil
}

// mergeEnv builds the global environment: OS env (when enabled) as base,
// then env_files in order, then the top-level env list overriding last.
func mergeEnv(fc FileConfig) ([]string, error) {
	return env.Merge(fc.UseOSEnv, fc.EnvFiles, fc.Env)
}
