package cliconfig

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds the LOCKSTEP_* environment overrides.
type EnvConfig struct {
	Service         string        `env:"LOCKSTEP_SERVICE_NAME"`
	Log             string        `env:"LOCKSTEP_LOG"`
	Out             string        `env:"LOCKSTEP_OUT"`
	Ref             string        `env:"LOCKSTEP_REF"`
	RegistryFile    string        `env:"LOCKSTEP_REGISTRY_FILE"`
	BaseDir         string        `env:"LOCKSTEP_BASE_DIR"`
	Repeat          int           `env:"LOCKSTEP_REPEAT"`
	Parallel        int           `env:"LOCKSTEP_PARALLEL"`
	GateTimeout     time.Duration `env:"LOCKSTEP_GATE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"LOCKSTEP_SHUTDOWN_TIMEOUT"`
	SettleDelay     time.Duration `env:"LOCKSTEP_SETTLE_DELAY"`
	StepSettle      time.Duration `env:"LOCKSTEP_STEP_SETTLE"`
	PollWindow      time.Duration `env:"LOCKSTEP_POLL_WINDOW"`
	MetricsAddr     string        `env:"LOCKSTEP_METRICS_ADDR"`
	LogLevel        string        `env:"LOCKSTEP_LOG_LEVEL"`
	Format          string        `env:"LOCKSTEP_FORMAT"`
}

// ApplyEnvConfig applies configuration from environment variables (LOCKSTEP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
//
// LOCKSTEP_SERVICE and LOCKSTEP_BUS_URL are reserved for the environment
// handed to subprocess services, so the service name is read from
// LOCKSTEP_SERVICE_NAME.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	var ec EnvConfig
	if err := env.Parse(&ec); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	s := newConfigSetter(changed)

	s.setString("service", ec.Service, &cfg.Service)
	s.setString("log", ec.Log, &cfg.Log)
	s.setString("out", ec.Out, &cfg.Out)
	s.setString("ref", ec.Ref, &cfg.Ref)
	s.setString("registry", ec.RegistryFile, &cfg.RegistryFile)
	s.setString("base-dir", ec.BaseDir, &cfg.BaseDir)
	s.setString("metrics-addr", ec.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", ec.LogLevel, &cfg.LogLevel)
	s.setString("format", ec.Format, &cfg.Format)

	s.setInt("repeat", ec.Repeat, &cfg.Repeat)
	s.setInt("parallel", ec.Parallel, &cfg.Parallel)

	s.setDurationValue("gate-timeout", ec.GateTimeout, &cfg.GateTimeout)
	s.setDurationValue("shutdown-timeout", ec.ShutdownTimeout, &cfg.ShutdownTimeout)
	s.setDurationValue("settle-delay", ec.SettleDelay, &cfg.SettleDelay)
	s.setDurationValue("step-settle", ec.StepSettle, &cfg.StepSettle)
	s.setDurationValue("poll-window", ec.PollWindow, &cfg.PollWindow)

	return nil
}
