package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Service         string `toml:"service"`
	Log             string `toml:"log"`
	Out             string `toml:"out"`
	Ref             string `toml:"ref"`
	RegistryFile    string `toml:"registry_file"`
	BaseDir         string `toml:"base_dir"`
	Repeat          int    `toml:"repeat"`
	Parallel        int    `toml:"parallel"`
	GateTimeout     string `toml:"gate_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	SettleDelay     string `toml:"settle_delay"`
	StepSettle      string `toml:"step_settle"`
	PollWindow      string `toml:"poll_window"`
	MetricsAddr     string `toml:"metrics_addr"`
	LogLevel        string `toml:"log_level"`
	Format          string `toml:"format"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.lockstep/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".lockstep", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service", fc.Service, &cfg.Service)
	s.setString("log", fc.Log, &cfg.Log)
	s.setString("out", fc.Out, &cfg.Out)
	s.setString("ref", fc.Ref, &cfg.Ref)
	s.setString("registry", fc.RegistryFile, &cfg.RegistryFile)
	s.setString("base-dir", fc.BaseDir, &cfg.BaseDir)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("format", fc.Format, &cfg.Format)

	s.setInt("repeat", fc.Repeat, &cfg.Repeat)
	s.setInt("parallel", fc.Parallel, &cfg.Parallel)

	if err := s.setDuration("gate-timeout", fc.GateTimeout, &cfg.GateTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("settle-delay", fc.SettleDelay, &cfg.SettleDelay); err != nil {
		return err
	}
	if err := s.setDuration("step-settle", fc.StepSettle, &cfg.StepSettle); err != nil {
		return err
	}
	if err := s.setDuration("poll-window", fc.PollWindow, &cfg.PollWindow); err != nil {
		return err
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
