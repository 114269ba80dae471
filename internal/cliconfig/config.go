package cliconfig

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/lockstep/internal/gate"
	"github.com/bft-labs/lockstep/internal/replay"
	"github.com/bft-labs/lockstep/internal/supervisor"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds CLI configuration for lockstep.
type Config struct {
	Service      string
	Log          string
	Out          string
	Ref          string
	RegistryFile string
	BaseDir      string

	Repeat   int
	Parallel int

	GateTimeout     time.Duration
	ShutdownTimeout time.Duration
	SettleDelay     time.Duration
	StepSettle      time.Duration
	PollWindow      time.Duration

	MetricsAddr string
	LogLevel    string
	Format      string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Repeat:          1,
		Parallel:        4,
		GateTimeout:     gate.DefaultTimeout,
		ShutdownTimeout: supervisor.ShutdownTimeout,
		SettleDelay:     supervisor.StartupSettle,
		StepSettle:      replay.StepSettle,
		PollWindow:      replay.PollWindow,
		LogLevel:        "info",
		Format:          FormatText,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Repeat < 1 {
		return fmt.Errorf("repeat must be at least 1")
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1")
	}

	if c.GateTimeout <= 0 {
		return fmt.Errorf("gate timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.SettleDelay <= 0 {
		return fmt.Errorf("settle delay must be positive")
	}
	if c.StepSettle < 0 {
		return fmt.Errorf("step settle must not be negative")
	}
	if c.PollWindow <= 0 {
		return fmt.Errorf("poll window must be positive")
	}

	if c.Format == "" {
		c.Format = FormatText
	}
	if c.Format != FormatText && c.Format != FormatJSON {
		return fmt.Errorf("format must be %q or %q", FormatText, FormatJSON)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setDurationValue sets an already parsed duration if positive and flag not changed.
func (s *configSetter) setDurationValue(flag string, value time.Duration, dst *time.Duration) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}
