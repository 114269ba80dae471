package cliconfig

import (
	"testing"
	"time"

	"github.com/bft-labs/lockstep/internal/gate"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Repeat != 1 {
		t.Errorf("Repeat = %v, want 1", cfg.Repeat)
	}
	if cfg.GateTimeout != gate.DefaultTimeout {
		t.Errorf("GateTimeout = %v, want %v", cfg.GateTimeout, gate.DefaultTimeout)
	}
	if cfg.StepSettle != 100*time.Millisecond {
		t.Errorf("StepSettle = %v, want 100ms", cfg.StepSettle)
	}
	if cfg.Format != FormatText {
		t.Errorf("Format = %v, want %v", cfg.Format, FormatText)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero step settle allowed", mutate: func(c *Config) { c.StepSettle = 0 }},
		{name: "json format", mutate: func(c *Config) { c.Format = FormatJSON }},
		{name: "zero repeat", mutate: func(c *Config) { c.Repeat = 0 }, wantErr: true},
		{name: "zero parallel", mutate: func(c *Config) { c.Parallel = 0 }, wantErr: true},
		{name: "zero gate timeout", mutate: func(c *Config) { c.GateTimeout = 0 }, wantErr: true},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: true},
		{name: "zero settle delay", mutate: func(c *Config) { c.SettleDelay = 0 }, wantErr: true},
		{name: "negative step settle", mutate: func(c *Config) { c.StepSettle = -time.Millisecond }, wantErr: true},
		{name: "zero poll window", mutate: func(c *Config) { c.PollWindow = 0 }, wantErr: true},
		{name: "unknown format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Derivations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = ""
	cfg.LogLevel = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if cfg.Format != FormatText {
		t.Errorf("Format = %q, want %q", cfg.Format, FormatText)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}
