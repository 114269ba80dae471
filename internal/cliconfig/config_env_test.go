package cliconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"LOCKSTEP_SERVICE_NAME": "radard",
				"LOCKSTEP_LOG":          "/env/rlog.ndjson",
				"LOCKSTEP_REPEAT":       "4",
				"LOCKSTEP_GATE_TIMEOUT": "3s",
				"LOCKSTEP_FORMAT":       "json",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Service:     "radard",
				Log:         "/env/rlog.ndjson",
				Repeat:      4,
				GateTimeout: 3 * time.Second,
				Format:      "json",
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"LOCKSTEP_SERVICE_NAME": "radard",
				"LOCKSTEP_LOG":          "/env/rlog.ndjson",
			},
			changed:  map[string]bool{"service": true},
			initial:  Config{Service: "plannerd"},
			expected: Config{Service: "plannerd", Log: "/env/rlog.ndjson"},
		},
		{
			name: "returns error for invalid duration",
			envVars: map[string]string{
				"LOCKSTEP_POLL_WINDOW": "not-a-duration",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name: "returns error for invalid int",
			envVars: map[string]string{
				"LOCKSTEP_REPEAT": "many",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)
			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

// TestConfigPrecedence checks flags > env > file > defaults.
func TestConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
service = "file-service"
log = "/file/rlog.ndjson"
out = "/file/out.ndjson"
repeat = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOCKSTEP_LOG", "/env/rlog.ndjson")
	t.Setenv("LOCKSTEP_OUT", "/env/out.ndjson")

	cfg := DefaultConfig()
	cfg.Out = "/flag/out.ndjson"
	changed := map[string]bool{"out": true}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
		t.Fatal(err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.Service != "file-service" {
		t.Errorf("Service = %q, want file value", cfg.Service)
	}
	if cfg.Log != "/env/rlog.ndjson" {
		t.Errorf("Log = %q, want env value", cfg.Log)
	}
	if cfg.Out != "/flag/out.ndjson" {
		t.Errorf("Out = %q, want flag value", cfg.Out)
	}
	if cfg.Repeat != 2 {
		t.Errorf("Repeat = %d, want 2", cfg.Repeat)
	}
	if cfg.Parallel != DefaultConfig().Parallel {
		t.Errorf("Parallel = %d, want default", cfg.Parallel)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing: %q", out)
	}
}
