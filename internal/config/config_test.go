package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Errorf("Expected addr %s, got %s", DefaultHTTPAddr, cfg.Server.Addr)
	}
	if cfg.Session.Policy != PolicyCooperative {
		t.Errorf("Expected cooperative policy, got %s", cfg.Session.Policy)
	}
	if cfg.ChimeIn.MaxPending != DefaultMaxPendingChimeIns {
		t.Errorf("Expected max pending %d, got %d", DefaultMaxPendingChimeIns, cfg.ChimeIn.MaxPending)
	}
	if cfg.AutoFix.MaxAttempts != 3 {
		t.Errorf("Expected 3 fix attempts, got %d", cfg.AutoFix.MaxAttempts)
	}
	if !cfg.AutoFix.Exclusive {
		t.Error("Expected auto-fix to be exclusive by default")
	}
	if cfg.Loop.Interval != DefaultLoopInterval {
		t.Errorf("Expected loop interval %v, got %v", DefaultLoopInterval, cfg.Loop.Interval)
	}
	if cfg.Storage.Driver != StorageMemory {
		t.Errorf("Expected memory storage, got %s", cfg.Storage.Driver)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistant.yaml")
	content := `
session:
  policy: preemptive
  workdir: /srv/project
chimein:
  max_pending: 4
loop:
  enabled: true
  interval: 30s
storage:
  driver: sqlite
  dsn: file:audit.db
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Session.Policy != PolicyPreemptive {
		t.Errorf("Expected preemptive policy, got %s", cfg.Session.Policy)
	}
	if cfg.Session.WorkDir != "/srv/project" {
		t.Errorf("Expected workdir /srv/project, got %s", cfg.Session.WorkDir)
	}
	if cfg.ChimeIn.MaxPending != 4 {
		t.Errorf("Expected max pending 4, got %d", cfg.ChimeIn.MaxPending)
	}
	if !cfg.Loop.Enabled || cfg.Loop.Interval != 30*time.Second {
		t.Errorf("Expected enabled loop at 30s, got %v/%v", cfg.Loop.Enabled, cfg.Loop.Interval)
	}
	if cfg.Storage.Driver != StorageSQLite || cfg.Storage.DSN != "file:audit.db" {
		t.Errorf("Unexpected storage config: %+v", cfg.Storage)
	}
	// untouched keys keep their defaults
	if cfg.AutoFix.MaxAttempts != DefaultFixMaxAttempts {
		t.Errorf("Expected default fix attempts, got %d", cfg.AutoFix.MaxAttempts)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("ASSISTANT_SESSION_POLICY", "preemptive")
	t.Setenv("ASSISTANT_CHIMEIN_MAX_PENDING", "2")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Session.Policy != PolicyPreemptive {
		t.Errorf("Expected env policy override, got %s", cfg.Session.Policy)
	}
	if cfg.ChimeIn.MaxPending != 2 {
		t.Errorf("Expected env max pending override, got %d", cfg.ChimeIn.MaxPending)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"unknown policy", func(c *Config) { c.Session.Policy = "lifo" }, "session.policy"},
		{"zero chime-in bound", func(c *Config) { c.ChimeIn.MaxPending = 0 }, "chimein.max_pending"},
		{"zero fix budget", func(c *Config) { c.AutoFix.MaxAttempts = 0 }, "autofix.max_attempts"},
		{"zero record ttl", func(c *Config) { c.AutoFix.RecordTTL = 0 }, "autofix.record_ttl"},
		{"enabled loop without interval", func(c *Config) {
			c.Loop.Enabled = true
			c.Loop.Interval = 0
		}, "loop.interval"},
		{"enabled loop without retry budget", func(c *Config) {
			c.Loop.Enabled = true
			c.Loop.MaxAttempts = 0
		}, "max_attempts"},
		{"enabled loop with inverted retry delays", func(c *Config) {
			c.Loop.Enabled = true
			c.Loop.RetryInitialDelay = time.Minute
			c.Loop.RetryMaxDelay = time.Second
		}, "InitialDelay cannot be greater than MaxDelay"},
		{"disabled loop ignores retry budget", func(c *Config) { c.Loop.MaxAttempts = 0 }, ""},
		{"sqlite without dsn", func(c *Config) { c.Storage.Driver = StorageSQLite }, "storage.dsn"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoopConfig_RetryPolicy(t *testing.T) {
	cfg := Default()
	p := cfg.Loop.RetryPolicy()
	if p.MaxAttempts != DefaultLoopMaxAttempts {
		t.Errorf("Expected %d loop attempts, got %d", DefaultLoopMaxAttempts, p.MaxAttempts)
	}
	if p.InitialDelay != DefaultLoopRetryInitialDelay || p.MaxDelay != DefaultLoopRetryMaxDelay {
		t.Errorf("Expected default loop delays, got %v/%v", p.InitialDelay, p.MaxDelay)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Expected default loop retry to validate, got %v", err)
	}

	v := viper.New()
	t.Setenv("ASSISTANT_LOOP_MAX_ATTEMPTS", "5")
	loaded, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := loaded.Loop.RetryPolicy().MaxAttempts; got != 5 {
		t.Errorf("Expected env loop attempts 5, got %d", got)
	}
}
