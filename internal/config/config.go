package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AltairaLabs/assistant-server/internal/orchestrator/retry"
)

// EnvPrefix is prepended to every environment override, e.g. ASSISTANT_SERVER_ADDR
const EnvPrefix = "ASSISTANT"

// Busy policy names accepted by session.policy
const (
	PolicyCooperative = "cooperative"
	PolicyPreemptive  = "preemptive"
)

// Storage drivers accepted by storage.driver
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config is the full server configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	ChimeIn ChimeInConfig `mapstructure:"chimein"`
	AutoFix AutoFixConfig `mapstructure:"autofix"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	// Addr serves the websocket gateway, MCP endpoint, /health and /metrics
	Addr string `mapstructure:"addr"`
	// GRPCAddr serves the gRPC health service; empty disables it
	GRPCAddr string `mapstructure:"grpc_addr"`
	// WriteTimeout is the per-event websocket write deadline
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendBuffer is the per-client outbound buffer
	SendBuffer int `mapstructure:"send_buffer"`
}

// SessionConfig holds orchestrator settings
type SessionConfig struct {
	// WorkDir is the working directory of the initial session
	WorkDir string `mapstructure:"workdir"`
	// Policy selects how a chat arriving while busy is handled
	Policy string `mapstructure:"policy"`
	// CloseTimeout bounds teardown on workspace switch or shutdown
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
	// Runtime selects the in-process runtime implementation
	Runtime string `mapstructure:"runtime"`
}

// ChimeInConfig bounds the chime-in queue
type ChimeInConfig struct {
	MaxPending int `mapstructure:"max_pending"`
}

// AutoFixConfig controls the self-healing loop for generated components
type AutoFixConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	// Exclusive routes repair invocations through the task guard
	Exclusive bool          `mapstructure:"exclusive"`
	RecordTTL time.Duration `mapstructure:"record_ttl"`
}

// LoopConfig controls the background agent loop
type LoopConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Prompt   string        `mapstructure:"prompt"`
	// MaxAttempts bounds runtime invocations within one tick, counting the first
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

// RetryPolicy returns the per-tick retry budget of the loop
func (l LoopConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       l.MaxAttempts,
		InitialDelay:      l.RetryInitialDelay,
		MaxDelay:          l.RetryMaxDelay,
		BackoffMultiplier: 2.0,
	}
}

// StorageConfig selects the audit store
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig controls slog output
type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// SetDefaults registers every key with its default so env overrides are picked up
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultHTTPAddr)
	v.SetDefault("server.grpc_addr", DefaultGRPCAddr)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.send_buffer", DefaultClientSendBuffer)
	v.SetDefault("session.workdir", ".")
	v.SetDefault("session.policy", PolicyCooperative)
	v.SetDefault("session.close_timeout", DefaultCloseTimeout)
	v.SetDefault("session.runtime", "echo")
	v.SetDefault("chimein.max_pending", DefaultMaxPendingChimeIns)
	v.SetDefault("autofix.max_attempts", DefaultFixMaxAttempts)
	v.SetDefault("autofix.exclusive", true)
	v.SetDefault("autofix.record_ttl", DefaultFixRecordTTL)
	v.SetDefault("loop.enabled", false)
	v.SetDefault("loop.interval", DefaultLoopInterval)
	v.SetDefault("loop.prompt", "Continue working on the current goal.")
	v.SetDefault("loop.max_attempts", DefaultLoopMaxAttempts)
	v.SetDefault("loop.retry_initial_delay", DefaultLoopRetryInitialDelay)
	v.SetDefault("loop.retry_max_delay", DefaultLoopRetryMaxDelay)
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("log.debug", false)
}

// Load reads defaults, then the optional config file, then ASSISTANT_* env overrides
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied
func Default() *Config {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		// defaults always validate
		panic(err)
	}
	return cfg
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Session.Policy {
	case PolicyCooperative, PolicyPreemptive:
	default:
		errs = append(errs, fmt.Errorf("session.policy must be %q or %q, got %q",
			PolicyCooperative, PolicyPreemptive, c.Session.Policy))
	}
	if c.ChimeIn.MaxPending <= 0 {
		errs = append(errs, errors.New("chimein.max_pending must be positive"))
	}
	if c.AutoFix.MaxAttempts <= 0 {
		errs = append(errs, errors.New("autofix.max_attempts must be positive"))
	}
	if c.AutoFix.RecordTTL <= 0 {
		errs = append(errs, errors.New("autofix.record_ttl must be positive"))
	}
	if c.Loop.Enabled && c.Loop.Interval <= 0 {
		errs = append(errs, errors.New("loop.interval must be positive when the loop is enabled"))
	}
	if c.Loop.Enabled {
		p := c.Loop.RetryPolicy()
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("loop retry (max_attempts, retry_initial_delay, retry_max_delay): %w", err))
		}
	}
	if c.Server.SendBuffer <= 0 {
		errs = append(errs, errors.New("server.send_buffer must be positive"))
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}
