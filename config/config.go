// Package config loads executor settings from a file and the environment.
//
// Settings resolve in the usual precedence: explicit file (if given), then
// SDKBRIDGE_* environment variables, then built-in defaults. All durations
// accept Go duration strings ("5s", "250ms").
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sdkbridge/codec"
)

// Config holds every knob of the executor and its worker.
type Config struct {
	// Worker process launch
	WorkerPath string   `mapstructure:"worker_path"`
	WorkerArgs []string `mapstructure:"worker_args"`

	// Application identity handed to the native library
	AppID uint32 `mapstructure:"app_id"`

	// Wire format: "json" or "binary"
	Codec string `mapstructure:"codec"`

	// Pre-spawn host probe; empty disables the check
	HostProcess string `mapstructure:"host_process"`

	// Timeouts. CallTimeout == 0 means calls block indefinitely (the native
	// layer has no cancellation primitive; a timeout abandons the worker).
	StartupTimeout    time.Duration `mapstructure:"startup_timeout"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Token-bucket throttle for outgoing calls; 0 disables
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerPath:     "sdkbridge",
		WorkerArgs:     []string{"worker"},
		AppID:          480,
		Codec:          "json",
		StartupTimeout: 5 * time.Second,
		ShutdownGrace:  5 * time.Second,
	}
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("worker_path", def.WorkerPath)
	v.SetDefault("worker_args", def.WorkerArgs)
	v.SetDefault("app_id", def.AppID)
	v.SetDefault("codec", def.Codec)
	v.SetDefault("host_process", "")
	v.SetDefault("startup_timeout", def.StartupTimeout)
	v.SetDefault("call_timeout", time.Duration(0))
	v.SetDefault("shutdown_grace", def.ShutdownGrace)
	v.SetDefault("heartbeat_interval", time.Duration(0))
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("rate_burst", 0)

	v.SetEnvPrefix("SDKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the executor cannot run with.
func (c *Config) Validate() error {
	switch c.Codec {
	case "json", "binary":
	default:
		return fmt.Errorf("unknown codec %q (want \"json\" or \"binary\")", c.Codec)
	}
	if c.WorkerPath == "" {
		return fmt.Errorf("worker_path must not be empty")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// CodecType maps the configured codec name to its wire constant.
func (c *Config) CodecType() codec.CodecType {
	if c.Codec == "binary" {
		return codec.CodecTypeBinary
	}
	return codec.CodecTypeJSON
}
