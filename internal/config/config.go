package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go-simpler.org/env"
	"gopkg.in/yaml.v3"

	"github.com/maypaper/maypaper/internal/ipc"
	"github.com/maypaper/maypaper/internal/logging"
)

type Config struct {
	// Socket is the control socket path.
	Socket  string        `yaml:"socket"`
	IPC     IPCConfig     `yaml:"ipc"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Lease   LeaseConfig   `yaml:"lease"`
	Logging LoggingConfig `yaml:"logging"`
}

type IPCConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	AllowOtherUsers bool          `yaml:"allow_other_users"`
}

type BridgeConfig struct {
	Listen         string        `yaml:"listen"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Throttle       time.Duration `yaml:"throttle"`
	Token          string        `yaml:"token"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LeaseConfig struct {
	// Host is the interface lease servers bind to.
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverrides are applied on top of the file.
type envOverrides struct {
	Socket       string `env:"MAYPAPER_SOCKET"`
	BridgeListen string `env:"MAYPAPER_BRIDGE_LISTEN"`
	BridgeToken  string `env:"MAYPAPER_BRIDGE_TOKEN"`
	LeaseHost    string `env:"MAYPAPER_LEASE_HOST"`
	LogLevel     string `env:"MAYPAPER_LOG_LEVEL"`
	LogFormat    string `env:"MAYPAPER_LOG_FORMAT"`
}

func Default() *Config {
	return &Config{
		Socket: ipc.DefaultSocketPath(),
		IPC: IPCConfig{
			ReadTimeout:     5 * time.Second,
			MaxMessageBytes: 64 * 1024,
		},
		Bridge: BridgeConfig{
			Listen:       "127.0.0.1:7878",
			PingInterval: 30 * time.Second,
			Throttle:     100 * time.Millisecond,
		},
		Lease: LeaseConfig{
			Host:            "127.0.0.1",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/maypaper/config.yaml, falling back to
// ~/.config.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "maypaper", "config.yaml")
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv overrides fields from MAYPAPER_* environment variables.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Load(&o, nil); err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Socket, o.Socket)
	set(&c.Bridge.Listen, o.BridgeListen)
	set(&c.Bridge.Token, o.BridgeToken)
	set(&c.Lease.Host, o.LeaseHost)
	set(&c.Logging.Level, o.LogLevel)
	set(&c.Logging.Format, o.LogFormat)
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Socket == "" {
		errs = append(errs, errors.New("socket: must not be empty"))
	}
	if c.IPC.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ipc.read_timeout: must be positive, got %s", c.IPC.ReadTimeout))
	}
	if c.IPC.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("ipc.max_message_bytes: must be positive, got %d", c.IPC.MaxMessageBytes))
	}
	if c.Bridge.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Bridge.Listen); err != nil {
			errs = append(errs, fmt.Errorf("bridge.listen: %w", err))
		}
	}
	if c.Bridge.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("bridge.ping_interval: must be positive, got %s", c.Bridge.PingInterval))
	}
	if c.Bridge.Throttle < 0 {
		errs = append(errs, fmt.Errorf("bridge.throttle: must not be negative, got %s", c.Bridge.Throttle))
	}
	if c.Lease.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lease.shutdown_timeout: must be positive, got %s", c.Lease.ShutdownTimeout))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: want text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
