package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the configuration loaded at startup. The demo binaries
// populate it via ReadConfig before creating the bTCP core.
var AppConfig *Config

// Config is the yaml-backed runtime configuration for a bTCP endpoint.
type Config struct {
	// Protocol parameters
	Window         int `yaml:"window"`           // max outstanding unacked segments, 1-255
	TimeoutMs      int `yaml:"timeout_ms"`       // retransmission timeout in milliseconds
	MaxRetries     int `yaml:"max_retries"`      // resend attempts before the connection is aborted
	TickIntervalMs int `yaml:"tick_interval_ms"` // network loop tick interval in milliseconds
	MaxPayloadSize int `yaml:"max_payload_size"` // max payload bytes per segment

	// Buffering
	SendBufferSize  int `yaml:"send_buffer_size"`  // application send buffer in bytes
	RecvBufferSize  int `yaml:"recv_buffer_size"`  // application receive buffer in bytes
	PayloadPoolSize int `yaml:"payload_pool_size"` // number of payload chunks in the ring pool

	// Ambient
	LogLevel string        `yaml:"log_level"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls the optional prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	HealthPath string `yaml:"health_path"`
}

// DefaultConfig returns a Config with working defaults. The defaults favour
// quick retransmission so the protocol converges fast on lossy links.
func DefaultConfig() *Config {
	return &Config{
		Window:          16,
		TimeoutMs:       100,
		MaxRetries:      25,
		TickIntervalMs:  10,
		MaxPayloadSize:  1008,
		SendBufferSize:  64 * 1024,
		RecvBufferSize:  64 * 1024,
		PayloadPoolSize: 2000,
		LogLevel:        "info",
		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":9321",
			Path:       "/metrics",
			HealthPath: "/healthz",
		},
	}
}

// ReadConfig loads configuration from a yaml file, applying defaults for any
// field the file omits. A missing file is not an error: defaults are used.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validating config file %s", path)
	}

	return cfg, nil
}

// Validate rejects configurations the protocol cannot run with. The window
// bound comes from the 8-bit window field in the segment header.
func (c *Config) Validate() error {
	if c.Window < 1 || c.Window > 255 {
		return errors.Errorf("window must be between 1 and 255, got %d", c.Window)
	}
	if c.TimeoutMs <= 0 {
		return errors.Errorf("timeout_ms must be positive, got %d", c.TimeoutMs)
	}
	if c.MaxRetries < 1 {
		return errors.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.TickIntervalMs <= 0 {
		return errors.Errorf("tick_interval_ms must be positive, got %d", c.TickIntervalMs)
	}
	if c.MaxPayloadSize < 2 || c.MaxPayloadSize > 65535-10 {
		return errors.Errorf("max_payload_size must be between 2 and 65525, got %d", c.MaxPayloadSize)
	}
	if c.SendBufferSize < c.MaxPayloadSize {
		return errors.Errorf("send_buffer_size (%d) must hold at least one payload (%d)", c.SendBufferSize, c.MaxPayloadSize)
	}
	if c.RecvBufferSize < c.MaxPayloadSize {
		return errors.Errorf("recv_buffer_size (%d) must hold at least one payload (%d)", c.RecvBufferSize, c.MaxPayloadSize)
	}
	if c.PayloadPoolSize < 2*c.Window {
		return errors.Errorf("payload_pool_size (%d) must be at least twice the window (%d)", c.PayloadPoolSize, c.Window)
	}
	return nil
}
