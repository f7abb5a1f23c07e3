package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stormsync/stormsync/internal/core/loop"
	"github.com/stormsync/stormsync/internal/core/observability/log"
)

// Config holds server configuration. Durations are expressed in
// milliseconds in the YAML file.
type Config struct {
	// Network settings
	ListenAddr  string `yaml:"listen_addr"`
	Transport   string `yaml:"transport"` // "quic" or "websocket"
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// Simulation settings
	TickRate       int        `yaml:"tick_rate"`
	MaxFrameTimeMs int        `yaml:"max_frame_time_ms"`
	Gravity        float64    `yaml:"gravity"`
	SpawnPosition  [3]float64 `yaml:"spawn_position"`

	// Synchronization settings
	SnapshotIntervalMs   int     `yaml:"snapshot_interval_ms"`
	InterpolationDelayMs int     `yaml:"interpolation_delay_ms"`
	MaxHorizontalSpeed   float64 `yaml:"max_horizontal_speed"`
	JumpSpeed            float64 `yaml:"jump_speed"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Clock is injected for deterministic tests; nil means wall clock.
	Clock loop.Clock `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:           "127.0.0.1:7350",
		Transport:            "quic",
		TickRate:             60,
		MaxFrameTimeMs:       250,
		Gravity:              -9.81,
		SpawnPosition:        [3]float64{0, 1, 0},
		SnapshotIntervalMs:   50,
		InterpolationDelayMs: 100,
		MaxHorizontalSpeed:   10,
		JumpSpeed:            5,
		LogLevel:             "info",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) MaxFrameTime() time.Duration {
	return time.Duration(c.MaxFrameTimeMs) * time.Millisecond
}

func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMs) * time.Millisecond
}

func (c Config) InterpolationDelay() time.Duration {
	return time.Duration(c.InterpolationDelayMs) * time.Millisecond
}

func (c Config) Level() log.Level {
	switch c.LogLevel {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
