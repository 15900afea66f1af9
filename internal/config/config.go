// Package config builds the immutable Config record the rest of the
// pipeline is constructed from. Loading follows the teacher's own
// direct-os.Getenv-with-validated-defaults style (see the original
// cmd/server/main.go); this package only collects that into one
// constructor instead of inlining it in main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is an immutable value threaded by value into every component
// constructor. Nothing downstream mutates it.
type Config struct {
	RedisHost string
	RedisPort int

	DatabasePath string
	RetentionDays int

	RadarUARTPort string
	RadarBaudRate int

	DHT22GPIOPin        int
	DHT22UpdateInterval time.Duration

	APIHost string
	APIPort int

	LogLevel string

	// PostgresDSN is optional; empty disables the persister's secondary
	// mirror store entirely (spec.md §9 open question, resolved as
	// non-authoritative-on-failure — see internal/persister).
	PostgresDSN string

	// ThresholdsFile is the optional YAML overlay internal/config.ThresholdWatcher
	// hot-reloads (spec.md §6's "minimum recognized set" doesn't name it;
	// it's additive, operator-tunable runtime config). Empty defers to
	// internal/platform/paths' data-root layout.
	ThresholdsFile string

	Thresholds Thresholds
}

// Thresholds are the only values this pipeline allows an operator to
// hot-reload without a restart (internal/config.ThresholdWatcher overlays
// these from a YAML file on top of the built-in defaults below).
type Thresholds struct {
	NoiseThresholdMPH float64       `yaml:"noise_threshold_mph"`
	LowThresholdMPH   float64       `yaml:"low_threshold_mph"`
	HighThresholdMPH  float64       `yaml:"high_threshold_mph"`
	GroupingWindow    time.Duration `yaml:"grouping_window"`
	SpeedVariationMPH float64       `yaml:"speed_variation_mph"`
	CameraWindow      time.Duration `yaml:"camera_window"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		NoiseThresholdMPH: 2.0,
		LowThresholdMPH:   2.0,
		HighThresholdMPH:  26.0,
		GroupingWindow:    3 * time.Second,
		SpeedVariationMPH: 5.0,
		CameraWindow:      10 * time.Second,
	}
}

// ErrConfig wraps a configuration validation failure. main maps this to
// exit code 2 per spec.md §6.
type ErrConfig struct {
	Field string
	Err   error
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("config: invalid %s: %v", e.Field, e.Err)
}

func (e *ErrConfig) Unwrap() error { return e.Err }

// Load reads and validates the environment variables enumerated in
// spec.md §6. Each has a validated default; an explicitly-set but
// unparseable value is a startup failure, not a silent fallback.
func Load() (Config, error) {
	cfg := Config{
		RedisHost:           getenv("REDIS_HOST", "localhost"),
		DatabasePath:        getenv("DATABASE_PATH", ""),
		RadarUARTPort:       getenv("RADAR_UART_PORT", "/dev/ttyAMA0"),
		DHT22UpdateInterval: 600 * time.Second,
		APIHost:             getenv("API_HOST", "0.0.0.0"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		PostgresDSN:         getenv("POSTGRES_DSN", ""),
		ThresholdsFile:      getenv("THRESHOLDS_FILE", ""),
		Thresholds:          DefaultThresholds(),
	}

	var err error
	if cfg.RedisPort, err = getenvInt("REDIS_PORT", 6379); err != nil {
		return Config{}, &ErrConfig{"REDIS_PORT", err}
	}
	if cfg.RetentionDays, err = getenvInt("RETENTION_DAYS", 90); err != nil {
		return Config{}, &ErrConfig{"RETENTION_DAYS", err}
	}
	if cfg.RadarBaudRate, err = getenvInt("RADAR_BAUD_RATE", 19200); err != nil {
		return Config{}, &ErrConfig{"RADAR_BAUD_RATE", err}
	}
	if cfg.DHT22GPIOPin, err = getenvInt("DHT22_GPIO_PIN", 4); err != nil {
		return Config{}, &ErrConfig{"DHT22_GPIO_PIN", err}
	}
	if raw := os.Getenv("DHT22_UPDATE_INTERVAL"); raw != "" {
		secs, perr := strconv.Atoi(raw)
		if perr != nil {
			return Config{}, &ErrConfig{"DHT22_UPDATE_INTERVAL", perr}
		}
		cfg.DHT22UpdateInterval = time.Duration(secs) * time.Second
	}
	if cfg.APIPort, err = getenvInt("API_PORT", 8080); err != nil {
		return Config{}, &ErrConfig{"API_PORT", err}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return &ErrConfig{"REDIS_PORT", fmt.Errorf("out of range: %d", c.RedisPort)}
	}
	if c.RetentionDays <= 0 {
		return &ErrConfig{"RETENTION_DAYS", fmt.Errorf("must be positive: %d", c.RetentionDays)}
	}
	if c.RadarBaudRate <= 0 {
		return &ErrConfig{"RADAR_BAUD_RATE", fmt.Errorf("must be positive: %d", c.RadarBaudRate)}
	}
	if c.DHT22GPIOPin < 0 {
		return &ErrConfig{"DHT22_GPIO_PIN", fmt.Errorf("must be non-negative: %d", c.DHT22GPIOPin)}
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return &ErrConfig{"API_PORT", fmt.Errorf("out of range: %d", c.APIPort)}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return &ErrConfig{"LOG_LEVEL", err}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
