package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"REDIS_HOST", "REDIS_PORT", "DATABASE_PATH", "RETENTION_DAYS",
		"RADAR_UART_PORT", "RADAR_BAUD_RATE", "DHT22_GPIO_PIN",
		"DHT22_UPDATE_INTERVAL", "API_HOST", "API_PORT", "LOG_LEVEL",
		"POSTGRES_DSN", "THRESHOLDS_FILE",
	}
	for _, v := range vars {
		old, had := os.LookupEnv(v)
		os.Unsetenv(v)
		t.Cleanup(func() {
			if had {
				os.Setenv(v, old)
			}
		})
	}
}

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "localhost", cfg.RedisHost)
	require.Equal(t, 6379, cfg.RedisPort)
	require.Equal(t, 90, cfg.RetentionDays)
	require.Equal(t, 19200, cfg.RadarBaudRate)
	require.Equal(t, 8080, cfg.APIPort)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.PostgresDSN)
}

func TestLoad_InvalidIntFailsStartup(t *testing.T) {
	clearEnv(t)
	os.Setenv("REDIS_PORT", "not-a-number")
	_, err := Load()
	require.Error(t, err)
	var cfgErr *ErrConfig
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "REDIS_PORT", cfgErr.Field)
}

func TestLoad_OutOfRangePortFailsValidation(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_PORT", "99999")
	_, err := Load()
	require.Error(t, err)
}

func TestDefaultThresholds_NoiseBelowLowBelowHigh(t *testing.T) {
	thr := DefaultThresholds()
	require.Less(t, thr.NoiseThresholdMPH, thr.HighThresholdMPH)
	require.LessOrEqual(t, thr.NoiseThresholdMPH, thr.LowThresholdMPH)
}
