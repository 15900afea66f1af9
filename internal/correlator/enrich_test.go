package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/models"
)

func TestCorrelateCamera_PicksClosestWithinWindow(t *testing.T) {
	ts := time.Unix(4000, 0)
	ring := []models.CameraDetection{
		{ImageID: "IMG2", Timestamp: time.Unix(3990, 0), VehicleCount: 1},      // newest-first order, out of window
		{ImageID: "IMG1", Timestamp: time.Unix(3999, 500000000), VehicleCount: 2, VehicleTypes: []string{"car"}},
	}

	data, ok := correlateCamera(ring, ts, 10*time.Second)
	require.True(t, ok)
	assert.Equal(t, "IMG1", data.ImageID)
	assert.Equal(t, 2, data.VehicleCount)
	assert.InDelta(t, 0.5, data.CorrelationTimeDiff, 0.01)
}

func TestCorrelateCamera_SkipsZeroVehicleCountEntries(t *testing.T) {
	ts := time.Unix(4000, 0)
	ring := []models.CameraDetection{
		{ImageID: "IMG0", Timestamp: time.Unix(3999, 0), VehicleCount: 0},
	}
	_, ok := correlateCamera(ring, ts, 10*time.Second)
	assert.False(t, ok)
}

func TestCorrelateCamera_NoMatchOutsideWindow(t *testing.T) {
	ts := time.Unix(4000, 0)
	ring := []models.CameraDetection{
		{ImageID: "IMG0", Timestamp: time.Unix(3900, 0), VehicleCount: 3},
	}
	_, ok := correlateCamera(ring, ts, 10*time.Second)
	assert.False(t, ok)
}

func TestAttachWeather_PrefersLocalSensor(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.New(rdb)
	ctx := context.Background()

	require.NoError(t, b.SetLatestHash(ctx, keyWeatherLocal, map[string]interface{}{
		"temperature": 21.5,
		"humidity":    48.0,
		"timestamp":   time.Now().Format(time.RFC3339Nano),
	}, 0))

	wd := attachWeather(ctx, b, nil)
	assert.True(t, wd.Available)
	assert.Equal(t, "local_sensor", wd.SourceTag)
	assert.InDelta(t, 21.5, wd.TemperatureC, 0.01)
}

func TestAttachWeather_UnavailableWhenNeitherKeyPresent(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.New(rdb)

	wd := attachWeather(context.Background(), b, nil)
	assert.False(t, wd.Available)
}
