package correlator

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/models"
)

const (
	keyWeatherLocal    = "weather:dht22"
	keyWeatherExternal = "weather:airport:latest"
)

// correlateCamera implements spec.md §4.E step 3: walk the ring
// newest-first, pick the minimum-time-diff entry within window with a
// nonzero vehicle count. The ring is already newest-first (camera.Ring
// Snapshot), so ties resolve to the newest entry.
func correlateCamera(ring []models.CameraDetection, ts time.Time, window time.Duration) (models.CameraData, bool) {
	bestIdx := -1
	bestDiff := math.Inf(1)

	for i, c := range ring {
		if c.VehicleCount <= 0 {
			continue
		}
		diff := math.Abs(ts.Sub(c.Timestamp).Seconds())
		if diff <= window.Seconds() && diff < bestDiff {
			bestDiff = diff
			bestIdx = i
		}
	}

	if bestIdx == -1 {
		return models.CameraData{}, false
	}

	c := ring[bestIdx]
	return models.CameraData{
		VehicleCount:        c.VehicleCount,
		VehicleTypes:        c.VehicleTypes,
		PrimaryConfidence:   c.PrimaryConfidence,
		ImageID:             c.ImageID,
		ImagePath:           c.ImagePath,
		CorrelationTimeDiff: bestDiff,
	}, true
}

// fallbackCamera is the stub of spec.md §4.E step 3c.
func fallbackCamera() models.CameraData {
	return models.CameraData{
		VehicleCount:   1,
		FallbackReason: "no_camera_correlation",
	}
}

// attachWeather snapshots the local-sensor hash first, falling back to
// the external-API latest-value key, per spec.md §4.E step 4. Returns
// the zero value (Available=false) if neither is present. log may be
// nil in tests that don't care about the distinction between "no
// weather data yet" and "bus unreachable".
func attachWeather(ctx context.Context, b *bus.Bus, log *logrus.Entry) models.WeatherData {
	fields, ok, err := b.GetLatestHash(ctx, keyWeatherLocal)
	if err != nil {
		logWeatherErr(log, keyWeatherLocal, err)
	} else if ok {
		if wd, ok := parseWeatherHash(fields, "local_sensor"); ok {
			return wd
		}
	}

	raw, ok, err := b.GetLatest(ctx, keyWeatherExternal)
	if err != nil {
		logWeatherErr(log, keyWeatherExternal, err)
	} else if ok {
		if wd, ok := parseWeatherJSON(raw, "external_api"); ok {
			return wd
		}
	}

	return models.WeatherData{}
}

func logWeatherErr(log *logrus.Entry, key string, err error) {
	if log != nil {
		log.WithError(err).WithField("key", key).Warn("weather lookup failed")
	}
}

func parseWeatherHash(fields map[string]string, sourceTag string) (models.WeatherData, bool) {
	temp, err := strconv.ParseFloat(fields["temperature"], 64)
	if err != nil {
		return models.WeatherData{}, false
	}
	humidity, err := strconv.ParseFloat(fields["humidity"], 64)
	if err != nil {
		return models.WeatherData{}, false
	}
	observedAt := time.Now()
	if ts, err := time.Parse(time.RFC3339Nano, fields["timestamp"]); err == nil {
		observedAt = ts
	}
	return models.WeatherData{
		Available:    true,
		TemperatureC: temp,
		HumidityPct:  humidity,
		SourceTag:    sourceTag,
		ObservedAt:   observedAt,
	}, true
}

func parseWeatherJSON(raw string, sourceTag string) (models.WeatherData, bool) {
	var payload struct {
		TemperatureC float64 `json:"temperature_c"`
		HumidityPct  float64 `json:"humidity_pct"`
		Timestamp    string  `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return models.WeatherData{}, false
	}
	observedAt := time.Now()
	if ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp); err == nil {
		observedAt = ts
	}
	return models.WeatherData{
		Available:    true,
		TemperatureC: payload.TemperatureC,
		HumidityPct:  payload.HumidityPct,
		SourceTag:    sourceTag,
		ObservedAt:   observedAt,
	}, true
}
