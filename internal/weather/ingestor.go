package weather

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/metrics"
)

const (
	keyLatest     = "weather:dht22"
	keyTimeSeries = "weather:dht22:timeseries"
	seriesMaxAge  = 24 * time.Hour
)

// Ingestor polls a Sensor at a fixed interval and stores successful
// reads to the Event Bus (spec.md §4.C). It owns the sensor handle
// exclusively, per spec.md §3.
type Ingestor struct {
	sensor   Sensor
	interval time.Duration
	b        *bus.Bus
	log      *logrus.Entry
}

func NewIngestor(sensor Sensor, interval time.Duration, b *bus.Bus, log *logrus.Entry) *Ingestor {
	return &Ingestor{sensor: sensor, interval: interval, b: b, log: log}
}

// Run is the Worker interface for internal/supervisor.
func (in *Ingestor) Run(ctx context.Context) {
	in.readOnce(ctx)

	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.readOnce(ctx)
		}
	}
}

func (in *Ingestor) readOnce(ctx context.Context) {
	sample, err := in.sensor.Read()
	if err != nil {
		metrics.WeatherReadsFailed.Inc()
		in.log.WithError(err).Warn("DHT22 read failed")
		return
	}
	metrics.WeatherReadsOK.Inc()

	fields := map[string]interface{}{
		"temperature": sample.TemperatureC,
		"humidity":    sample.HumidityPct,
		"timestamp":   sample.Timestamp.Format(time.RFC3339Nano),
		"sensor_type": "DHT22",
	}
	if err := in.b.SetLatestHash(ctx, keyLatest, fields, 0); err != nil {
		in.log.WithError(err).Error("failed to store weather:dht22 hash")
		return
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		in.log.WithError(err).Warn("failed to marshal weather sample for time-series")
		return
	}
	if err := in.b.AddToSortedSeries(ctx, keyTimeSeries, string(payload), float64(sample.Timestamp.Unix()), seriesMaxAge); err != nil {
		in.log.WithError(err).Error("failed to append weather time-series entry")
	}
}
