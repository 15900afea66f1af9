// Package correlator is the Correlator of spec.md §4.E, the heart of
// the pipeline: it consumes the radar stream, groups duplicate
// detections from the same physical vehicle, correlates the triggering
// detection with recent camera and weather data, and emits
// ConsolidatedRecords. Rewritten in place from the teacher's
// internal/nvr poller/dedup/enricher trio (event_poller.go,
// dedup_service.go/vehicle_dedup.go, enricher.go, event_model.go) —
// same consume-group/ack/publish shape, new domain semantics.
package correlator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/camera"
	"github.com/trafficmon/edge-pipeline/internal/config"
	"github.com/trafficmon/edge-pipeline/internal/metrics"
	"github.com/trafficmon/edge-pipeline/internal/models"
	"github.com/trafficmon/edge-pipeline/internal/syncutil"
)

const (
	streamRadar          = "traffic:radar"
	streamConsolidated   = "traffic:consolidated"
	groupConsolidator    = "consolidator-group"
	// channelConsolidatedQ must match internal/broker's channelConsolidated
	// (no shared import between the two packages).
	channelConsolidatedQ = "consolidated_data_queued"

	sweepInterval       = 30 * time.Second
	consumeBatch        = 10
	consumeBlock        = time.Second
	consumeErrorBackoff = 2 * time.Second

	// rollupRetention bounds RollupTracker's in-memory hour buckets; the
	// Persister owns long-term rollup history in daily_summary, so this
	// only needs to cover what Rollups() callers (health/debug reads)
	// plausibly still query.
	rollupRetention = 48 * time.Hour
)

// Correlator owns the VehicleGroup table exclusively (spec.md §3).
type Correlator struct {
	b          *bus.Bus
	groups     *GroupTable
	ring       *camera.Ring
	thresholds func() config.Thresholds
	rollups    *RollupTracker
	log        *logrus.Entry
	consumer   string
}

func New(b *bus.Bus, ring *camera.Ring, thresholds func() config.Thresholds, log *logrus.Entry) *Correlator {
	return &Correlator{
		b:          b,
		groups:     NewGroupTable(),
		ring:       ring,
		thresholds: thresholds,
		rollups:    NewRollupTracker(),
		log:        log,
		consumer:   "consolidator-" + randomHex(4),
	}
}

// Rollups exposes the in-memory hourly aggregates for health/debug reads.
func (c *Correlator) Rollups() *RollupTracker { return c.rollups }

// Run is the Worker interface for internal/supervisor.
func (c *Correlator) Run(ctx context.Context) {
	if err := c.b.EnsureGroup(ctx, streamRadar, groupConsolidator); err != nil {
		c.log.WithError(err).Error("failed to ensure consolidator-group")
	}

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			c.sweep()
		default:
		}

		entries, err := c.b.ConsumeGroup(ctx, streamRadar, groupConsolidator, c.consumer, consumeBatch, consumeBlock)
		if err != nil {
			c.log.WithError(err).Warn("consolidator-group consume failed, backing off")
			if !syncutil.SleepOrDone(ctx, consumeErrorBackoff) {
				return
			}
			continue
		}
		if len(entries) == 0 {
			continue
		}
		metrics.CorrelatorBatchesConsumed.Inc()
		for _, entry := range entries {
			c.handleEntry(ctx, entry)
		}
	}
}

func (c *Correlator) sweep() {
	maxAge := 2 * c.thresholds().GroupingWindow
	removed := c.groups.Sweep(time.Now(), maxAge)
	metrics.CorrelatorGroupsEvicted.Add(float64(removed))

	c.rollups.EvictOlderThan(time.Now().Add(-rollupRetention))
}

func (c *Correlator) handleEntry(ctx context.Context, entry bus.StreamEntry) {
	detection, err := parseDetection(entry.Fields)
	if err != nil {
		metrics.CorrelatorMessageErrors.Inc()
		c.log.WithError(err).WithField("message_id", entry.ID).Warn("malformed radar entry, dead-lettering")
		if ackErr := c.b.Ack(ctx, streamRadar, groupConsolidator, entry.ID); ackErr != nil {
			c.log.WithError(ackErr).WithField("message_id", entry.ID).Error("failed to ack dead-lettered radar entry")
		}
		return
	}

	t := c.thresholds()
	now := detection.Timestamp

	if group, matched := c.groups.Match(detection, now, t.GroupingWindow, t.SpeedVariationMPH); matched {
		group.Extend(detection)
		metrics.CorrelatorGroupsExtended.Inc()
		if err := c.b.Ack(ctx, streamRadar, groupConsolidator, entry.ID); err != nil {
			c.log.WithError(err).WithField("message_id", entry.ID).Error("failed to ack grouped radar entry")
		}
		return
	}

	groupID := fmt.Sprintf("vehicle_%d_%s", now.Unix(), randomHex(2))
	group := models.NewVehicleGroup(groupID, detection)
	c.groups.Add(group)
	metrics.CorrelatorGroupsCreated.Inc()

	record := c.buildRecord(ctx, group, detection, t)

	fields := map[string]interface{}{
		"correlation_id": record.CorrelationID,
		"timestamp":      record.Timestamp.Format(time.RFC3339Nano),
	}
	blob, err := json.Marshal(record)
	if err != nil {
		c.log.WithError(err).Error("failed to marshal consolidated record")
		return
	}
	fields["data"] = string(blob)

	if _, err := c.b.PublishStream(ctx, streamConsolidated, fields); err != nil {
		metrics.CorrelatorPublishFailures.Inc()
		c.log.WithError(err).WithField("correlation_id", record.CorrelationID).Error("failed to publish consolidated record; leaving radar entry unacked")
		return
	}
	metrics.CorrelatorRecordsEmitted.Inc()

	if err := c.b.PublishPubSub(ctx, channelConsolidatedQ, blob); err != nil {
		c.log.WithError(err).Warn("failed to publish consolidated_data_queued event")
	}

	if err := c.b.Ack(ctx, streamRadar, groupConsolidator, entry.ID); err != nil {
		c.log.WithError(err).WithField("message_id", entry.ID).Error("failed to ack radar entry after successful publish")
	}

	c.rollups.Record(record.Timestamp, detection.AlertLevel, models.Abs(detection.SpeedMPH))
}

func (c *Correlator) buildRecord(ctx context.Context, group *models.VehicleGroup, trigger models.VehicleDetection, t config.Thresholds) models.ConsolidatedRecord {
	cameraData, matched := correlateCamera(c.ring.Snapshot(), trigger.Timestamp, t.CameraWindow)
	method := models.MethodRadarOnly
	sources := []string{"radar"}
	if matched {
		metrics.CorrelatorCameraMatched.Inc()
		method = models.MethodRadarCameraCorrelated
		sources = append(sources, "camera")
	} else {
		metrics.CorrelatorCameraFallback.Inc()
		cameraData = fallbackCamera()
	}

	weather := attachWeather(ctx, c.b, c.log)
	if weather.Available {
		sources = append(sources, "weather")
	}

	return models.ConsolidatedRecord{
		ConsolidationID: fmt.Sprintf("consol_%d_%s", trigger.Timestamp.Unix(), randomHex(4)),
		CorrelationID:   group.FirstDetectionID(),
		Timestamp:       trigger.Timestamp,
		TriggerSource:   "radar",
		RadarDetection:  trigger,
		Direction:       trigger.Direction(),
		Weather:         weather,
		Camera:          cameraData,
		Metadata: models.ProcessingMetadata{
			SourcesUsed:         sources,
			ConsolidationMethod: method,
		},
	}
}

// parseDetection reconstructs a VehicleDetection from raw stream fields
// (spec.md §4.B publishes these as string-valued Redis stream fields).
func parseDetection(fields map[string]interface{}) (models.VehicleDetection, error) {
	speed, err := parseFloatField(fields, "speed")
	if err != nil {
		return models.VehicleDetection{}, err
	}
	speedMPS, err := parseFloatField(fields, "speed_mps")
	if err != nil {
		return models.VehicleDetection{}, err
	}

	detectionID, ok := fields["detection_id"].(string)
	if !ok || detectionID == "" {
		return models.VehicleDetection{}, fmt.Errorf("correlator: missing detection_id")
	}
	correlationID, _ := fields["correlation_id"].(string)
	if correlationID == "" {
		correlationID = detectionID
	}
	alertLevel, _ := fields["alert_level"].(string)
	if alertLevel == "" {
		return models.VehicleDetection{}, fmt.Errorf("correlator: missing alert_level")
	}

	ts := time.Now()
	if raw, ok := fields["_timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = parsed
		}
	}

	return models.VehicleDetection{
		DetectionID:   detectionID,
		CorrelationID: correlationID,
		Timestamp:     ts,
		SpeedMPH:      speed,
		SpeedMPS:      speedMPS,
		AlertLevel:    models.AlertLevel(alertLevel),
		Source:        "radar",
	}, nil
}

func parseFloatField(fields map[string]interface{}, key string) (float64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("correlator: missing field %q", key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("correlator: field %q not numeric: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("correlator: field %q has unexpected type %T", key, v)
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%0*x", n*2, time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
