package correlator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/camera"
	"github.com/trafficmon/edge-pipeline/internal/config"
	"github.com/trafficmon/edge-pipeline/internal/models"
	"github.com/trafficmon/edge-pipeline/internal/obslog"
)

func newTestCorrelator(t *testing.T) (*Correlator, *bus.Bus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.New(rdb)
	log := obslog.New("correlator", "error")
	thresholds := func() config.Thresholds { return config.DefaultThresholds() }

	c := New(b, camera.NewRing(100), thresholds, log)
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, streamRadar, groupConsolidator))
	require.NoError(t, b.EnsureGroup(ctx, streamConsolidated, "test-reader"))

	return c, b, ctx
}

func radarFields(detectionID string, speedMPH float64, ts time.Time) map[string]interface{} {
	return map[string]interface{}{
		"speed":          speedMPH,
		"speed_mps":      speedMPH / 2.237,
		"magnitude":      "m",
		"unit":           "mph",
		"alert_level":    "low",
		"detection_id":   detectionID,
		"correlation_id": detectionID,
		"_timestamp":     ts.Format(time.RFC3339Nano),
		"_raw":           `"m",` + time.Now().String(),
		"_source":        "radar",
		"_format":        "csv_mag_speed",
	}
}

func consumeOneConsolidated(t *testing.T, b *bus.Bus, ctx context.Context) []bus.StreamEntry {
	t.Helper()
	entries, err := b.ConsumeGroup(ctx, streamConsolidated, "test-reader", "reader-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	return entries
}

func TestCorrelator_S1_SingleDetectionEmitsOneConsolidatedRecord(t *testing.T) {
	c, b, ctx := newTestCorrelator(t)

	ts := time.Unix(1000, 0)
	id, err := b.PublishStream(ctx, streamRadar, radarFields("det1", 12.3, ts))
	require.NoError(t, err)

	entries, err := b.ConsumeGroup(ctx, streamRadar, groupConsolidator, "c1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].ID)

	c.handleEntry(ctx, entries[0])

	out := consumeOneConsolidated(t, b, ctx)
	require.Len(t, out, 1)

	var record models.ConsolidatedRecord
	require.NoError(t, json.Unmarshal([]byte(out[0].Fields["data"].(string)), &record))
	assert.Equal(t, "det1", record.CorrelationID)
	assert.Equal(t, "receding", record.Direction)
	assert.InDelta(t, 12.3, record.RadarDetection.SpeedMPH, 0.01)
	assert.Equal(t, models.MethodRadarOnly, record.Metadata.ConsolidationMethod)
}

func TestCorrelator_DuplicateWithinWindowIsGroupedNotEmitted(t *testing.T) {
	c, b, ctx := newTestCorrelator(t)

	base := time.Now()
	entries := []bus.StreamEntry{
		{ID: "1-1", Fields: radarFields("det1", 20.0, base)},
		{ID: "1-2", Fields: radarFields("det2", 22.0, base.Add(time.Second))},
	}

	c.handleEntry(ctx, entries[0])
	c.handleEntry(ctx, entries[1])

	out := consumeOneConsolidated(t, b, ctx)
	require.Len(t, out, 1, "second detection should be absorbed into the first vehicle group, not emit a new record")

	assert.Equal(t, 1, c.groups.Len())
}

func TestCorrelator_S4_CameraCorrelationAttached(t *testing.T) {
	c, b, ctx := newTestCorrelator(t)

	c.ring.Push(models.CameraDetection{
		ImageID:      "IMG1",
		Timestamp:    time.Unix(3999, 500000000),
		VehicleCount: 2,
		VehicleTypes: []string{"car"},
	})

	ts := time.Unix(4000, 0)
	id, err := b.PublishStream(ctx, streamRadar, radarFields("det1", 20.0, ts))
	require.NoError(t, err)

	entries, err := b.ConsumeGroup(ctx, streamRadar, groupConsolidator, "c1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].ID)

	c.handleEntry(ctx, entries[0])

	out := consumeOneConsolidated(t, b, ctx)
	require.Len(t, out, 1)

	var record models.ConsolidatedRecord
	require.NoError(t, json.Unmarshal([]byte(out[0].Fields["data"].(string)), &record))
	assert.Equal(t, 2, record.Camera.VehicleCount)
	assert.Equal(t, []string{"car"}, record.Camera.VehicleTypes)
	assert.Equal(t, "IMG1", record.Camera.ImageID)
	assert.InDelta(t, 0.5, record.Camera.CorrelationTimeDiff, 0.01)
	assert.Equal(t, models.MethodRadarCameraCorrelated, record.Metadata.ConsolidationMethod)
}

func TestCorrelator_MalformedEntryIsAckedAndDropped(t *testing.T) {
	c, b, ctx := newTestCorrelator(t)

	id, err := b.PublishStream(ctx, streamRadar, map[string]interface{}{"speed": 12.0}) // missing detection_id
	require.NoError(t, err)

	entries, err := b.ConsumeGroup(ctx, streamRadar, groupConsolidator, "c1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	c.handleEntry(ctx, entries[0])

	out := consumeOneConsolidated(t, b, ctx)
	assert.Empty(t, out, "malformed radar entries must never reach the consolidated stream")

	// entry was acked: a second consumer in the same group sees nothing pending.
	more, err := b.ConsumeGroup(ctx, streamRadar, groupConsolidator, "c2", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.NotContains(t, idsOf(more), id)
}

func idsOf(entries []bus.StreamEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
