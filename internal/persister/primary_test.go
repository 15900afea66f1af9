package persister

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

func openTestPrimary(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE traffic_detections (
			id TEXT PRIMARY KEY,
			timestamp REAL NOT NULL,
			correlation_id TEXT NOT NULL,
			trigger_source TEXT NOT NULL,
			confidence_score REAL,
			vehicle_count INTEGER
		);
		CREATE TABLE radar_detections (
			detection_id TEXT PRIMARY KEY,
			speed_mph REAL NOT NULL,
			speed_mps REAL NOT NULL,
			alert_level TEXT NOT NULL,
			direction TEXT NOT NULL
		);
		CREATE TABLE consolidated_events (
			consolidation_id TEXT PRIMARY KEY,
			event_json TEXT NOT NULL,
			created_at REAL NOT NULL
		);
	`)
	require.NoError(t, err)
	return db
}

func sampleRecord() models.ConsolidatedRecord {
	return models.ConsolidatedRecord{
		ConsolidationID: "consol_1",
		CorrelationID:   "det1",
		Timestamp:       time.Unix(1000, 0),
		TriggerSource:   "radar",
		RadarDetection: models.VehicleDetection{
			DetectionID: "det1",
			SpeedMPH:    12.3,
			SpeedMPS:    5.5,
			AlertLevel:  models.AlertLow,
			Source:      "radar",
		},
		Direction: "receding",
		Camera:    models.CameraData{VehicleCount: 1, FallbackReason: "no_camera_correlation"},
		Metadata:  models.ProcessingMetadata{SourcesUsed: []string{"radar"}, ConsolidationMethod: models.MethodRadarOnly},
	}
}

func TestPrimaryStore_UpsertInsertsAllThreeTables(t *testing.T) {
	db := openTestPrimary(t)
	store := NewPrimaryStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleRecord(), `{"stub":true}`, 1000))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM consolidated_events WHERE consolidation_id='consol_1'`).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM traffic_detections WHERE id='det1'`).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM radar_detections WHERE detection_id='det1'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestPrimaryStore_UpsertIsIdempotentOnConsolidationID(t *testing.T) {
	db := openTestPrimary(t)
	store := NewPrimaryStore(db)
	ctx := context.Background()

	record := sampleRecord()
	require.NoError(t, store.Upsert(ctx, record, `{"v":1}`, 1000))
	require.NoError(t, store.Upsert(ctx, record, `{"v":2}`, 1001))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM consolidated_events`).Scan(&count))
	require.Equal(t, 1, count, "re-publishing the same consolidation_id must upsert, not duplicate")

	var blob string
	require.NoError(t, db.QueryRow(`SELECT event_json FROM consolidated_events WHERE consolidation_id='consol_1'`).Scan(&blob))
	require.Equal(t, `{"v":2}`, blob)

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM traffic_detections WHERE id='det1'`).Scan(&count))
	require.Equal(t, 1, count, "redelivery must not duplicate traffic_detections rows")

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM radar_detections WHERE detection_id='det1'`).Scan(&count))
	require.Equal(t, 1, count, "redelivery (S5 restart) must not duplicate radar_detections rows")

	var speed float64
	require.NoError(t, db.QueryRow(`SELECT speed_mph FROM radar_detections WHERE detection_id='det1'`).Scan(&speed))
	require.Equal(t, 12.3, speed)
}

func TestPrimaryStore_DeleteOlderThanRemovesStaleRows(t *testing.T) {
	db := openTestPrimary(t)
	store := NewPrimaryStore(db)
	ctx := context.Background()

	old := sampleRecord()
	old.ConsolidationID = "consol_old"
	old.RadarDetection.DetectionID = "det_old"
	old.RadarDetection.Timestamp = time.Unix(100, 0)
	require.NoError(t, store.Upsert(ctx, old, `{}`, 100))

	recent := sampleRecord()
	recent.ConsolidationID = "consol_new"
	recent.RadarDetection.DetectionID = "det_new"
	recent.RadarDetection.Timestamp = time.Unix(9000, 0)
	require.NoError(t, store.Upsert(ctx, recent, `{}`, 9000))

	n, err := store.DeleteOlderThan(ctx, 5000)
	require.NoError(t, err)
	require.Equal(t, int64(3), n, "one stale row from each of consolidated_events, traffic_detections, radar_detections")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM consolidated_events`).Scan(&count))
	require.Equal(t, 1, count)

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM traffic_detections`).Scan(&count))
	require.Equal(t, 1, count, "stale traffic_detections row must also be purged")

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM radar_detections`).Scan(&count))
	require.Equal(t, 1, count, "stale radar_detections row must also be purged")
}
