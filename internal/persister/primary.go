package persister

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

// PrimaryStore is the authoritative SQLite store of spec.md §4.F/§6.
type PrimaryStore struct {
	db DBTX
}

// OpenPrimary opens path with WAL + synchronous=NORMAL pragmas
// (spec.md §4.F: "Pragmas / durability").
func OpenPrimary(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("persister: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 with a single writer avoids SQLITE_BUSY under WAL
	return db, nil
}

func NewPrimaryStore(db DBTX) *PrimaryStore {
	return &PrimaryStore{db: db}
}

// Upsert writes a ConsolidatedRecord into consolidated_events (the JSON
// blob, keyed by consolidation_id) and decomposes the triggering
// detection into traffic_detections/radar_detections, per spec.md §4.F
// step 1 and the schema invariants of §6.
func (s *PrimaryStore) Upsert(ctx context.Context, record models.ConsolidatedRecord, eventJSON string, createdAt float64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidated_events (consolidation_id, event_json, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(consolidation_id) DO UPDATE SET event_json = excluded.event_json, created_at = excluded.created_at
	`, record.ConsolidationID, eventJSON, createdAt); err != nil {
		return fmt.Errorf("persister: upsert consolidated_events: %w", err)
	}

	d := record.RadarDetection
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO traffic_detections (id, timestamp, correlation_id, trigger_source, confidence_score, vehicle_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			correlation_id = excluded.correlation_id,
			trigger_source = excluded.trigger_source,
			confidence_score = excluded.confidence_score,
			vehicle_count = excluded.vehicle_count
	`, d.DetectionID, float64(d.Timestamp.Unix()), record.CorrelationID, record.TriggerSource,
		record.Camera.PrimaryConfidence, record.Camera.VehicleCount); err != nil {
		return fmt.Errorf("persister: upsert traffic_detections: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO radar_detections (detection_id, speed_mph, speed_mps, alert_level, direction)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(detection_id) DO UPDATE SET
			speed_mph = excluded.speed_mph,
			speed_mps = excluded.speed_mps,
			alert_level = excluded.alert_level,
			direction = excluded.direction
	`, d.DetectionID, d.SpeedMPH, d.SpeedMPS, string(d.AlertLevel), record.Direction); err != nil {
		return fmt.Errorf("persister: upsert radar_detections: %w", err)
	}

	return nil
}

// DeleteOlderThan removes rows whose timestamp predates cutoff (a Unix
// epoch seconds value) across all three retained tables, returning the
// total row count removed. Spec.md §4.F step 4: "every 1h, delete rows
// with timestamp < now - retention_days".
func (s *PrimaryStore) DeleteOlderThan(ctx context.Context, cutoff float64) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, `DELETE FROM consolidated_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("persister: retention delete consolidated_events: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM radar_detections WHERE detection_id IN (
			SELECT id FROM traffic_detections WHERE timestamp < ?
		)
	`, cutoff)
	if err != nil {
		return total, fmt.Errorf("persister: retention delete radar_detections: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM traffic_detections WHERE timestamp < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("persister: retention delete traffic_detections: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}
