// Package query is the Query Surface of spec.md §4.H: bounded read-only
// operations over the primary store and the Event Bus's latest-value
// keys, styled like the teacher's internal/data model methods
// (internal/data/nvr_impl.go's List/filter pattern) but bound to a
// dedicated read-only *sql.DB handle, per spec.md §5.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/trafficmon/edge-pipeline/internal/bus"
)

const maxLimit = 1000

// ConsolidatedEventRow is one row of the consolidated_events table,
// returned newest-first by RecentConsolidated.
type ConsolidatedEventRow struct {
	ConsolidationID string
	EventJSON       string
	CreatedAt       float64
}

// Store is a read-only repository over the primary SQLite database plus
// the Event Bus's latest-value keys. No method writes.
type Store struct {
	db *sql.DB
	b  *bus.Bus
}

func New(db *sql.DB, b *bus.Bus) *Store {
	return &Store{db: db, b: b}
}

// RecentConsolidated reads consolidated_events newest-first, filtered to
// created_at >= since, bounded to limit (capped at 1000 per spec.md
// §4.H).
func (s *Store) RecentConsolidated(ctx context.Context, limit int, since float64) ([]ConsolidatedEventRow, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT consolidation_id, event_json, created_at
		FROM consolidated_events
		WHERE created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query: recent consolidated: %w", err)
	}
	defer rows.Close()

	var out []ConsolidatedEventRow
	for rows.Next() {
		var r ConsolidatedEventRow
		if err := rows.Scan(&r.ConsolidationID, &r.EventJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("query: scan consolidated row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentBusinessEvents tails the bounded Redis list the radar ingestor
// appends vehicle_detection JSON payloads to, newest-first.
func (s *Store) RecentBusinessEvents(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	items, err := s.b.ListRange(ctx, "traffic:recent:business_events", 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("query: recent business events: %w", err)
	}
	return items, nil
}

// WeatherSnapshot is the flattened shape latest_weather() returns; Empty
// is true when neither the local sensor nor the external-API
// latest-value key is populated.
type WeatherSnapshot struct {
	TemperatureC float64
	HumidityPct  float64
	Source       string
	Empty        bool
}

// LatestWeather reads the local DHT22 hash first, falling back to the
// external-API latest-value string key, matching the Correlator's own
// attachWeather precedence.
func (s *Store) LatestWeather(ctx context.Context) (WeatherSnapshot, error) {
	fields, ok, err := s.b.GetLatestHash(ctx, "weather:dht22")
	if err != nil {
		return WeatherSnapshot{}, fmt.Errorf("query: latest weather hash: %w", err)
	}
	if ok {
		temp, terr := strconv.ParseFloat(fields["temperature"], 64)
		humidity, herr := strconv.ParseFloat(fields["humidity"], 64)
		if terr != nil || herr != nil {
			return WeatherSnapshot{}, fmt.Errorf("query: parse local weather hash: temperature=%q humidity=%q", fields["temperature"], fields["humidity"])
		}
		return WeatherSnapshot{TemperatureC: temp, HumidityPct: humidity, Source: "local_sensor"}, nil
	}

	raw, ok, err := s.b.GetLatest(ctx, "weather:airport:latest")
	if err != nil {
		return WeatherSnapshot{}, fmt.Errorf("query: latest weather key: %w", err)
	}
	if !ok {
		return WeatherSnapshot{Empty: true}, nil
	}

	var payload struct {
		TemperatureC float64 `json:"temperature_c"`
		HumidityPct  float64 `json:"humidity_pct"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return WeatherSnapshot{}, fmt.Errorf("query: decode external weather: %w", err)
	}
	return WeatherSnapshot{TemperatureC: payload.TemperatureC, HumidityPct: payload.HumidityPct, Source: "external_api"}, nil
}

// HealthCounters is a component-keyed snapshot composed by health() for
// the HTTP /health endpoint.
type HealthCounters struct {
	Components map[string]bool
}

// Health checks each component's minimal liveness signal: it pings the
// database connection and the Event Bus's Redis connection. It reads no
// counters and keeps no health state of its own.
func (s *Store) Health(ctx context.Context) HealthCounters {
	hc := HealthCounters{Components: make(map[string]bool)}
	hc.Components["database"] = s.db.PingContext(ctx) == nil
	hc.Components["event_bus"] = s.b.Ping(ctx) == nil
	return hc
}
