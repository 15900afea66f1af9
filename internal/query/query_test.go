package query

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/trafficmon/edge-pipeline/internal/bus"
)

func newTestStore(t *testing.T) (*Store, *sql.DB, *bus.Bus) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE consolidated_events (
		consolidation_id TEXT PRIMARY KEY,
		event_json TEXT NOT NULL,
		created_at REAL NOT NULL
	)`)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	b := bus.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	return New(db, b), db, b
}

func TestRecentConsolidated_NewestFirstAndSinceFilter(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO consolidated_events VALUES ('a', '{}', 100)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO consolidated_events VALUES ('b', '{}', 200)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO consolidated_events VALUES ('c', '{}', 300)`)
	require.NoError(t, err)

	rows, err := s.RecentConsolidated(ctx, 10, 150)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "c", rows[0].ConsolidationID)
	require.Equal(t, "b", rows[1].ConsolidationID)
}

func TestRecentConsolidated_LimitIsCapped(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i <= maxLimit; i++ {
		_, err := db.Exec(`INSERT INTO consolidated_events VALUES (?, '{}', ?)`, fmt.Sprintf("id%d", i), i)
		require.NoError(t, err)
	}

	rows, err := s.RecentConsolidated(ctx, 5000, 0)
	require.NoError(t, err)
	require.Len(t, rows, maxLimit)
}

func TestRecentBusinessEvents_ReturnsPushedPayloads(t *testing.T) {
	s, _, b := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, b.PushBoundedList(ctx, "traffic:recent:business_events", `{"detection_id":"d1"}`, 100))
	require.NoError(t, b.PushBoundedList(ctx, "traffic:recent:business_events", `{"detection_id":"d2"}`, 100))

	items, err := s.RecentBusinessEvents(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{`{"detection_id":"d2"}`, `{"detection_id":"d1"}`}, items)
}

func TestLatestWeather_PrefersLocalSensorOverExternal(t *testing.T) {
	s, _, b := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, b.SetLatest(ctx, "weather:airport:latest", `{"temperature_c":10,"humidity_pct":40}`, 0))
	require.NoError(t, b.SetLatestHash(ctx, "weather:dht22", map[string]interface{}{
		"temperature": 21.5,
		"humidity":    55.0,
	}, 0))

	snap, err := s.LatestWeather(ctx)
	require.NoError(t, err)
	require.Equal(t, "local_sensor", snap.Source)
	require.InDelta(t, 21.5, snap.TemperatureC, 0.01)
}

func TestLatestWeather_FallsBackToExternalWhenNoLocalSensor(t *testing.T) {
	s, _, b := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, b.SetLatest(ctx, "weather:airport:latest", `{"temperature_c":10,"humidity_pct":40}`, 0))

	snap, err := s.LatestWeather(ctx)
	require.NoError(t, err)
	require.Equal(t, "external_api", snap.Source)
	require.InDelta(t, 10, snap.TemperatureC, 0.01)
}

func TestLatestWeather_EmptyWhenNeitherKeyPresent(t *testing.T) {
	s, _, _ := newTestStore(t)
	snap, err := s.LatestWeather(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Empty)
}

func TestHealth_ReportsDatabaseAndBusStatus(t *testing.T) {
	s, _, _ := newTestStore(t)
	hc := s.Health(context.Background())
	require.True(t, hc.Components["database"])
	require.True(t, hc.Components["event_bus"])
}
