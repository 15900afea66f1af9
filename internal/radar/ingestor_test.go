package radar

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/config"
	"github.com/trafficmon/edge-pipeline/internal/obslog"
)

func testThresholds() config.Thresholds {
	return config.DefaultThresholds()
}

func TestHandleLine_PublishesDetectionAboveNoiseFloor(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.New(rdb)
	log := obslog.New("radar", "error")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	in := New(server, b, testThresholds, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.EnsureGroup(ctx, "traffic:radar", "g"))
	in.handleLine(ctx, `"m",20.0`)

	entries, err := b.ConsumeGroup(ctx, "traffic:radar", "g", "c", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "20", entries[0].Fields["speed"])
	require.Equal(t, "low", entries[0].Fields["alert_level"])
}

func TestHandleLine_NoiseBelowThresholdNotPublished(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.New(rdb)
	log := obslog.New("radar", "error")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	in := New(server, b, testThresholds, log, nil)
	ctx := context.Background()

	require.NoError(t, b.EnsureGroup(ctx, "traffic:radar", "g"))
	in.handleLine(ctx, `"m",1.0`) // below default 2mph noise threshold

	entries, err := b.ConsumeGroup(ctx, "traffic:radar", "g", "c", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestClassify(t *testing.T) {
	thr := testThresholds()
	require.Equal(t, "normal", string(classify(5.0, config.Thresholds{LowThresholdMPH: 10, HighThresholdMPH: 26})))
	require.Equal(t, "low", string(classify(thr.LowThresholdMPH, thr)))
	require.Equal(t, "high", string(classify(thr.HighThresholdMPH, thr)))
}
