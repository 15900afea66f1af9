package broker

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/obslog"
)

func newTestHub(t *testing.T) (*Hub, *bus.Bus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.New(rdb)
	log := obslog.New("broker", "error")
	return NewHub(b, log), b
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsConsolidatedEventsToSubscriber(t *testing.T) {
	hub, b := newTestHub(t)
	log := obslog.New("broker", "error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(ServeWS(hub, log))
	defer srv.Close()

	conn := dialWS(t, srv)

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		return n == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.PublishPubSub(context.Background(), channelConsolidated, []byte(`{"consolidation_id":"c1"}`)))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"channel":"real_time_event"`)
	require.Contains(t, string(msg), `c1`)
}

func TestHub_SystemLogChannelPassesThrough(t *testing.T) {
	hub, b := newTestHub(t)
	log := obslog.New("broker", "error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(ServeWS(hub, log))
	defer srv.Close()

	conn := dialWS(t, srv)
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		return n == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.PublishPubSub(context.Background(), channelSystemLog, []byte(`{"level":"warn","msg":"slow query"}`)))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"channel":"system_log"`)
}

func TestHub_UnregisterRemovesClientOnDisconnect(t *testing.T) {
	hub, _ := newTestHub(t)
	log := obslog.New("broker", "error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(ServeWS(hub, log))
	defer srv.Close()

	conn := dialWS(t, srv)
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		return n == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		return n == 0
	}, time.Second, 10*time.Millisecond)
}
