// Package broker is the Realtime Broker of spec.md §4.G: a WebSocket
// fan-out hub that reads from the Event Bus pub/sub (never the durable
// stream) so persistence and realtime stay independent. It generalizes
// the teacher's only gorilla/websocket usage
// (internal/api/sfu_ws_handlers.go), a single ICE-signaling socket, into
// a multi-channel broadcast hub with per-subscriber backpressure.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trafficmon/edge-pipeline/internal/bus"
	"github.com/trafficmon/edge-pipeline/internal/metrics"
)

const (
	// channelConsolidated must match internal/correlator's
	// channelConsolidatedQ: the two packages don't share an import, so a
	// rename on one side without the other silently stops real_time_event
	// delivery.
	channelConsolidated = "consolidated_data_queued"
	channelTrafficEvent = "traffic_events"
	channelSystemLog    = "system_log"

	// ChannelRealTimeEvent and ChannelSystemLog are the two outbound
	// channel tags a client receives in each Envelope (spec.md §4.G:
	// "Three channels: real_time_event, system_log, ping/pong").
	ChannelRealTimeEvent = "real_time_event"
	ChannelSystemLog     = "system_log"

	sendTimeout  = time.Second
	clientBuffer = 32
)

// Envelope is the shape every subscriber receives, tagging the payload
// with the logical channel it arrived on.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Hub owns the set of connected subscribers and the three upstream bus
// subscriptions it fans out from. One Hub is shared by every
// *Client registered through Register.
type Hub struct {
	b   *bus.Bus
	log *logrus.Entry

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHub(b *bus.Bus, log *logrus.Entry) *Hub {
	return &Hub{b: b, log: log, clients: make(map[*Client]struct{})}
}

// Register adds c to the fan-out set; Unregister removes it. Both are
// safe to call concurrently with Broadcast.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.BrokerSubscribers.Inc()
	go c.runOutbox(h)
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		metrics.BrokerSubscribers.Dec()
	}
	h.mu.Unlock()
	c.closeOutbox()
	c.closeDone()
}

// Run subscribes to the bus channels that feed real_time_event and
// system_log and fans every message out to every connected client. It
// is the Worker registered with internal/supervisor.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pump(ctx, channelConsolidated, ChannelRealTimeEvent)
	}()
	go func() {
		defer wg.Done()
		h.pump(ctx, channelTrafficEvent, ChannelRealTimeEvent)
	}()
	// system_log is both the Event Bus channel name and the outbound
	// client channel tag: whatever publishes structured log lines onto
	// it is rebroadcast verbatim.
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pump(ctx, channelSystemLog, ChannelSystemLog)
	}()
	wg.Wait()
}

func (h *Hub) pump(ctx context.Context, busChannel, outChannel string) {
	sub := h.b.SubscribePubSub(ctx, busChannel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			h.Broadcast(outChannel, []byte(msg.Payload))
		}
	}
}

// Broadcast fans payload out to every client tagged with channel,
// dropping (not blocking) for any subscriber whose send buffer is full
// for more than 1s (spec.md §4.G). Each subscriber drains its own
// outbox on a dedicated goroutine (internal/broker/client.go's
// runOutbox), so one slow client's 1s grace period can never delay
// delivery to the rest, while still preserving the order Broadcast was
// called in for any single client.
func (h *Hub) Broadcast(channel string, payload []byte) {
	env := Envelope{Channel: channel, Payload: json.RawMessage(payload)}
	blob, err := json.Marshal(env)
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal broker envelope")
		return
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.enqueue(outboxMsg{channel: channel, blob: blob}) {
			metrics.BrokerMessagesDropped.WithLabelValues(channel).Inc()
			h.log.WithField("correlation_id", c.correlationID).Warn("dropping message, subscriber outbox backlogged or disconnected")
		}
	}
}

func (h *Hub) sendToClient(c *Client, channel string, blob []byte) {
	select {
	case c.send <- blob:
		metrics.BrokerMessagesSent.WithLabelValues(channel).Inc()
	case <-time.After(sendTimeout):
		metrics.BrokerMessagesDropped.WithLabelValues(channel).Inc()
		h.log.WithField("correlation_id", c.correlationID).Warn("dropping message for slow subscriber")
	}
}
