package broker

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// Client is one subscriber connection. It is assigned a correlation_id
// on connect (spec.md §4.G) purely for log correlation; it carries no
// other session state.
type Client struct {
	conn          *websocket.Conn
	send          chan []byte
	correlationID string
	log           *logrus.Entry

	// outbox is the single-consumer queue Broadcast enqueues onto;
	// exactly one goroutine (runOutbox) ever drains it, so messages
	// reach c.send in the order Broadcast enqueued them even though
	// several channel pumps call Broadcast concurrently.
	outbox chan outboxMsg

	// outboxMu guards outboxClosed so enqueue and closeOutbox can never
	// race: Broadcast snapshots clients under Hub.mu, but Unregister can
	// run concurrently with an in-flight Broadcast, so closing the
	// channel itself isn't safe without this guard against a
	// send-on-closed-channel panic.
	outboxMu     sync.Mutex
	outboxClosed bool

	// done is closed once, by Unregister, so writePump returns as soon as
	// the client disconnects instead of waiting up to pingPeriod for its
	// next ping/send attempt to fail against the already-closed conn.
	done     chan struct{}
	doneOnce sync.Once
}

// outboxMsg is one pending delivery attempt: the payload plus the
// channel tag Broadcast carries for metrics/logging.
type outboxMsg struct {
	channel string
	blob    []byte
}

func newClient(conn *websocket.Conn, correlationID string, log *logrus.Entry) *Client {
	return &Client{
		conn:          conn,
		send:          make(chan []byte, clientBuffer),
		correlationID: correlationID,
		log:           log.WithField("correlation_id", correlationID),
		outbox:        make(chan outboxMsg, clientBuffer),
		done:          make(chan struct{}),
	}
}

// closeDone unblocks writePump immediately on disconnect; safe to call
// more than once.
func (c *Client) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// runOutbox is the sole consumer of c.outbox: it performs the
// send-or-drop-after-1s attempt against c.send one message at a time, so
// concurrent Broadcast calls can never reorder deliveries to this
// client. It returns once Unregister closes the outbox.
func (c *Client) runOutbox(h *Hub) {
	for msg := range c.outbox {
		h.sendToClient(c, msg.channel, msg.blob)
	}
}

// enqueue attempts a non-blocking handoff to c.outbox, reporting false
// if the outbox is full (backlogged subscriber) or already closed
// (disconnected). Guarding the close/send race through outboxMu is what
// makes it safe for Broadcast to hold a stale snapshot of a client that
// Unregister concurrently tears down.
func (c *Client) enqueue(msg outboxMsg) bool {
	c.outboxMu.Lock()
	defer c.outboxMu.Unlock()
	if c.outboxClosed {
		return false
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

// closeOutbox closes c.outbox exactly once, safely with respect to any
// in-flight enqueue call.
func (c *Client) closeOutbox() {
	c.outboxMu.Lock()
	defer c.outboxMu.Unlock()
	if !c.outboxClosed {
		c.outboxClosed = true
		close(c.outbox)
	}
}

// readPump drains client-originated frames (pings and close frames);
// the protocol is otherwise server-to-client only. Returning unregisters
// and closes the connection.
func (c *Client) readPump(hub *Hub) {
	defer func() {
		hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump flushes queued broadcasts and sends a liveness ping every
// pingPeriod (spec.md §4.G: "ping/pong" is one of the three channels).
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
