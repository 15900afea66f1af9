package broker

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and registers a new Client with hub. It
// is mounted by internal/httpapi at the WebSocket route.
func ServeWS(hub *Hub, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		correlationID := newCorrelationID()
		c := newClient(conn, correlationID, log)
		hub.Register(c)

		go c.writePump()
		c.readPump(hub)
	}
}

func newCorrelationID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "ws-unknown"
	}
	return hex.EncodeToString(buf)
}
