package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mkorchagin/camstream/internal/server/hub"
	"github.com/mkorchagin/camstream/internal/server/models"
)

// Realtime channel protocol. A connection starts unauthenticated, becomes
// authenticated after a valid session token, and then subscribes to owned
// devices one at a time. Failed transitions produce auth-error events and
// leave the connection state unchanged.
const (
	wsAuthenticate = "authenticate"
	wsSubscribe    = "subscribe"

	wsAuthenticated = "authenticated"
	wsAuthError     = "auth-error"
	wsSubscribed    = "subscribed"
	wsSegment       = "segment"
)

const wsOutboundBuffer = 32

type wsClientMessage struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

type wsServerEvent struct {
	Type     string               `json:"type"`
	Message  string               `json:"message,omitempty"`
	DeviceID string               `json:"deviceId,omitempty"`
	Segment  *models.SegmentEvent `json:"segment,omitempty"`
}

type wsConn struct {
	handler *Handler
	conn    *websocket.Conn
	sub     *hub.Subscription

	out         chan wsServerEvent
	forwardDone chan struct{}

	// user is set once by the read loop and only read there.
	user *models.User
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		handler:     h,
		conn:        conn,
		sub:         h.hub.NewSubscription(),
		out:         make(chan wsServerEvent, wsOutboundBuffer),
		forwardDone: make(chan struct{}),
	}

	go c.writeLoop()
	go c.forwardLoop()
	c.readLoop(r)
}

// readLoop drives the connection state machine until the peer goes away.
func (c *wsConn) readLoop(r *http.Request) {
	defer c.teardown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(wsServerEvent{Type: wsAuthError, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case wsAuthenticate:
			user, err := c.handler.users.VerifyToken(r.Context(), msg.Token)
			if err != nil {
				c.send(wsServerEvent{Type: wsAuthError, Message: "invalid token"})
				continue
			}
			c.user = user
			c.send(wsServerEvent{Type: wsAuthenticated})

		case wsSubscribe:
			if c.user == nil {
				c.send(wsServerEvent{Type: wsAuthError, Message: "authentication required"})
				continue
			}
			if _, err := c.handler.devices.GetOwned(r.Context(), c.user.ID, msg.DeviceID); err != nil {
				c.send(wsServerEvent{Type: wsAuthError, Message: "unknown device"})
				continue
			}
			c.sub.Add(msg.DeviceID)
			c.send(wsServerEvent{Type: wsSubscribed, DeviceID: msg.DeviceID})

		default:
			c.send(wsServerEvent{Type: wsAuthError, Message: "unsupported message type"})
		}
	}
}

// writeLoop is the only goroutine writing to the socket. After a write
// failure it keeps draining so senders never block.
func (c *wsConn) writeLoop() {
	defer c.conn.Close()

	var failed bool
	for ev := range c.out {
		if failed {
			continue
		}
		if err := c.conn.WriteJSON(ev); err != nil {
			failed = true
		}
	}
}

// forwardLoop turns hub events into wire events.
func (c *wsConn) forwardLoop() {
	defer close(c.forwardDone)

	for event := range c.sub.Events() {
		c.send(wsServerEvent{Type: wsSegment, DeviceID: event.DeviceID, Segment: event})
	}
}

// send queues an event without ever blocking; a full queue drops the event.
func (c *wsConn) send(ev wsServerEvent) {
	select {
	case c.out <- ev:
	default:
	}
}

// teardown detaches from the hub, waits for the forwarder, then shuts down
// the writer. Ordering matters: out is closed only after both senders are
// done.
func (c *wsConn) teardown() {
	c.sub.Close()
	<-c.forwardDone
	close(c.out)
}
