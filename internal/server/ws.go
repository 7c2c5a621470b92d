package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/jobwatch/internal/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Outbound replies queued per connection.
	sendBuffer = 16
)

// WebSocket message types.
const (
	msgSnapshot = "JOBS_SNAPSHOT"
	msgUpdate   = "JOB_UPDATE"
	msgLookup   = "JOB_LOOKUP"
	msgError    = "ERROR"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the feed is read-only and serves local tooling
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsRequest is a client message. Only JOB_LOOKUP is understood.
type wsRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// wsMessage is a server message.
type wsMessage struct {
	Type    string              `json:"type"`
	Message string              `json:"message,omitempty"`
	Job     *store.JobSnapshot  `json:"job,omitempty"`
	Jobs    []store.JobSnapshot `json:"jobs,omitempty"`
}

// wsConn is a middleman between the websocket connection and the store.
// writePump is the only writer; readPump is the only reader.
type wsConn struct {
	ws     *websocket.Conn
	store  store.Store
	logger *slog.Logger

	// replies from readPump to writePump
	send chan wsMessage

	// closed when readPump exits
	done chan struct{}
}

// handleWS streams snapshot updates over a WebSocket.
//
// On connect the client receives a JOBS_SNAPSHOT with every known job,
// followed by a JOB_UPDATE per change. Clients may send
// {"type":"JOB_LOOKUP","id":"<correlation id>"} to fetch one snapshot.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		ws:     ws,
		store:  s.store,
		logger: s.logger,
		send:   make(chan wsMessage, sendBuffer),
		done:   make(chan struct{}),
	}

	updates := s.store.Subscribe()
	defer s.store.Unsubscribe(updates)

	go c.readPump()
	c.writePump(r.Context(), updates)
}

// readPump handles pongs and lookup requests until the peer goes away.
func (c *wsConn) readPump() {
	defer close(c.done)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req wsRequest
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var rsp wsMessage
		switch req.Type {
		case msgLookup:
			rsp.Type = msgLookup
			if snap, ok := c.store.Get(req.ID); ok {
				rsp.Job = &snap
			} else {
				rsp.Message = "job not found"
			}
		default:
			rsp = wsMessage{Type: msgError, Message: "unknown message type"}
		}

		select {
		case c.send <- rsp:
		default:
			// writer is backed up, drop the reply
		}
	}
}

// writePump sends the initial snapshot, then updates, replies and pings.
// It returns when ctx ends, the peer goes away or a write fails.
func (c *wsConn) writePump(ctx context.Context, updates <-chan store.JobSnapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	if err := c.writeJSON(wsMessage{Type: msgSnapshot, Jobs: c.store.GetAll()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-c.done:
			return

		case snap, ok := <-updates:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeJSON(wsMessage{Type: msgUpdate, Job: &snap}); err != nil {
				return
			}

		case msg := <-c.send:
			if err := c.writeJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write writes a message with the given message type and payload.
func (c *wsConn) write(mt int, payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(mt, payload)
}

func (c *wsConn) writeJSON(msg wsMessage) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}
