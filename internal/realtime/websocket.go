package realtime

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket configuration constants.
const (
	// WSMaxMessageSize caps inbound client frames
	WSMaxMessageSize = 4 << 10
	// WSPingInterval is the interval between ping frames sent to the client.
	WSPingInterval = 30 * time.Second
	// WSPongTimeout is the deadline for a pong response after a ping.
	WSPongTimeout = 60 * time.Second
	// WSWriteTimeout is the deadline for a write operation.
	WSWriteTimeout = 10 * time.Second
	// WSHelloTimeout is how long a new connection may wait before saying hello
	WSHelloTimeout = 10 * time.Second
)

// Message types on the wire
const (
	MsgHello             = "hello"
	MsgSnapshot          = "snapshot"
	MsgEvent             = "event"
	MsgReplayUnavailable = "replay_unavailable"
	MsgError             = "error"
)

// ClientMessage is the only message a client sends
type ClientMessage struct {
	Type        string `json:"type"`
	LastEventID uint64 `json:"last_event_id"`
	Epoch       string `json:"epoch"`
}

// ServerMessage is every message the server sends; Type selects which
// field is set
type ServerMessage struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Event    *Event    `json:"event,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Handler serves the event stream over websocket
type Handler struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
}

// NewHandler creates a websocket handler. An empty origin list accepts any
// origin.
func NewHandler(b *Broadcaster, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// Serve upgrades the request and streams events
// GET /ws
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Realtime] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(WSMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(WSHelloTimeout))

	var hello ClientMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != MsgHello {
		writeMessage(conn, ServerMessage{Type: MsgError, Error: "expected hello"})
		return
	}

	sub, err := h.open(conn, hello)
	if err != nil {
		writeMessage(conn, ServerMessage{Type: MsgError, Error: err.Error()})
		return
	}
	defer sub.Close()

	readDone := make(chan struct{})
	go readPump(conn, readDone)

	ping := time.NewTicker(WSPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-sub.Events():
			if err := writeMessage(conn, ServerMessage{Type: MsgEvent, Event: &ev}); err != nil {
				return
			}
		case <-sub.Done():
			// dropped as a slow consumer; the client reconnects with its last id
			reason := "subscription closed"
			if err := sub.Err(); err != nil {
				reason = err.Error()
			}
			writeMessage(conn, ServerMessage{Type: MsgError, Error: reason})
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(WSWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}

// open resumes from the client's last event when possible, otherwise sends
// a snapshot
func (h *Handler) open(conn *websocket.Conn, hello ClientMessage) (*Subscription, error) {
	if hello.LastEventID > 0 {
		sub, replay, err := h.broadcaster.Subscribe(hello.Epoch, hello.LastEventID)
		if err == nil {
			for i := range replay {
				if err := writeMessage(conn, ServerMessage{Type: MsgEvent, Event: &replay[i]}); err != nil {
					sub.Close()
					return nil, err
				}
			}
			return sub, nil
		}
		if !errors.Is(err, ErrReplayUnavailable) {
			return nil, err
		}
		if err := writeMessage(conn, ServerMessage{Type: MsgReplayUnavailable}); err != nil {
			return nil, err
		}
	}

	sub, snap, err := h.broadcaster.SubscribeWithSnapshot()
	if err != nil {
		return nil, err
	}
	if err := writeMessage(conn, ServerMessage{Type: MsgSnapshot, Snapshot: &snap}); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(WSPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(WSPongTimeout))
	})
	for {
		// clients have nothing more to say after hello; reads only detect close
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg ServerMessage) error {
	conn.SetWriteDeadline(time.Now().Add(WSWriteTimeout))
	return conn.WriteJSON(msg)
}
