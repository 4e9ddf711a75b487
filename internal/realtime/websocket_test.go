package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type wireMessage struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot"`
	Event    *struct {
		ID    uint64          `json:"id"`
		Epoch string          `json:"epoch"`
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
	} `json:"event"`
	Error string `json:"error"`
}

func startWSServer(t *testing.T, b *Broadcaster) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", NewHandler(b, nil).Serve)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, hello ClientMessage) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello failed: %v", err)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestWebsocketSnapshotThenLiveEvents(t *testing.T) {
	b := NewBroadcaster(64, 64)
	b.Publish(RoundCommitted{RoundID: "r1", Nonce: 3, CommitHash: "c"})
	url := startWSServer(t, b)

	conn := dial(t, url, ClientMessage{Type: MsgHello})
	msg := readMsg(t, conn)
	if msg.Type != MsgSnapshot || msg.Snapshot == nil {
		t.Fatalf("expected snapshot, got %+v", msg)
	}
	if msg.Snapshot.LastEventID != 1 || msg.Snapshot.Round.RoundID != "r1" {
		t.Errorf("unexpected snapshot %+v", msg.Snapshot)
	}

	b.Publish(BettingOpened{RoundID: "r1", ClosesAt: time.Now()})
	msg = readMsg(t, conn)
	if msg.Type != MsgEvent || msg.Event.ID != 2 || msg.Event.Type != "betting_opened" {
		t.Errorf("unexpected live message %+v", msg)
	}
}

func TestWebsocketResumeReplaysFromLastID(t *testing.T) {
	b := NewBroadcaster(64, 64)
	for i := 0; i < 5; i++ {
		b.Publish(Tick{RoundID: "r", Multiplier: int64(100 + i)})
	}
	url := startWSServer(t, b)

	conn := dial(t, url, ClientMessage{Type: MsgHello, LastEventID: 3, Epoch: b.Epoch()})
	for _, want := range []uint64{4, 5} {
		msg := readMsg(t, conn)
		if msg.Type != MsgEvent || msg.Event.ID != want {
			t.Fatalf("expected replayed event %d, got %+v", want, msg)
		}
	}
}

func TestWebsocketStaleEpochGetsSnapshot(t *testing.T) {
	b := NewBroadcaster(64, 64)
	b.Publish(Tick{RoundID: "r", Multiplier: 100})
	url := startWSServer(t, b)

	conn := dial(t, url, ClientMessage{Type: MsgHello, LastEventID: 1, Epoch: "old"})
	if msg := readMsg(t, conn); msg.Type != MsgReplayUnavailable {
		t.Fatalf("expected replay_unavailable, got %+v", msg)
	}
	if msg := readMsg(t, conn); msg.Type != MsgSnapshot {
		t.Fatalf("expected snapshot, got %+v", msg)
	}
}

func TestWebsocketRejectsMissingHello(t *testing.T) {
	b := NewBroadcaster(8, 8)
	url := startWSServer(t, b)

	conn := dial(t, url, ClientMessage{Type: "subscribe"})
	if msg := readMsg(t, conn); msg.Type != MsgError {
		t.Errorf("expected error, got %+v", msg)
	}
}
