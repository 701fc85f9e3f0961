package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbridge/internal/events"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialDashboard(t *testing.T, b *events.Broadcaster) *websocket.Conn {
	t.Helper()
	r := gin.New()
	r.Use(logger.Middleware(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/ws/dashboard", NewDashboard(b).Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/dashboard", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) events.Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return e
}

func send(t *testing.T, ws *websocket.Conn, command string) {
	t.Helper()
	if err := ws.WriteJSON(map[string]string{"command": command}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDashboard_GreetsAndAnswersPing(t *testing.T) {
	b := events.NewBroadcaster(10, nil, events.Hooks{})
	ws := dialDashboard(t, b)

	e := readEvent(t, ws)
	if e.Type != events.TypeConnectionStatus || e.Data["status"] != "connected" {
		t.Fatalf("expected connection_status, got %+v", e)
	}

	send(t, ws, CommandPing)
	if e := readEvent(t, ws); e.Type != events.TypePong {
		t.Fatalf("expected pong, got %+v", e)
	}
}

func TestDashboard_StreamsEventsUntilUnsubscribed(t *testing.T) {
	b := events.NewBroadcaster(10, nil, events.Hooks{})
	ws := dialDashboard(t, b)
	readEvent(t, ws)

	b.Publish(events.CallStarted("call-1", "+40722000000"))
	if e := readEvent(t, ws); e.Type != events.TypeCallStarted || e.Data["call_id"] != "call-1" {
		t.Fatalf("expected call_started, got %+v", e)
	}

	send(t, ws, CommandUnsubscribe)
	if e := readEvent(t, ws); e.Data["status"] != "unsubscribed" {
		t.Fatalf("expected unsubscribed ack, got %+v", e)
	}
	b.Publish(events.CallEnded("call-1", 12))
	send(t, ws, CommandPing)
	if e := readEvent(t, ws); e.Type != events.TypePong {
		t.Fatalf("expected paused events to be skipped, got %+v", e)
	}

	send(t, ws, CommandSubscribe)
	if e := readEvent(t, ws); e.Data["status"] != "subscribed" {
		t.Fatalf("expected subscribed ack, got %+v", e)
	}
	b.Publish(events.Error("provider_error", "boom"))
	if e := readEvent(t, ws); e.Type != events.TypeError {
		t.Fatalf("expected error event, got %+v", e)
	}
}

func TestDashboard_ClosesOnShutdown(t *testing.T) {
	b := events.NewBroadcaster(10, nil, events.Hooks{})
	ws := dialDashboard(t, b)
	readEvent(t, ws)

	b.Shutdown()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestDashboard_UnsubscribesOnDisconnect(t *testing.T) {
	b := events.NewBroadcaster(10, nil, events.Hooks{})
	ws := dialDashboard(t, b)
	readEvent(t, ws)
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", b.SubscriberCount())
	}

	_ = ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("expected subscriber removed, got %d", n)
	}
}
