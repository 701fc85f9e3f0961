package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"callbridge/internal/events"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const dashboardWriteTimeout = 10 * time.Second

// Dashboard commands sent by clients.
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
	CommandPing        = "ping"
)

type dashboardCommand struct {
	Command string `json:"command"`
}

// Dashboard streams broadcaster events to websocket clients.
type Dashboard struct {
	Broadcaster *events.Broadcaster
	upgrader    websocket.Upgrader
}

func NewDashboard(b *events.Broadcaster) *Dashboard {
	return &Dashboard{
		Broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve runs one dashboard connection. All writes happen on this goroutine;
// a reader goroutine turns client commands into replies.
func (d *Dashboard) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	ws, err := d.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("dashboard upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	sub := d.Broadcaster.Subscribe()
	defer d.Broadcaster.Unsubscribe(sub)
	log.Info("dashboard connected")

	if err := writeEvent(ws, events.ConnectionStatus("connected", "Connected to dashboard websocket")); err != nil {
		log.Warn("dashboard greeting failed", "err", err)
		return
	}

	var paused atomic.Bool
	replies := make(chan events.Event, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		readCommands(ws, replies, &paused, log)
	}()

	d.pump(ws, sub, replies, done, &paused, log)

	// Unblocks the reader when the pump stopped first.
	_ = ws.Close()
	<-done
	log.Info("dashboard disconnected")
}

func (d *Dashboard) pump(ws *websocket.Conn, sub *events.Subscription, replies <-chan events.Event, done <-chan struct{}, paused *atomic.Bool, log *slog.Logger) {
	for {
		select {
		case <-done:
			return
		case e := <-replies:
			if err := writeEvent(ws, e); err != nil {
				log.Debug("dashboard write failed", "err", err)
				return
			}
		case e, ok := <-sub.C:
			if !ok {
				// Removed by the broadcaster: overflow or shutdown.
				closeWith(ws, websocket.CloseTryAgainLater, "event queue closed")
				return
			}
			if e.Type == events.TypeShutdown {
				closeWith(ws, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if paused.Load() {
				continue
			}
			if err := writeEvent(ws, e); err != nil {
				log.Debug("dashboard write failed", "err", err)
				return
			}
		}
	}
}

func readCommands(ws *websocket.Conn, replies chan<- events.Event, paused *atomic.Bool, log *slog.Logger) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd dashboardCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug("invalid dashboard command", "err", err)
			continue
		}

		var reply events.Event
		switch cmd.Command {
		case CommandPing:
			reply = events.Pong()
		case CommandSubscribe:
			paused.Store(false)
			reply = events.ConnectionStatus("subscribed", "Receiving events")
		case CommandUnsubscribe:
			paused.Store(true)
			reply = events.ConnectionStatus("unsubscribed", "Events paused")
		default:
			log.Debug("unknown dashboard command", "command", cmd.Command)
			continue
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func writeEvent(ws *websocket.Conn, e events.Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(dashboardWriteTimeout))
	return ws.WriteJSON(e)
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
