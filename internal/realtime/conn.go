package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callbridge/internal/tools"

	"github.com/gorilla/websocket"
)

// conn is the transport shared by provider implementations.
type conn struct {
	provider       string
	handler        Handler
	log            *slog.Logger
	connectTimeout time.Duration
	writeTimeout   time.Duration

	stateMu sync.Mutex
	ws      *websocket.Conn

	writeMu   sync.Mutex
	connected atomic.Bool
	closeOnce sync.Once
}

func newConn(provider string, h Handler, log *slog.Logger, connectTimeout time.Duration) *conn {
	if log == nil {
		log = slog.Default()
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &conn{
		provider:       provider,
		handler:        h,
		log:            log.With("provider", provider),
		connectTimeout: connectTimeout,
		writeTimeout:   DefaultWriteTimeout,
	}
}

func (c *conn) dial(ctx context.Context, url string, header http.Header) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.connectTimeout,
		ReadBufferSize:   16 * 1024,
		WriteBufferSize:  16 * 1024,
	}
	ws, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: dial %s: %w (status %d)", c.provider, err, resp.StatusCode)
		}
		return fmt.Errorf("realtime: dial %s: %w", c.provider, err)
	}

	c.stateMu.Lock()
	c.ws = ws
	c.stateMu.Unlock()
	c.connected.Store(true)
	return nil
}

func (c *conn) socket() *websocket.Conn {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.ws
}

func (c *conn) Connected() bool { return c.connected.Load() }

func (c *conn) writeJSON(ctx context.Context, v any) error {
	ws := c.socket()
	if ws == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(v); err != nil {
		return fmt.Errorf("realtime: write %s: %w", c.provider, err)
	}
	return nil
}

// run reads frames until the socket closes or ctx ends, handing each to
// handle. Malformed frames are skipped by handle itself.
func (c *conn) run(ctx context.Context, handle func(ctx context.Context, data []byte)) error {
	ws := c.socket()
	if ws == nil {
		return ErrNotConnected
	}
	defer c.connected.Store(false)

	stop := context.AfterFunc(ctx, func() {
		_ = ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("provider closed connection")
				return nil
			}
			if !c.connected.Load() {
				return nil
			}
			return fmt.Errorf("realtime: read %s: %w", c.provider, err)
		}
		handle(ctx, data)
	}
}

// Close clears the connected flag, then closes the socket. Close errors
// are swallowed.
func (c *conn) Close() error {
	c.connected.Store(false)
	c.closeOnce.Do(func() {
		ws := c.socket()
		if ws == nil {
			return
		}
		c.writeMu.Lock()
		_ = ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = ws.Close()
		c.log.Info("provider disconnected")
	})
	return nil
}

// callFunction runs the handler for one function call and always yields a
// JSON result. Malformed args become an empty object.
func (c *conn) callFunction(ctx context.Context, name string, rawArgs []byte) (out string) {
	args := map[string]any{}
	if trimmed := strings.TrimSpace(string(rawArgs)); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil || args == nil {
			c.log.Warn("malformed function arguments", "function", name, "err", err)
			args = map[string]any{}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("function handler panicked", "function", name, "panic", r)
			out = tools.Failure(fmt.Sprintf("function %s failed", name))
		}
	}()

	res, err := c.handler.OnFunctionCall(ctx, name, args)
	if err != nil {
		c.log.Error("function handler failed", "function", name, "err", err)
		return tools.Failure(err.Error())
	}
	return res
}
