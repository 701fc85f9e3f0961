package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Middleware tags each request with a request_id and logs one summary line
// when it completes. The request logger lives on both the gin context and the
// request context so websocket handlers keep it after the upgrade.
//
// Requests to quiet paths (probes, scrapes) are summarized at debug level.
func Middleware(l *slog.Logger, quiet ...string) gin.HandlerFunc {
	quietSet := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietSet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		rl := l.With("request_id", rid)
		c.Set(ginLoggerKey, rl)
		c.Request = c.Request.WithContext(With(c.Request.Context(), rl))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		level := slog.LevelInfo
		switch _, q := quietSet[route]; {
		case status >= 500 || len(c.Errors) > 0:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		case q:
			level = slog.LevelDebug
		}
		rl.Log(c.Request.Context(), level, "request", attrs...)
	}
}

// FromGin returns the request logger set by Middleware, or slog.Default().
func FromGin(c *gin.Context) *slog.Logger {
	if l, ok := c.Value(ginLoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
