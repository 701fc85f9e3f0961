// Package telephony is the Twilio boundary: voice webhooks, TwiML and the
// media-stream websocket.
package telephony

import (
	"context"
	"net/http"
	"strings"

	"callbridge/internal/callcap"
	"callbridge/internal/calls"
	"callbridge/internal/observability"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	MediaStreamPath = "/media-stream"

	DefaultBusyMessage = "All our lines are busy right now. Please call again in a few minutes."
)

// Handlers converts Twilio webhooks to bridge actions. No business logic
// lives here.
type Handlers struct {
	Limiter  callcap.Limiter
	Registry *calls.Registry
	Metrics  *observability.Metrics

	// Sessions is the template every call session is built from.
	Sessions calls.Deps

	// PublicHost overrides the request Host in stream URLs.
	PublicHost      string
	FallbackMessage string
	BusyMessage     string

	// BaseContext outlives requests; canceling it ends live calls.
	BaseContext context.Context

	upgrader websocket.Upgrader
}

func NewHandlers(h Handlers) *Handlers {
	if h.Limiter == nil {
		h.Limiter = callcap.Unlimited{}
	}
	if h.Registry == nil {
		h.Registry = calls.NewRegistry()
	}
	if h.BusyMessage == "" {
		h.BusyMessage = DefaultBusyMessage
	}
	if h.BaseContext == nil {
		h.BaseContext = context.Background()
	}
	h.Sessions.Registry = h.Registry
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		// Twilio does not send an Origin header.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return &h
}

// IncomingCall answers the voice webhook with TwiML that streams the call's
// audio to MediaStreamPath.
func (h *Handlers) IncomingCall(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if form.CallSid != "" {
		ok, err := h.Limiter.Acquire(c.Request.Context(), form.CallSid)
		if err != nil {
			// Fail open.
			log.Error("call cap acquire failed", "call_sid", form.CallSid, "err", err)
			ok = true
		}
		if !ok {
			h.Metrics.CallRejected()
			log.Warn("call rejected at capacity", "call_sid", form.CallSid)
			h.writeTwiML(c, func() (string, error) { return RenderBusy(h.BusyMessage) })
			return
		}
		h.Registry.Register(form.CallSid, form.From, form.To)
	}

	streamURL := StreamURL(c.Request, h.PublicHost)
	params := []StreamParam{{Name: "callSid", Value: form.CallSid}, {Name: "from", Value: form.From}}
	log.Info("incoming call", "call_sid", form.CallSid, "stream_url", streamURL)
	h.writeTwiML(c, func() (string, error) { return RenderConnectStream(streamURL, params, h.FallbackMessage) })
}

func (h *Handlers) writeTwiML(c *gin.Context, render func() (string, error)) {
	twiml, err := render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// CallStatus tracks status callbacks and frees call-scoped resources once a
// call reaches a terminal state.
func (h *Handlers) CallStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioStatus(c.Request)
	if err != nil {
		log.Warn("call status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	known := h.Registry.SetStatus(form.CallSid, form.CallStatus)
	if form.CallStatus.Terminal() {
		if err := h.Limiter.Release(c.Request.Context(), form.CallSid); err != nil {
			log.Error("call cap release failed", "call_sid", form.CallSid, "err", err)
		}
	}
	log.Info("call status", "call_sid", form.CallSid, "status", form.CallStatus, "known", known)
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// MediaStream upgrades Twilio's stream connection and runs one call
// session on it until the call ends.
func (h *Handlers) MediaStream(c *gin.Context) {
	log := logger.FromGin(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media stream upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	deps := h.Sessions
	deps.Logger = log
	sess := calls.NewSession(deps)
	log.Info("media stream connected", "call_id", sess.ID())

	// Server shutdown does not track hijacked connections; canceling
	// BaseContext is what ends live calls.
	sess.Handle(h.BaseContext, ws)

	if sid := sess.CallSID(); sid != "" {
		if err := h.Limiter.Release(context.WithoutCancel(h.BaseContext), sid); err != nil {
			log.Error("call cap release failed", "call_sid", sid, "err", err)
		}
	}
	log.Info("media stream closed", "call_id", sess.ID())
}

// StreamURL builds the media-stream websocket URL for r. The scheme is wss
// iff the webhook itself arrived over TLS, directly or via a proxy.
func StreamURL(r *http.Request, publicHost string) string {
	scheme := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "wss"
	}
	host := strings.TrimSpace(publicHost)
	if host == "" {
		host = r.Header.Get("X-Forwarded-Host")
	}
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + MediaStreamPath
}
