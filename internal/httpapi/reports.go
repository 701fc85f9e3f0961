package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callbridge/internal/appointments"
	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/reporting"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DefaultReportDays is the window used when ?from= is omitted.
const DefaultReportDays = 7

// --- Reports ---

// CallHistory lists finished calls between ?from= and ?to= (inclusive dates),
// newest first.
func (h Handlers) CallHistory(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "call log disabled"})
		return
	}
	rng, ok := h.rangeParam(c)
	if !ok {
		return
	}
	rows, err := h.Reports.History(c.Request.Context(), rng)
	if err != nil {
		reportError(c, "call history failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"range": rng, "calls": rows})
}

func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "call log disabled"})
		return
	}
	rng, ok := h.rangeParam(c)
	if !ok {
		return
	}
	sum, err := h.Reports.CallsSummary(c.Request.Context(), rng)
	if err != nil {
		reportError(c, "calls summary failed", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Audit ---

// AuditLog returns the most recent audit events, newest first.
func (h Handlers) AuditLog(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "audit log disabled"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		internalError(c, "audit lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// logAudit records a mutation. Failures are logged and never fail the request.
func (h Handlers) logAudit(c *gin.Context, log func(ctx context.Context, actor audit.Actor) error) {
	if h.Audit == nil {
		return
	}
	if err := log(c.Request.Context(), actorFrom(c)); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

func actorFrom(c *gin.Context) audit.Actor {
	a := audit.Actor{IP: c.ClientIP()}
	if id, ok := auth.IdentityFrom(c.Request.Context()); ok {
		a.UserID, a.Role = id.UserID, id.Role
	}
	return a
}

// rangeParam reads ?from= and ?to= as YYYY-MM-DD. to defaults to today and
// from to DefaultReportDays before it. Both ends are whole UTC days.
func (h Handlers) rangeParam(c *gin.Context) (reporting.TimeRange, bool) {
	now := h.now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		t, err := time.ParseInLocation(appointments.DateLayout, raw, time.UTC)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return reporting.TimeRange{}, false
		}
		to = t
	}
	from := to.AddDate(0, 0, -(DefaultReportDays - 1))
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		t, err := time.ParseInLocation(appointments.DateLayout, raw, time.UTC)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return reporting.TimeRange{}, false
		}
		from = t
	}
	rng := reporting.TimeRange{From: from, To: to.AddDate(0, 0, 1)}
	if !rng.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
		return reporting.TimeRange{}, false
	}
	return rng, true
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func reportError(c *gin.Context, msg string, err error) {
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	internalError(c, msg, err)
}
