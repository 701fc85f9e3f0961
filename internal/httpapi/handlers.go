// Package httpapi serves the dashboard: clinic configuration, appointment
// CRUD, live calls, health and the event websocket.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"callbridge/internal/appointments"
	"callbridge/internal/audit"
	"callbridge/internal/calls"
	"callbridge/internal/clinic"
	"callbridge/internal/events"
	"callbridge/internal/reporting"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	ServiceName = "callbridge"

	// CreatedByDashboard marks appointments booked through the REST API.
	CreatedByDashboard = "dashboard"
)

// Hanger ends a live call at the telephony provider.
type Hanger interface {
	Configured() bool
	Hangup(ctx context.Context, callSID string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Directory    *clinic.Directory
	Appointments *appointments.Manager
	Broadcaster  *events.Broadcaster
	Calls        *calls.Registry
	Hanger       Hanger

	// Optional. A nil Audit skips audit logging; a nil Reports disables the
	// report routes.
	Audit   *audit.Service
	Reports *reporting.Service

	Version     string
	Environment string
	Now         func() time.Time
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                "healthy",
		"service":               ServiceName,
		"version":               h.Version,
		"environment":           h.Environment,
		"dashboard_connections": h.Broadcaster.SubscriberCount(),
		"active_calls":          h.Calls.Active(),
	})
}

// --- Config ---

func (h Handlers) Config(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.Directory.Snapshot(ctx)
	if err != nil {
		internalError(c, "clinic lookup failed", err)
		return
	}
	today := h.Appointments.Today()
	appts, err := h.Appointments.List(ctx, today)
	if err != nil {
		internalError(c, "appointments lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"clinic":       snap.Clinic,
		"doctors":      snap.Doctors,
		"services":     snap.Services,
		"appointments": appts,
		"today":        today,
	})
}

func (h Handlers) Clinic(c *gin.Context) {
	cl, err := h.Directory.Clinic(c.Request.Context())
	if err != nil {
		internalError(c, "clinic lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (h Handlers) Doctors(c *gin.Context) {
	docs, err := h.Directory.Doctors(c.Request.Context())
	if err != nil {
		internalError(c, "doctors lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h Handlers) Services(c *gin.Context) {
	svcs, err := h.Directory.Services(c.Request.Context())
	if err != nil {
		internalError(c, "services lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, svcs)
}

// Schedule reports a doctor's booked and free slots for ?date= (default today).
func (h Handlers) Schedule(c *gin.Context) {
	ctx := c.Request.Context()
	date, ok := h.dateParam(c)
	if !ok {
		return
	}

	doc, found, err := h.Directory.Doctor(ctx, c.Param("doctor_id"))
	if err != nil {
		internalError(c, "doctor lookup failed", err)
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "doctor not found"})
		return
	}
	cl, err := h.Directory.Clinic(ctx)
	if err != nil {
		internalError(c, "clinic lookup failed", err)
		return
	}
	booked, err := h.Appointments.ForDoctorAndDate(ctx, doc.ID, date)
	if err != nil {
		internalError(c, "appointments lookup failed", err)
		return
	}
	free, err := h.Appointments.AvailableSlots(ctx, doc.ID, date, cl.WorkingHours)
	if err != nil {
		internalError(c, "slot calculation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"doctor":          doc,
		"date":            date,
		"working_hours":   cl.WorkingHours,
		"appointments":    booked,
		"available_slots": free,
	})
}

// --- Appointments ---

// ListAppointments filters by ?date= (default today). date=all lists everything.
func (h Handlers) ListAppointments(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date != "all" {
		var ok bool
		if date, ok = h.dateParam(c); !ok {
			return
		}
	} else {
		date = ""
	}
	list, err := h.Appointments.List(c.Request.Context(), date)
	if err != nil {
		internalError(c, "appointments lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h Handlers) GetAppointment(c *gin.Context) {
	a, found, err := h.Appointments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, "appointment lookup failed", err)
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "appointment not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) CreateAppointment(c *gin.Context) {
	var in appointments.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in.CreatedBy = CreatedByDashboard

	res, err := h.Appointments.Create(c.Request.Context(), in)
	if err != nil {
		internalError(c, "appointment create failed", err)
		return
	}
	if res.Success {
		h.logAudit(c, func(ctx context.Context, actor audit.Actor) error {
			return h.Audit.LogAppointment(ctx, actor, audit.EventTypeAppointmentCreated, res.Appointment.ID, res.Message)
		})
	}
	writeResult(c, res, http.StatusCreated)
}

func (h Handlers) UpdateAppointment(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := c.Param("id")
	res, err := h.Appointments.Update(c.Request.Context(), id, fields)
	if err != nil {
		internalError(c, "appointment update failed", err)
		return
	}
	if res.Success {
		h.logAudit(c, func(ctx context.Context, actor audit.Actor) error {
			return h.Audit.LogAppointment(ctx, actor, audit.EventTypeAppointmentUpdated, id, res.Message)
		})
	}
	writeResult(c, res, http.StatusOK)
}

func (h Handlers) DeleteAppointment(c *gin.Context) {
	id := c.Param("id")
	res, err := h.Appointments.Delete(c.Request.Context(), id)
	if err != nil {
		internalError(c, "appointment delete failed", err)
		return
	}
	if res.Success {
		h.logAudit(c, func(ctx context.Context, actor audit.Actor) error {
			return h.Audit.LogAppointment(ctx, actor, audit.EventTypeAppointmentDeleted, id, res.Message)
		})
	}
	writeResult(c, res, http.StatusOK)
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.Calls.List(), "active": h.Calls.Active()})
}

// HangupCall ends a live call through the Twilio REST API. The call-status
// callback that follows releases its resources.
func (h Handlers) HangupCall(c *gin.Context) {
	sid := c.Param("call_sid")
	if _, ok := h.Calls.Get(sid); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if h.Hanger == nil || !h.Hanger.Configured() {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "twilio credentials not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.Hanger.Hangup(ctx, sid); err != nil {
		if errors.Is(err, telephony.ErrTwilioNotConfigured) {
			c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "twilio credentials not configured"})
			return
		}
		logger.FromGin(c).Error("hangup failed", "call_sid", sid, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "hangup failed"})
		return
	}
	logger.FromGin(c).Info("call hung up", "call_sid", sid)
	h.logAudit(c, func(ctx context.Context, actor audit.Actor) error {
		return h.Audit.LogHangup(ctx, actor, sid)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "hangup_requested", "call_sid": sid})
}

// --- helpers ---

// dateParam reads ?date=, defaulting to today. It aborts with 400 on a
// malformed date.
func (h Handlers) dateParam(c *gin.Context) (string, bool) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		return h.Appointments.Today(), true
	}
	if _, err := time.Parse(appointments.DateLayout, date); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return "", false
	}
	return date, true
}

// writeResult maps an appointments.Result onto a status code.
func writeResult(c *gin.Context, res appointments.Result, okStatus int) {
	switch {
	case res.Success:
		c.JSON(okStatus, res)
	case res.NotFound:
		c.AbortWithStatusJSON(http.StatusNotFound, res)
	case res.Conflict:
		c.AbortWithStatusJSON(http.StatusConflict, res)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, res)
	}
}

func internalError(c *gin.Context, msg string, err error) {
	logger.FromGin(c).Error(msg, "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}
