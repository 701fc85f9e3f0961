package main

import (
	"context"
	"net/http"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/httpapi"
	"callbridge/internal/rbac"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
// callsCtx outlives requests and is canceled to end live calls on shutdown.
func newRouter(a *app, callsCtx context.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(a.log, "/health", "/metrics"))

	api := httpapi.Handlers{
		Directory:    a.directory,
		Appointments: a.appointments,
		Broadcaster:  a.broadcaster,
		Calls:        a.calls,
		Hanger:       a.twilio,
		Audit:        a.audit,
		Reports:      a.reports,
		Version:      Version,
		Environment:  a.cfg.App.Env,
	}

	// public
	r.GET("/health", api.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{})))

	// Twilio webhooks and media stream (public).
	// Twilio signature validation is out of scope; put these behind a trusted network edge.
	{
		h := telephony.NewHandlers(telephony.Handlers{
			Limiter:  a.limiter,
			Registry: a.calls,
			Metrics:  a.metrics,
			Sessions: calls.Deps{
				Directory:      a.directory,
				Appointments:   a.appointments,
				Tools:          a.tools,
				Providers:      a.providers,
				Publisher:      a.broadcaster,
				Metrics:        a.metrics,
				Recorder:       a.reports,
				ConnectTimeout: a.cfg.Provider.ConnectTimeout,
			},
			PublicHost:      a.cfg.App.PublicHost,
			FallbackMessage: a.cfg.Calls.FallbackMessage,
			BaseContext:     callsCtx,
		})
		r.Match([]string{http.MethodGet, http.MethodPost}, "/incoming-call", h.IncomingCall)
		r.POST("/call-status", h.CallStatus)
		r.GET(telephony.MediaStreamPath, h.MediaStream)
	}

	// dashboard websocket
	r.GET("/ws/dashboard", httpapi.NewDashboard(a.broadcaster).Serve)

	// REST API. Open unless JWT_SECRET is set.
	v1 := r.Group("/api")
	readers, writers, admins := guards(a.auth)
	v1.Use(readers...)
	{
		cfg := v1.Group("/config")
		cfg.GET("", api.Config)
		cfg.GET("/clinic", api.Clinic)
		cfg.GET("/doctors", api.Doctors)
		cfg.GET("/services", api.Services)
		cfg.GET("/schedule/:doctor_id", api.Schedule)

		appts := v1.Group("/appointments")
		appts.GET("", api.ListAppointments)
		appts.GET("/:id", api.GetAppointment)
		appts.POST("", append(writers, api.CreateAppointment)...)
		appts.PUT("/:id", append(writers, api.UpdateAppointment)...)
		appts.DELETE("/:id", append(admins, api.DeleteAppointment)...)

		callsGroup := v1.Group("/calls")
		callsGroup.GET("", api.ListCalls)
		callsGroup.GET("/history", api.CallHistory)
		callsGroup.POST("/:call_sid/hangup", append(admins, api.HangupCall)...)

		v1.GET("/reports/calls", api.CallsSummary)
		v1.GET("/audit", append(admins, api.AuditLog)...)
	}

	return r
}

// guards returns the middleware chains for read, write and admin routes.
// With auth disabled every chain is empty.
func guards(m *auth.Manager) (read, write, admin []gin.HandlerFunc) {
	if m == nil {
		return nil, nil, nil
	}
	read = []gin.HandlerFunc{auth.RequireAccessToken(m), rbac.RequireAnyRole(rbac.RoleStaff, rbac.RoleAdmin)}
	write = []gin.HandlerFunc{rbac.RequireAnyRole(rbac.RoleStaff, rbac.RoleAdmin)}
	admin = []gin.HandlerFunc{rbac.RequireAnyRole(rbac.RoleAdmin)}
	return read, write, admin
}
