package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/reporting"
	"callbridge/internal/store"

	"github.com/gin-gonic/gin"
)

func withReports(h Handlers) *gin.Engine {
	r := newRouter(h)
	r.GET("/api/calls/history", h.CallHistory)
	r.GET("/api/reports/calls", h.CallsSummary)
	r.GET("/api/audit", h.AuditLog)
	return r
}

func asUser(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: userID, Role: role}))
		c.Next()
	}
}

func TestAuditLog_RecordsSuccessfulMutations(t *testing.T) {
	h := newHandlers(t)
	h.Audit = audit.NewService(audit.NewStoreRepo(store.NewMemoryStore()))

	r := gin.New()
	r.Use(asUser("u-1", "admin"))
	r.POST("/api/appointments", h.CreateAppointment)
	r.DELETE("/api/appointments/:id", h.DeleteAppointment)
	r.GET("/api/audit", h.AuditLog)

	w, body := do(t, r, http.MethodPost, "/api/appointments", booking("10:00"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id := body["appointment"].(map[string]any)["id"].(string)

	if w, _ := do(t, r, http.MethodPost, "/api/appointments", booking("10:00")); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodDelete, "/api/appointments/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w, body = do(t, r, http.MethodGet, "/api/audit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	evs := body["events"].([]any)
	if len(evs) != 2 {
		t.Fatalf("expected 2 audit events, got %d: %s", len(evs), w.Body.String())
	}
	first := evs[0].(map[string]any)
	second := evs[1].(map[string]any)
	if first["type"] != string(audit.EventTypeAppointmentDeleted) || second["type"] != string(audit.EventTypeAppointmentCreated) {
		t.Fatalf("expected newest first, got %v then %v", first["type"], second["type"])
	}
	if first["appointment_id"] != id || first["actor_user_id"] != "u-1" || first["actor_role"] != "admin" {
		t.Fatalf("unexpected audit event %v", first)
	}
	if first["ip_address"] == "" || first["ip_address"] == nil {
		t.Fatalf("expected client ip recorded, got %v", first)
	}
}

func TestAuditLog_AnonymousHangup(t *testing.T) {
	h := newHandlers(t)
	h.Audit = audit.NewService(audit.NewStoreRepo(store.NewMemoryStore()))
	h.Hanger = &fakeHanger{configured: true}
	h.Calls.Register("CA1", "+40722123456", "")
	r := withReports(h)

	if w, _ := do(t, r, http.MethodPost, "/api/calls/CA1/hangup", nil); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	w, body := do(t, r, http.MethodGet, "/api/audit?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	evs := body["events"].([]any)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0].(map[string]any)
	if e["type"] != string(audit.EventTypeCallHangup) || e["call_sid"] != "CA1" || e["actor_user_id"] != "anonymous" {
		t.Fatalf("unexpected hangup event %v", e)
	}
}

func TestAuditLog_LimitAndDisabled(t *testing.T) {
	h := newHandlers(t)
	r := withReports(h)
	if w, _ := do(t, r, http.MethodGet, "/api/audit", nil); w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without audit service, got %d", w.Code)
	}

	h.Audit = audit.NewService(audit.NewStoreRepo(store.NewMemoryStore()))
	r = withReports(h)
	if w, _ := do(t, r, http.MethodGet, "/api/audit?limit=zero", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	// Mutations still succeed without an audit service.
	h.Audit = nil
	r = withReports(h)
	if w, _ := do(t, r, http.MethodPost, "/api/appointments", booking("09:00")); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func seedCalls(t *testing.T) *reporting.Service {
	t.Helper()
	svc := reporting.NewService(reporting.NewStoreRepo(store.NewMemoryStore(), 0))
	rows := []reporting.CallRecord{
		{ID: "c-old", Outcome: "completed", StartedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), DurationSeconds: 90},
		{ID: "c-1", Outcome: "completed", StartedAt: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), DurationSeconds: 60, FunctionCalls: 2, Bookings: 1},
		{ID: "c-2", Outcome: "edge_closed", StartedAt: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), DurationSeconds: 30},
	}
	for _, c := range rows {
		if err := svc.Record(context.Background(), c); err != nil {
			t.Fatalf("record %s: %v", c.ID, err)
		}
	}
	return svc
}

func TestCallHistory_DefaultsToLastWeek(t *testing.T) {
	h := newHandlers(t)
	h.Reports = seedCalls(t)
	h.Now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }
	r := withReports(h)

	w, body := do(t, r, http.MethodGet, "/api/calls/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rows := body["calls"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 calls in window, got %d", len(rows))
	}
	if rows[0].(map[string]any)["id"] != "c-2" {
		t.Fatalf("expected newest first, got %v", rows[0])
	}

	w, body = do(t, r, http.MethodGet, "/api/calls/history?from=2026-02-01&to=2026-02-01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if rows := body["calls"].([]any); len(rows) != 1 || rows[0].(map[string]any)["id"] != "c-old" {
		t.Fatalf("expected only c-old, got %v", rows)
	}
}

func TestCallsSummary(t *testing.T) {
	h := newHandlers(t)
	h.Reports = seedCalls(t)
	h.Now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }
	r := withReports(h)

	w, body := do(t, r, http.MethodGet, "/api/reports/calls", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["total_calls"] != float64(2) || body["bookings"] != float64(1) || body["conversion_rate"] != 0.5 {
		t.Fatalf("unexpected summary %v", body)
	}
	if body["average_duration_seconds"] != float64(45) {
		t.Fatalf("expected average 45s, got %v", body["average_duration_seconds"])
	}
}

func TestReports_RejectBadRange(t *testing.T) {
	h := newHandlers(t)
	r := withReports(h)
	if w, _ := do(t, r, http.MethodGet, "/api/reports/calls", nil); w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without call log, got %d", w.Code)
	}

	h.Reports = seedCalls(t)
	r = withReports(h)
	for _, q := range []string{"?from=03-01-2026", "?to=tomorrow", "?from=2026-03-10&to=2026-03-01"} {
		if w, _ := do(t, r, http.MethodGet, "/api/calls/history"+q, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, w.Code)
		}
	}
}
