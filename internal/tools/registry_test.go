package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"callbridge/internal/appointments"
	"callbridge/internal/clinic"
	"callbridge/internal/schedule"
	"callbridge/internal/store"
)

func newRegistry(t *testing.T) (*Registry, *appointments.Manager) {
	t.Helper()
	s := store.NewMemoryStore()
	dir := clinic.NewDirectory(s)
	err := dir.Import(context.Background(), clinic.Seed{
		Clinic: clinic.Clinic{Name: "Zambet Dental", WorkingHours: schedule.WorkingHours{Start: "09:00", End: "11:00", SlotDurationMinutes: 30}},
		Doctors: []clinic.Doctor{
			{ID: "dr-pop", Name: "Dr. Ana Pop", Specialization: "Ortodontie", AvailableServices: []string{"consult"}},
		},
		Services: []clinic.Service{{ID: "consult", Name: "Consultatie", Price: 150, DurationMinutes: 30}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	m := appointments.NewManager(s, nil, appointments.Options{Now: func() time.Time { return now }})
	r, err := NewRegistry(m, dir)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r, m
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return out
}

func bookingArgs(clock string) map[string]any {
	return map[string]any{
		"doctor_id":     "dr-pop",
		"time":          clock,
		"patient_name":  "Ion Ionescu",
		"patient_phone": "+40722123456",
		"service_id":    "consult",
	}
}

func TestDefinitions_ReflectObjectSchemas(t *testing.T) {
	r, _ := newRegistry(t)
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != NameCreateAppointment || defs[1].Name != NameListAvailableSlots {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if defs[0].Type != "function" || defs[0].Description == "" {
		t.Fatalf("unexpected definition: %+v", defs[0])
	}

	var params struct {
		Schema     string                    `json:"$schema"`
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(defs[0].Parameters, &params); err != nil {
		t.Fatalf("decode parameters: %v", err)
	}
	if params.Schema != "" || params.Type != "object" {
		t.Fatalf("unexpected schema header: %+v", params)
	}
	if len(params.Required) != 5 {
		t.Fatalf("expected 5 required fields, got %v", params.Required)
	}
	if params.Properties["time"]["description"] == nil {
		t.Fatalf("expected time description, got %+v", params.Properties["time"])
	}
}

func TestDispatch_CreateAppointmentBooksToday(t *testing.T) {
	r, m := newRegistry(t)
	ctx := context.Background()

	out, err := r.Dispatch(ctx, "0b6f1c2a-aaaa", NameCreateAppointment, bookingArgs("9:30"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := decode(t, out)
	if got["success"] != true {
		t.Fatalf("expected success, got %v", got)
	}
	appt := got["appointment"].(map[string]any)
	if appt["doctor_name"] != "Dr. Ana Pop" || appt["service_name"] != "Consultatie" || appt["date"] != "2026-03-10" || appt["time"] != "09:30" {
		t.Fatalf("unexpected appointment: %v", appt)
	}

	list, err := m.List(ctx, "2026-03-10")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	if list[0].CreatedBy != "call-0b6f1c2a" {
		t.Fatalf("unexpected created_by %q", list[0].CreatedBy)
	}

	out, err = r.Dispatch(ctx, "other", NameCreateAppointment, bookingArgs("09:30"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got = decode(t, out)
	if got["success"] != false || !strings.Contains(got["error"].(string), "not available") {
		t.Fatalf("expected conflict failure, got %v", got)
	}
}

func TestDispatch_CreateAppointmentRejectsUnknownDirectoryIDs(t *testing.T) {
	r, m := newRegistry(t)
	ctx := context.Background()

	args := bookingArgs("10:00")
	args["doctor_id"] = "dr-ghost"
	out, err := r.Dispatch(ctx, "c1", NameCreateAppointment, args)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := decode(t, out); got["success"] != false || got["error"] != "Unknown doctor: dr-ghost" {
		t.Fatalf("expected unknown doctor failure, got %v", got)
	}

	args = bookingArgs("10:00")
	args["service_id"] = "whitening"
	out, err = r.Dispatch(ctx, "c1", NameCreateAppointment, args)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := decode(t, out); got["success"] != false || got["error"] != "Unknown service: whitening" {
		t.Fatalf("expected unknown service failure, got %v", got)
	}

	list, err := m.List(ctx, "2026-03-10")
	if err != nil || len(list) != 0 {
		t.Fatalf("expected nothing booked, got %v %v", list, err)
	}
}

func TestDispatch_InvalidArguments(t *testing.T) {
	r, _ := newRegistry(t)
	args := bookingArgs("10:00")
	delete(args, "patient_name")

	out, err := r.Dispatch(context.Background(), "c1", NameCreateAppointment, args)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := decode(t, out)
	if got["success"] != false || !strings.HasPrefix(got["error"].(string), "invalid arguments") {
		t.Fatalf("expected validation failure, got %v", got)
	}

	out, _ = r.Dispatch(context.Background(), "c1", NameCreateAppointment, nil)
	if decode(t, out)["success"] != false {
		t.Fatalf("expected failure for empty args, got %s", out)
	}
}

func TestDispatch_UnknownFunction(t *testing.T) {
	r, _ := newRegistry(t)
	out, err := r.Dispatch(context.Background(), "c1", "transfer_call", map[string]any{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := decode(t, out)
	if got["success"] != false || got["error"] != "Unknown function: transfer_call" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestDispatch_ListAvailableSlots(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	if _, err := r.Dispatch(ctx, "c1", NameCreateAppointment, bookingArgs("09:30")); err != nil {
		t.Fatalf("book: %v", err)
	}

	out, err := r.Dispatch(ctx, "c1", NameListAvailableSlots, map[string]any{"doctor_id": "dr-pop"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := decode(t, out)
	slots, _ := got["slots"].([]any)
	if got["success"] != true || len(slots) != 3 || slots[0] != "09:00" || slots[1] != "10:00" {
		t.Fatalf("unexpected slots: %v", got)
	}

	out, _ = r.Dispatch(ctx, "c1", NameListAvailableSlots, map[string]any{"doctor_id": "dr-x"})
	if decode(t, out)["success"] != false {
		t.Fatalf("expected unknown doctor failure, got %s", out)
	}
}
