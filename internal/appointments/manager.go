// Package appointments books, edits and cancels clinic appointments.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"callbridge/internal/events"
	"callbridge/internal/schedule"
	"callbridge/internal/store"

	"github.com/google/uuid"
)

const (
	DateLayout       = "2006-01-02"
	DefaultCreatedBy = "ai-assistant"
)

// Booking outcomes reported to OnBooking.
const (
	OutcomeCreated  = "created"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

var ErrInvalidArgument = errors.New("appointments: invalid argument")

// HoursFunc returns the working hours bookings must fall on.
type HoursFunc func(ctx context.Context) (schedule.WorkingHours, error)

type Options struct {
	// Hours, when set, restricts bookings to generated slot starts.
	Hours HoursFunc
	// OnBooking observes every Create outcome.
	OnBooking func(outcome string)
	Now       func() time.Time
	Logger    *slog.Logger
}

// Manager owns the appointments collection. Availability checks and writes
// run inside one store.Update, so they hold the collection lock together.
type Manager struct {
	store     store.Store
	publisher events.Publisher
	hours     HoursFunc
	onBooking func(string)
	clock     func() time.Time
	log       *slog.Logger
}

func NewManager(s store.Store, pub events.Publisher, opts Options) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnBooking == nil {
		opts.OnBooking = func(string) {}
	}
	return &Manager{
		store:     s,
		publisher: pub,
		hours:     opts.Hours,
		onBooking: opts.OnBooking,
		clock:     opts.Now,
		log:       opts.Logger,
	}
}

// Today returns the manager's current date in DateLayout.
func (m *Manager) Today() string {
	return m.clock().Format(DateLayout)
}

func (m *Manager) Create(ctx context.Context, in CreateInput) (Result, error) {
	in.DoctorID = strings.TrimSpace(in.DoctorID)
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.PatientPhone = strings.TrimSpace(in.PatientPhone)
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	if in.CreatedBy == "" {
		in.CreatedBy = DefaultCreatedBy
	}

	clock, msg := m.validateSlot(ctx, in.Date, in.Time)
	if msg != "" {
		m.onBooking(OutcomeInvalid)
		return fail(msg), nil
	}
	in.Time = clock
	if in.DoctorID == "" || in.PatientName == "" || in.PatientPhone == "" || in.ServiceID == "" {
		m.onBooking(OutcomeInvalid)
		return fail("doctor_id, patient_name, patient_phone and service_id are required"), nil
	}

	var (
		created  Appointment
		conflict bool
	)
	err := store.MutateList(ctx, m.store, store.CollectionAppointments, func(list []store.Record) ([]store.Record, bool, error) {
		existing, err := fromRecords(list)
		if err != nil {
			return nil, false, err
		}
		if slotTaken(existing, in.DoctorID, in.Date, in.Time, "") {
			conflict = true
			return nil, false, nil
		}

		created = Appointment{
			ID:           newID(existing),
			DoctorID:     in.DoctorID,
			Date:         in.Date,
			Time:         in.Time,
			PatientName:  in.PatientName,
			PatientPhone: in.PatientPhone,
			ServiceID:    in.ServiceID,
			CreatedAt:    m.clock().UTC().Format(time.RFC3339),
			CreatedBy:    in.CreatedBy,
			Status:       StatusConfirmed,
			Notes:        in.Notes,
		}
		rec, err := toRecord(created)
		if err != nil {
			return nil, false, err
		}
		return append(list, rec), true, nil
	})
	if err != nil {
		m.onBooking(OutcomeError)
		return Result{}, fmt.Errorf("appointments: create: %w", err)
	}
	if conflict {
		m.onBooking(OutcomeConflict)
		return Result{
			Message:  fmt.Sprintf("The %s slot on %s is not available for this doctor.", in.Time, in.Date),
			Conflict: true,
		}, nil
	}

	m.onBooking(OutcomeCreated)
	m.publisher.Publish(events.AppointmentCreated(created))
	m.log.Info("appointment created", "appointment_id", created.ID, "doctor_id", created.DoctorID, "date", created.Date, "time", created.Time)
	return Result{Success: true, Message: "Appointment created.", Appointment: &created}, nil
}

// mutable lists the fields Update may change.
var mutable = map[string]struct{}{
	"doctor_id":     {},
	"date":          {},
	"time":          {},
	"patient_name":  {},
	"patient_phone": {},
	"service_id":    {},
	"status":        {},
	"notes":         {},
}

// Update merges fields into the appointment with the given id. Changing the
// id is rejected; an id equal to the current one is ignored.
func (m *Manager) Update(ctx context.Context, id string, fields map[string]any) (Result, error) {
	if v, ok := fields["id"]; ok {
		if s, _ := v.(string); s != id {
			return fail("the appointment id cannot be changed"), nil
		}
	}
	updates := store.Record{}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		if _, ok := mutable[k]; !ok {
			return fail(fmt.Sprintf("field %q cannot be updated", k)), nil
		}
		s, ok := v.(string)
		if !ok {
			return fail(fmt.Sprintf("field %q must be a string", k)), nil
		}
		updates[k] = strings.TrimSpace(s)
	}
	if st, ok := updates["status"]; ok && st != StatusConfirmed && st != StatusCancelled {
		return fail(fmt.Sprintf("status must be %q or %q", StatusConfirmed, StatusCancelled)), nil
	}

	var (
		updated  Appointment
		found    bool
		conflict bool
		invalid  string
	)
	err := store.MutateList(ctx, m.store, store.CollectionAppointments, func(list []store.Record) ([]store.Record, bool, error) {
		existing, err := fromRecords(list)
		if err != nil {
			return nil, false, err
		}
		idx := -1
		for i, a := range existing {
			if a.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, false, nil
		}
		found = true

		merged := list[idx]
		for k, v := range updates {
			merged[k] = v
		}
		merged["updated_at"] = m.clock().UTC().Format(time.RFC3339)
		next, err := fromRecord(merged)
		if err != nil {
			return nil, false, err
		}

		cur := existing[idx]
		if next.Date != cur.Date || next.Time != cur.Time {
			clock, msg := m.validateSlot(ctx, next.Date, next.Time)
			if msg != "" {
				invalid = msg
				return nil, false, nil
			}
			next.Time = clock
			merged["time"] = clock
		}
		if next.Blocks() && slotTaken(existing, next.DoctorID, next.Date, next.Time, id) {
			conflict = true
			return nil, false, nil
		}

		list[idx] = merged
		updated = next
		return list, true, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("appointments: update: %w", err)
	}
	switch {
	case !found:
		return Result{Message: "Appointment not found.", NotFound: true}, nil
	case invalid != "":
		return fail(invalid), nil
	case conflict:
		return Result{Message: "The requested slot is not available for this doctor.", Conflict: true}, nil
	}

	m.publisher.Publish(events.AppointmentUpdated(updated))
	m.log.Info("appointment updated", "appointment_id", id)
	return Result{Success: true, Message: "Appointment updated.", Appointment: &updated}, nil
}

func (m *Manager) Delete(ctx context.Context, id string) (Result, error) {
	err := store.DeleteFromList(ctx, m.store, store.CollectionAppointments, id)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Message: "Appointment not found.", NotFound: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("appointments: delete: %w", err)
	}
	m.publisher.Publish(events.AppointmentDeleted(id))
	m.log.Info("appointment deleted", "appointment_id", id)
	return Result{Success: true, Message: "Appointment cancelled."}, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Appointment, bool, error) {
	all, err := m.all(ctx)
	if err != nil {
		return Appointment{}, false, err
	}
	for _, a := range all {
		if a.ID == id {
			return a, true, nil
		}
	}
	return Appointment{}, false, nil
}

// List returns appointments on date ordered by date and time. An empty date
// lists everything.
func (m *Manager) List(ctx context.Context, date string) ([]Appointment, error) {
	all, err := m.all(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if date == "" || a.Date == date {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (m *Manager) ForDoctorAndDate(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	day, err := m.List(ctx, date)
	if err != nil {
		return nil, err
	}
	out := day[:0]
	for _, a := range day {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Manager) IsSlotAvailable(ctx context.Context, doctorID, date, clock string) (bool, error) {
	all, err := m.all(ctx)
	if err != nil {
		return false, err
	}
	return !slotTaken(all, doctorID, date, clock, ""), nil
}

// AvailableSlots lists free slot starts for the doctor on date.
func (m *Manager) AvailableSlots(ctx context.Context, doctorID, date string, hours schedule.WorkingHours) ([]string, error) {
	booked, err := m.ForDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return schedule.AvailableSlots(hours, BookedTimes(booked))
}

// BookedTimes returns the slot times held by blocking appointments.
func BookedTimes(list []Appointment) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Blocks() {
			out = append(out, a.Time)
		}
	}
	return out
}

func (m *Manager) all(ctx context.Context) ([]Appointment, error) {
	list, err := store.ReadList(ctx, m.store, store.CollectionAppointments)
	if err != nil {
		return nil, fmt.Errorf("appointments: read: %w", err)
	}
	return fromRecords(list)
}

// validateSlot normalizes clock to HH:MM. It returns a human-readable
// problem, or "" when date and clock form a bookable slot.
func (m *Manager) validateSlot(ctx context.Context, date, clock string) (string, string) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", fmt.Sprintf("date must be YYYY-MM-DD, got %q", date)
	}
	minutes, err := schedule.ParseClock(clock)
	if err != nil {
		return "", fmt.Sprintf("time must be HH:MM, got %q", clock)
	}
	clock = schedule.FormatClock(minutes)
	if m.hours == nil {
		return clock, ""
	}
	hours, err := m.hours(ctx)
	if err != nil {
		m.log.Warn("working hours unavailable, skipping slot alignment check", "err", err)
		return clock, ""
	}
	slots, err := schedule.GenerateSlots(hours)
	if err != nil {
		m.log.Warn("working hours invalid, skipping slot alignment check", "err", err)
		return clock, ""
	}
	for _, s := range slots {
		if s == clock {
			return clock, ""
		}
	}
	return "", fmt.Sprintf("%s is outside working hours (%s-%s, every %d minutes)", clock, hours.Start, hours.End, hours.SlotDurationMinutes)
}

func slotTaken(list []Appointment, doctorID, date, clock, exceptID string) bool {
	for _, a := range list {
		if a.ID == exceptID || !a.Blocks() {
			continue
		}
		if a.DoctorID == doctorID && a.Date == date && a.Time == clock {
			return true
		}
	}
	return false
}

func newID(existing []Appointment) string {
	for {
		id := "apt-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		clash := false
		for _, a := range existing {
			if a.ID == id {
				clash = true
				break
			}
		}
		if !clash {
			return id
		}
	}
}
