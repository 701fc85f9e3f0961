package schedule

import (
	"errors"
	"reflect"
	"testing"
)

func TestGenerateSlots_HalfOpenEnd(t *testing.T) {
	got, err := GenerateSlots(WorkingHours{Start: "08:00", End: "09:00", SlotDurationMinutes: 30})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []string{"08:00", "08:30"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestGenerateSlots_StrictlyIncreasingAndBeforeEnd(t *testing.T) {
	windows := []WorkingHours{
		{Start: "08:00", End: "18:00", SlotDurationMinutes: 30},
		{Start: "09:15", End: "12:40", SlotDurationMinutes: 45},
		{Start: "07:00", End: "07:59", SlotDurationMinutes: 20},
		{Start: "10:00", End: "10:00", SlotDurationMinutes: 15},
		{Start: "13:00", End: "12:00", SlotDurationMinutes: 15},
		{Start: "00:00", End: "23:59", SlotDurationMinutes: 7},
	}
	for _, w := range windows {
		slots, err := GenerateSlots(w)
		if err != nil {
			t.Fatalf("%+v: %v", w, err)
		}
		end, _ := ParseClock(w.End)
		prev := -1
		for _, s := range slots {
			m, err := ParseClock(s)
			if err != nil {
				t.Fatalf("%+v: bad slot %q", w, s)
			}
			if m <= prev {
				t.Fatalf("%+v: not strictly increasing at %q", w, s)
			}
			if m >= end {
				t.Fatalf("%+v: slot %q at or after end", w, s)
			}
			prev = m
		}
	}
}

func TestGenerateSlots_NonDividingDuration(t *testing.T) {
	got, err := GenerateSlots(WorkingHours{Start: "08:00", End: "10:00", SlotDurationMinutes: 45})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []string{"08:00", "08:45", "09:30"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestGenerateSlots_RejectsBadInput(t *testing.T) {
	cases := []WorkingHours{
		{Start: "8", End: "09:00", SlotDurationMinutes: 30},
		{Start: "08:00", End: "24:00", SlotDurationMinutes: 30},
		{Start: "08:00", End: "09:00", SlotDurationMinutes: 0},
		{Start: "08:61", End: "09:00", SlotDurationMinutes: 30},
	}
	for _, w := range cases {
		if _, err := GenerateSlots(w); !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("%+v: expected ErrInvalidTime, got %v", w, err)
		}
	}
}

func TestAvailable_ExactDifference(t *testing.T) {
	all := []string{"08:00", "08:30"}
	got := Available(all, map[string]struct{}{"08:00": {}})
	if !reflect.DeepEqual(got, []string{"08:30"}) {
		t.Fatalf("got %v", got)
	}

	all = []string{"08:00", "08:30", "09:00", "09:30"}
	booked := map[string]struct{}{"08:30": {}, "09:30": {}, "11:00": {}}
	got = Available(all, booked)
	if !reflect.DeepEqual(got, []string{"08:00", "09:00"}) {
		t.Fatalf("got %v", got)
	}
	for _, s := range got {
		if _, ok := booked[s]; ok {
			t.Fatalf("booked slot %q leaked into available", s)
		}
	}
}

func TestAvailableSlots_Deterministic(t *testing.T) {
	w := DefaultWorkingHours()
	a, err := AvailableSlots(w, []string{"12:00", "08:00"})
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	b, _ := AvailableSlots(w, []string{"08:00", "12:00"})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical output for identical inputs")
	}
	if len(a) != 18 || a[0] != "08:30" {
		t.Fatalf("unexpected slots: %v", a)
	}
}

func TestWithDefaults(t *testing.T) {
	w := WorkingHours{End: "16:00"}.WithDefaults()
	if w.Start != "08:00" || w.End != "16:00" || w.SlotDurationMinutes != 30 {
		t.Fatalf("unexpected defaults: %+v", w)
	}
}
