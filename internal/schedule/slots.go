// Package schedule computes bookable time slots. Everything here is pure.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidTime = errors.New("schedule: invalid time")

// WorkingHours is a daily window with a fixed slot granularity.
type WorkingHours struct {
	Start               string `json:"start" yaml:"start"`
	End                 string `json:"end" yaml:"end"`
	SlotDurationMinutes int    `json:"slot_duration_minutes" yaml:"slot_duration_minutes"`
}

// DefaultWorkingHours is used when a clinic has none configured.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{Start: "08:00", End: "18:00", SlotDurationMinutes: 30}
}

// WithDefaults fills zero fields from DefaultWorkingHours.
func (w WorkingHours) WithDefaults() WorkingHours {
	d := DefaultWorkingHours()
	if w.Start == "" {
		w.Start = d.Start
	}
	if w.End == "" {
		w.End = d.End
	}
	if w.SlotDurationMinutes == 0 {
		w.SlotDurationMinutes = d.SlotDurationMinutes
	}
	return w
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return hh*60 + mm, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// GenerateSlots lists every slot start in [Start, End) stepping by the slot
// duration. A slot starting at or after End is excluded.
func GenerateSlots(w WorkingHours) ([]string, error) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return nil, err
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return nil, err
	}
	if w.SlotDurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be > 0, got %d", ErrInvalidTime, w.SlotDurationMinutes)
	}

	slots := make([]string, 0, max(0, (end-start)/w.SlotDurationMinutes+1))
	for t := start; t < end; t += w.SlotDurationMinutes {
		slots = append(slots, FormatClock(t))
	}
	return slots, nil
}

// Available returns all minus booked, preserving the order of all.
func Available(all []string, booked map[string]struct{}) []string {
	out := make([]string, 0, len(all))
	for _, s := range all {
		if _, taken := booked[s]; taken {
			continue
		}
		out = append(out, s)
	}
	return out
}

// AvailableSlots generates slots for w and removes booked times.
func AvailableSlots(w WorkingHours, booked []string) ([]string, error) {
	all, err := GenerateSlots(w)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		set[b] = struct{}{}
	}
	return Available(all, set), nil
}
