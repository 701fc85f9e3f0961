// Package prompt renders the voice assistant's system instructions from
// clinic data and the day's bookings.
package prompt

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"callbridge/internal/appointments"
	"callbridge/internal/clinic"
	"callbridge/internal/schedule"
)

// slotPreview caps how many free slots per doctor are listed.
const slotPreview = 5

// Instructions is the rendered prompt plus the opening line the assistant
// should say.
type Instructions struct {
	Text     string
	Greeting string
}

// Input is everything the prompt depends on.
type Input struct {
	Snapshot     clinic.Snapshot
	Appointments []appointments.Appointment
	Date         time.Time

	// Pick chooses a greeting index in [0, n). Nil uses math/rand.
	Pick func(n int) int
}

func Build(in Input) Instructions {
	c := in.Snapshot.Clinic
	hours := c.WorkingHours.WithDefaults()
	greeting := pickGreeting(c, in.Pick)
	day := in.Date.Format(appointments.DateLayout)

	var b strings.Builder
	fmt.Fprintf(&b, "You are the virtual phone receptionist of the dental clinic %q.\n\n", c.Name)
	fmt.Fprintf(&b, "OPENING LINE (say this when the call starts):\n%q\n\n", greeting)

	b.WriteString("CLINIC:\n")
	fmt.Fprintf(&b, "- Name: %s\n", c.Name)
	fmt.Fprintf(&b, "- Address: %s\n", orNA(c.Address))
	fmt.Fprintf(&b, "- Phone: %s\n", orNA(c.Phone))
	fmt.Fprintf(&b, "- Hours: %s - %s\n", hours.Start, hours.End)
	fmt.Fprintf(&b, "- Appointment length: %d minutes\n\n", hours.SlotDurationMinutes)

	b.WriteString("DOCTORS:\n")
	for _, d := range in.Snapshot.Doctors {
		names := make([]string, 0, len(d.AvailableServices))
		for _, sid := range d.AvailableServices {
			names = append(names, in.Snapshot.ServiceName(sid))
		}
		fmt.Fprintf(&b, "- %s (id %s, %s): %s\n", d.Name, d.ID, d.Specialization, strings.Join(names, ", "))
	}

	b.WriteString("\nSERVICES AND PRICES:\n")
	for _, s := range in.Snapshot.Services {
		fmt.Fprintf(&b, "- %s (id %s): %g (%d minutes)", s.Name, s.ID, s.Price, s.DurationMinutes)
		if s.Description != "" {
			fmt.Fprintf(&b, " - %s", s.Description)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nAVAILABILITY FOR TODAY (%s):\n", day)
	b.WriteString(availability(in.Snapshot.Doctors, in.Appointments, day, hours))

	b.WriteString(`
BEHAVIOUR:
1. Be warm, professional and brief: two or three sentences per answer.
2. To book, collect the service, the doctor (or let the caller choose), a free time, the caller's full name and a phone number.
3. Only call create_appointment once you have every detail. Use list_available_slots when you are unsure a time is free.
4. After booking, confirm the details out loud.
5. If a time is taken, offer the nearest free alternatives.
6. Never invent information that is not listed above.
7. The caller may interrupt you; adapt naturally.
`)
	fmt.Fprintf(&b, "\nToday is %s. Bookings are only made for today.\n", day)

	return Instructions{Text: b.String(), Greeting: greeting}
}

func availability(doctors []clinic.Doctor, appts []appointments.Appointment, day string, hours schedule.WorkingHours) string {
	all, err := schedule.GenerateSlots(hours)
	if err != nil {
		return "- Availability unknown (working hours misconfigured).\n"
	}
	var b strings.Builder
	for _, d := range doctors {
		booked := make(map[string]struct{})
		for _, a := range appts {
			if a.DoctorID == d.ID && a.Date == day && a.Blocks() {
				booked[a.Time] = struct{}{}
			}
		}
		free := schedule.Available(all, booked)
		if len(free) == 0 {
			fmt.Fprintf(&b, "- %s: fully booked today\n", d.Name)
			continue
		}
		shown := free
		if len(shown) > slotPreview {
			shown = shown[:slotPreview]
		}
		fmt.Fprintf(&b, "- %s: free at %s", d.Name, strings.Join(shown, ", "))
		if extra := len(free) - len(shown); extra > 0 {
			fmt.Fprintf(&b, " (and %d more)", extra)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pickGreeting(c clinic.Clinic, pick func(int) int) string {
	if len(c.GreetingTemplates) == 0 {
		return fmt.Sprintf("Hello, %s, how can we help you?", c.Name)
	}
	if pick == nil {
		pick = rand.IntN
	}
	return c.GreetingTemplates[pick(len(c.GreetingTemplates))]
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
