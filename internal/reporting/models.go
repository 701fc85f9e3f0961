package reporting

import "time"

// TimeRange is half-open: From <= t < To.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// CallRecord is the durable summary of one finished call. Records are
// append-only.
type CallRecord struct {
	ID       string `json:"id"`
	CallSID  string `json:"call_sid,omitempty"`
	Caller   string `json:"caller,omitempty"`
	Provider string `json:"provider,omitempty"`
	Outcome  string `json:"outcome"`

	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`

	FunctionCalls int `json:"function_calls"`
	// Bookings counts appointments the agent created during the call.
	Bookings int `json:"bookings"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls int            `json:"total_calls"`
	ByOutcome  map[string]int `json:"by_outcome"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	FunctionCalls    int `json:"function_calls"`
	Bookings         int `json:"bookings"`
	CallsWithBooking int `json:"calls_with_booking"`

	// ConversionRate is CallsWithBooking / TotalCalls.
	ConversionRate float64 `json:"conversion_rate"`
}
