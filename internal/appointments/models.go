package appointments

import (
	"encoding/json"

	"callbridge/internal/store"
)

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Appointment is one booking. At most one non-cancelled appointment may
// exist per (DoctorID, Date, Time).
type Appointment struct {
	ID           string `json:"id"`
	DoctorID     string `json:"doctor_id"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
	ServiceID    string `json:"service_id"`
	CreatedAt    string `json:"created_at"`
	CreatedBy    string `json:"created_by"`
	Status       string `json:"status"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Blocks reports whether the appointment occupies its slot.
func (a Appointment) Blocks() bool {
	return a.Status != StatusCancelled
}

// CreateInput carries the fields of a new booking.
type CreateInput struct {
	DoctorID     string `json:"doctor_id"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
	ServiceID    string `json:"service_id"`
	CreatedBy    string `json:"created_by,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Result is the outcome of a mutating operation. Application-level failures
// (slot taken, not found, bad input) are reported here, never as errors.
type Result struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Appointment *Appointment `json:"appointment,omitempty"`

	// Conflict is set when the failure was a slot clash.
	Conflict bool `json:"-"`
	NotFound bool `json:"-"`
}

func fail(msg string) Result { return Result{Message: msg} }

func toRecord(a Appointment) (store.Record, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var r store.Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return r, nil
}

func fromRecord(r store.Record) (Appointment, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return Appointment{}, err
	}
	var a Appointment
	if err := json.Unmarshal(b, &a); err != nil {
		return Appointment{}, err
	}
	return a, nil
}

func fromRecords(list []store.Record) ([]Appointment, error) {
	out := make([]Appointment, 0, len(list))
	for _, r := range list {
		a, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
