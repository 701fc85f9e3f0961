package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// ActorUserID is the authenticated user causing the event. It is
	// "anonymous" when the API runs without auth.
	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`

	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty"`

	// Target identifiers (optional, depending on the event type).
	AppointmentID string `json:"appointment_id,omitempty"`
	CallSID       string `json:"call_sid,omitempty"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeAppointmentCreated EventType = "appointment_created"
	EventTypeAppointmentUpdated EventType = "appointment_updated"
	EventTypeAppointmentDeleted EventType = "appointment_deleted"
	EventTypeCallHangup         EventType = "call_hangup"
)

// Actor identifies who performed an action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
