package calls

import "time"

// Status is a Twilio call status as reported to the status callback.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
	StatusBusy       Status = "busy"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further media can flow for the call.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled:
		return true
	}
	return false
}

// LiveCall is the registry view of one call.
//
// CallSID is Twilio's id and is known from the webhook onward. CallID is the
// bridge session id and is only set once the media stream has started.
type LiveCall struct {
	CallSID   string    `json:"call_sid"`
	CallID    string    `json:"call_id,omitempty"`
	StreamSID string    `json:"stream_sid,omitempty"`
	Caller    string    `json:"caller"`
	To        string    `json:"to,omitempty"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
