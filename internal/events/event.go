package events

import "time"

type Type string

const (
	TypeCallStarted        Type = "call_started"
	TypeCallEnded          Type = "call_ended"
	TypeTranscriptUser     Type = "transcript_user"
	TypeTranscriptAgent    Type = "transcript_agent"
	TypeAppointmentCreated Type = "appointment_created"
	TypeAppointmentUpdated Type = "appointment_updated"
	TypeAppointmentDeleted Type = "appointment_deleted"
	TypeConnectionStatus   Type = "connection_status"
	TypeError              Type = "error"
	TypePong               Type = "pong"

	// TypeShutdown is the sentinel delivered by Broadcaster.Shutdown.
	TypeShutdown Type = "shutdown"
)

// Event is the envelope fanned out to dashboard subscribers.
// It is never persisted.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

func New(t Type, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

func CallStarted(callID, caller string) Event {
	return New(TypeCallStarted, map[string]any{"call_id": callID, "caller_number": caller})
}

func CallEnded(callID string, durationSeconds int) Event {
	return New(TypeCallEnded, map[string]any{"call_id": callID, "duration_seconds": durationSeconds})
}

// Transcript builds a transcript_user or transcript_agent event.
func Transcript(callID, text string, isUser, isFinal bool) Event {
	t := TypeTranscriptAgent
	if isUser {
		t = TypeTranscriptUser
	}
	return New(t, map[string]any{"call_id": callID, "text": text, "is_final": isFinal})
}

func AppointmentCreated(appointment any) Event {
	return New(TypeAppointmentCreated, map[string]any{"appointment": appointment})
}

func AppointmentUpdated(appointment any) Event {
	return New(TypeAppointmentUpdated, map[string]any{"appointment": appointment})
}

func AppointmentDeleted(id string) Event {
	return New(TypeAppointmentDeleted, map[string]any{"appointment_id": id})
}

func Error(code, message string) Event {
	return New(TypeError, map[string]any{"code": code, "message": message})
}

func ConnectionStatus(status, message string) Event {
	return New(TypeConnectionStatus, map[string]any{"status": status, "message": message})
}

func Pong() Event {
	return New(TypePong, nil)
}

func Shutdown() Event {
	return New(TypeShutdown, nil)
}
