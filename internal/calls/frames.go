package calls

import "time"

// Twilio Media Streams events.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// InboundFrame is one message from the Twilio edge.
type InboundFrame struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	// Payload is base64 μ-law 8 kHz audio.
	Payload string `json:"payload"`
}

type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// MediaFrame plays audio on the caller's leg.
type MediaFrame struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     outboundMedia `json:"media"`
}

func NewMediaFrame(streamSID, payload string) MediaFrame {
	return MediaFrame{Event: EventMedia, StreamSID: streamSID, Media: outboundMedia{Payload: payload}}
}

// ClearFrame drops audio Twilio has buffered but not yet played.
type ClearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

func NewClearFrame(streamSID string) ClearFrame {
	return ClearFrame{Event: EventClear, StreamSID: streamSID}
}

// EdgeConn is the telephony side of a call. *websocket.Conn satisfies it.
type EdgeConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}
