package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string           `xml:"url,attr"`
	Params []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// StreamParam is a <Parameter> forwarded to the media stream's start frame
// as a custom parameter.
type StreamParam struct {
	Name  string
	Value string
}

// RenderConnectStream bridges the call to a bidirectional media stream.
// A non-empty fallback is spoken if the stream ends while the caller is
// still on the line.
func RenderConnectStream(streamURL string, params []StreamParam, fallback string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	st := twimlStream{URL: streamURL}
	for _, p := range params {
		if p.Name == "" || p.Value == "" {
			continue
		}
		st.Params = append(st.Params, twimlParameter{Name: p.Name, Value: p.Value})
	}

	r := twimlResponse{Verbs: []any{twimlConnect{Stream: st}}}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: fallback})
	}
	return render(r)
}

// RenderBusy speaks message and hangs up.
func RenderBusy(message string) (string, error) {
	var r twimlResponse
	if message = strings.TrimSpace(message); message != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: message})
	}
	r.Verbs = append(r.Verbs, twimlHangup{})
	return render(r)
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
