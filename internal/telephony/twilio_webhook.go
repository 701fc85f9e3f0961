package telephony

import (
	"errors"
	"net/http"
	"strings"

	"callbridge/internal/calls"
)

var ErrMissingCallSid = errors.New("telephony: CallSid is required")

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default; the incoming-call
// route also accepts GET, so query values are read too.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioInboundForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	return TwilioInboundForm{
		CallSid:    strings.TrimSpace(r.FormValue("CallSid")),
		AccountSid: r.FormValue("AccountSid"),
		From:       normalizePhone(r.FormValue("From")),
		To:         normalizePhone(r.FormValue("To")),
		Direction:  r.FormValue("Direction"),
		CallStatus: r.FormValue("CallStatus"),
		CallerName: r.FormValue("CallerName"),
	}, nil
}

// TwilioStatusForm is a status callback.
type TwilioStatusForm struct {
	CallSid      string
	CallStatus   calls.Status
	CallDuration string
}

func ParseTwilioStatus(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus:   calls.Status(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		CallDuration: r.PostFormValue("CallDuration"),
	}
	if f.CallSid == "" {
		return f, ErrMissingCallSid
	}
	return f, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}
