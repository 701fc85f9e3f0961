package telephony

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestRenderConnectStream(t *testing.T) {
	out, err := RenderConnectStream("wss://bridge.example/media-stream", []StreamParam{
		{Name: "callSid", Value: "CA123"},
		{Name: "from", Value: "+40722123456"},
		{Name: "empty", Value: ""},
	}, "Sorry, please call again.")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(out, xml.Header) {
		t.Fatalf("expected xml header: %s", out)
	}

	var doc struct {
		Connect struct {
			Stream struct {
				URL    string `xml:"url,attr"`
				Params []struct {
					Name  string `xml:"name,attr"`
					Value string `xml:"value,attr"`
				} `xml:"Parameter"`
			} `xml:"Stream"`
		} `xml:"Connect"`
		Say string `xml:"Say"`
	}
	if err := xml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("parse: %v\n%s", err, out)
	}
	if doc.Connect.Stream.URL != "wss://bridge.example/media-stream" {
		t.Fatalf("unexpected url: %s", out)
	}
	if len(doc.Connect.Stream.Params) != 2 || doc.Connect.Stream.Params[1].Value != "+40722123456" {
		t.Fatalf("unexpected params: %+v", doc.Connect.Stream.Params)
	}
	if doc.Say != "Sorry, please call again." {
		t.Fatalf("unexpected fallback: %q", doc.Say)
	}
	if strings.Index(out, "<Connect>") > strings.Index(out, "<Say>") {
		t.Fatalf("expected Say after Connect: %s", out)
	}
}

func TestRenderConnectStreamRequiresURL(t *testing.T) {
	if _, err := RenderConnectStream(" ", nil, ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderBusy(t *testing.T) {
	out, err := RenderBusy("All lines are busy.")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "<Say>All lines are busy.</Say>") || !strings.Contains(out, "<Hangup></Hangup>") {
		t.Fatalf("unexpected busy twiml: %s", out)
	}
}
