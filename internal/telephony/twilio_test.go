package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTwilioClient_Hangup(t *testing.T) {
	var gotPath, gotStatus, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotStatus = r.PostFormValue("Status")
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"completed"}`))
	}))
	defer srv.Close()

	c := NewTwilioClient("AC1", "secret").WithBaseURL(srv.URL)
	if err := c.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls/CA1.json" || gotStatus != "completed" || gotUser != "AC1" {
		t.Fatalf("unexpected request: path=%s status=%s user=%s", gotPath, gotStatus, gotUser)
	}
}

func TestTwilioClient_HangupErrors(t *testing.T) {
	if err := NewTwilioClient("", "").Hangup(context.Background(), "CA1"); !errors.Is(err, ErrTwilioNotConfigured) {
		t.Fatalf("expected ErrTwilioNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewTwilioClient("AC1", "secret").WithBaseURL(srv.URL)
	if err := c.Hangup(context.Background(), "CA404"); err == nil {
		t.Fatalf("expected error for 404")
	}
}
