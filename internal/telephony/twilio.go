package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const TwilioAPIBase = "https://api.twilio.com"

var ErrTwilioNotConfigured = errors.New("telephony: twilio credentials not configured")

// TwilioClient is the slice of the Twilio REST API the bridge uses.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

func NewTwilioClient(accountSID, authToken string) *TwilioClient {
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    TwilioAPIBase,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the client at another API host.
func (c *TwilioClient) WithBaseURL(u string) *TwilioClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *TwilioClient) Configured() bool {
	return c != nil && c.accountSID != "" && c.authToken != ""
}

// Hangup ends a live call by moving it to the completed state.
func (c *TwilioClient) Hangup(ctx context.Context, callSID string) error {
	if !c.Configured() {
		return ErrTwilioNotConfigured
	}
	if callSID == "" {
		return ErrMissingCallSid
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(callSID))
	form := url.Values{"Status": {"completed"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: hangup request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: hangup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telephony: hangup: twilio status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
