package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioDefaultBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioConfig holds the Twilio account credentials and numbers.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string // default twilioDefaultBaseURL
}

// TwilioVendor places calls through the Twilio REST API. Each call executes
// inline TwiML that opens a bidirectional Media Stream back to this service.
type TwilioVendor struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioVendor(cfg TwilioConfig) (*TwilioVendor, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("twilio account sid is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio auth token is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, errors.New("twilio from number is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = twilioDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &TwilioVendor{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (v *TwilioVendor) Name() string { return "twilio" }

func (v *TwilioVendor) MediaFormat() MediaFormat {
	return MediaFormat{Encoding: EncodingMuLaw, SampleRate: 8000}
}

// Dial creates the outbound call. On answer Twilio runs the TwiML, pauses one
// second for the callee to settle, then connects the media stream.
func (v *TwilioVendor) Dial(ctx context.Context, req DialRequest) (string, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", v.cfg.FromNumber)
	form.Set("Twiml", connectStreamTwiML(req.StreamURL))

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", v.cfg.BaseURL, v.cfg.AccountSID)

	var call struct {
		SID string `json:"sid"`
	}
	if err := v.postForm(ctx, endpoint, form, &call); err != nil {
		return "", err
	}
	if call.SID == "" {
		return "", errors.New("twilio response missing call sid")
	}
	return call.SID, nil
}

// Hangup ends an in-progress call by updating its status.
func (v *TwilioVendor) Hangup(ctx context.Context, vendorCallID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", v.cfg.BaseURL, v.cfg.AccountSID, vendorCallID)
	return v.postForm(ctx, endpoint, form, nil)
}

// TwilioAPIError is the decoded Twilio REST error body.
type TwilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *TwilioAPIError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (v *TwilioVendor) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(v.cfg.AccountSID, v.cfg.AuthToken)

	res, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		var apiErr TwilioAPIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("twilio status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func connectStreamTwiML(streamURL string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<Response><Pause length="1"/><Connect><Stream url="` + streamURL + `"/></Connect></Response>`
}
