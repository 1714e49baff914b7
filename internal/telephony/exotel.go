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

// Mumbai cluster; Exotel operates per-region API hosts.
const exotelDefaultBaseURL = "https://api.in.exotel.com/v1"

// ExotelConfig holds the Exotel account credentials and numbers.
type ExotelConfig struct {
	AccountSID string
	APIKey     string
	APIToken   string
	FromNumber string // exophone used as caller ID
	AppID      string // App Bazaar flow containing the Voicebot applet
	BaseURL    string // default exotelDefaultBaseURL
}

// ExotelVendor places calls through the Exotel REST API. Exotel dials the
// target first, then bridges the answered leg into the App Bazaar flow whose
// Voicebot applet opens the media stream websocket back to this service.
type ExotelVendor struct {
	cfg    ExotelConfig
	client *http.Client
}

func NewExotelVendor(cfg ExotelConfig) (*ExotelVendor, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("exotel account sid is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("exotel api key and token are required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, errors.New("exotel from number is required")
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("exotel app id is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = exotelDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &ExotelVendor{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (v *ExotelVendor) Name() string { return "exotel" }

func (v *ExotelVendor) MediaFormat() MediaFormat {
	return MediaFormat{Encoding: EncodingPCM, SampleRate: 8000}
}

// Dial connects the target number to the configured flow. The stream URL in
// req is not sent anywhere: the Voicebot applet inside the flow carries it.
func (v *ExotelVendor) Dial(ctx context.Context, req DialRequest) (string, error) {
	form := url.Values{}
	form.Set("From", req.To)
	form.Set("CallerId", v.cfg.FromNumber)
	form.Set("Url", fmt.Sprintf("http://my.exotel.com/%s/exoml/start_voice/%s", v.cfg.AccountSID, v.cfg.AppID))

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/connect.json", v.cfg.BaseURL, v.cfg.AccountSID)

	var out struct {
		Call struct {
			Sid string `json:"Sid"`
		} `json:"Call"`
	}
	if err := v.postForm(ctx, endpoint, form, &out); err != nil {
		return "", err
	}
	if out.Call.Sid == "" {
		return "", errors.New("exotel response missing call sid")
	}
	return out.Call.Sid, nil
}

// Hangup ends an in-progress call by updating its status.
func (v *ExotelVendor) Hangup(ctx context.Context, vendorCallID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", v.cfg.BaseURL, v.cfg.AccountSID, vendorCallID)
	return v.postForm(ctx, endpoint, form, nil)
}

// ExotelAPIError is the decoded Exotel REST error body.
type ExotelAPIError struct {
	Status  int    `json:"Status"`
	Message string `json:"Message"`
}

func (e *ExotelAPIError) Error() string {
	return fmt.Sprintf("exotel error %d: %s", e.Status, e.Message)
}

func (v *ExotelVendor) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(v.cfg.APIKey, v.cfg.APIToken)

	res, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		var wrapped struct {
			RestException ExotelAPIError `json:"RestException"`
		}
		if json.Unmarshal(body, &wrapped) == nil && wrapped.RestException.Message != "" {
			if wrapped.RestException.Status == 0 {
				wrapped.RestException.Status = res.StatusCode
			}
			return &wrapped.RestException
		}
		return fmt.Errorf("exotel status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
