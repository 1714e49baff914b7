package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPPlanner forwards turn context to a decision endpoint and expects a
// single JSON action back.
type HTTPPlanner struct {
	url    string
	client *http.Client
}

func NewHTTPPlanner(url string) *HTTPPlanner {
	return &HTTPPlanner{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *HTTPPlanner) Decide(ctx context.Context, req DecideRequest) (Action, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Action{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return Action{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(httpReq)
	if err != nil {
		return Action{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Action{}, fmt.Errorf("agent http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return Action{}, fmt.Errorf("read response: %w", err)
	}
	return parseAction(body)
}

// parseAction tolerates the common field aliases decision endpoints use.
func parseAction(body []byte) (Action, error) {
	var raw struct {
		Action     string `json:"action"`
		Type       string `json:"type"`
		SpeechText string `json:"speech_text"`
		Text       string `json:"text"`
		DTMFDigits string `json:"dtmf_digits"`
		Digits     string `json:"digits"`
		Reasoning  string `json:"reasoning"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}

	kind := strings.ToLower(strings.TrimSpace(firstNonEmpty(raw.Action, raw.Type)))
	action := Action{
		Type:       ActionType(kind),
		SpeechText: strings.TrimSpace(firstNonEmpty(raw.SpeechText, raw.Text)),
		DTMFDigits: strings.TrimSpace(firstNonEmpty(raw.DTMFDigits, raw.Digits)),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}
	if err := validateAction(action); err != nil {
		return Action{}, err
	}
	return action, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
