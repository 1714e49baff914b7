package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/outdial/internal/reliability"
)

const (
	httpSendAttempts = 2
	httpRetryBase    = 200 * time.Millisecond
	httpRetryCap     = time.Second
)

// postWithRetry sends payload and re-sends once when the endpoint answers
// with a transient status. The final response is returned as-is so callers
// keep their own status and body handling.
func postWithRetry(ctx context.Context, client *http.Client, url, contentType, apiKey string, payload []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		res, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		if attempt >= httpSendAttempts-1 || !reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return res, nil
		}
		res.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, httpRetryBase, httpRetryCap)):
		}
	}
}

// HTTPTranscriber posts utterance WAV bytes to a transcription endpoint.
type HTTPTranscriber struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPTranscriber(url, apiKey string) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	res, err := postWithRetry(ctx, t.client, t.url, "audio/wav", t.apiKey, wav)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("stt http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return parseTranscript(body)
}

// parseTranscript accepts either {"text": "..."} or a plain text body.
func parseTranscript(body []byte) (string, error) {
	var obj struct {
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		if t := strings.TrimSpace(obj.Text); t != "" {
			return t, nil
		}
		if t := strings.TrimSpace(obj.Transcript); t != "" {
			return t, nil
		}
		return "", nil
	}
	return strings.TrimSpace(string(body)), nil
}

// HTTPSynthesizer posts text to a synthesis endpoint and expects WAV audio
// back, raw or base64-wrapped in JSON.
type HTTPSynthesizer struct {
	url    string
	apiKey string
	voice  string
	client *http.Client
}

func NewHTTPSynthesizer(url, apiKey, voice string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		voice:  strings.TrimSpace(voice),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"text":   text,
		"voice":  s.voice,
		"format": "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	res, err := postWithRetry(ctx, s.client, s.url, "application/json", s.apiKey, payload)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("tts http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/json") {
		var obj struct {
			AudioBase64 string `json:"audio_base64"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(obj.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		return audio, nil
	}
	return body, nil
}
