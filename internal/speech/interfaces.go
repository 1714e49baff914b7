package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transcriber converts one captured utterance (mono PCM16 WAV) to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Synthesizer renders a line of agent speech as mono PCM16 WAV.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config controls speech backend construction.
type Config struct {
	Mode   string
	STTURL string
	TTSURL string
	APIKey string
	Voice  string
}

func NewTranscriber(cfg Config) (Transcriber, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.STTURL) != "" {
			return NewHTTPTranscriber(cfg.STTURL, cfg.APIKey), nil
		}
		return NewMockTranscriber(), nil
	case "http":
		if strings.TrimSpace(cfg.STTURL) == "" {
			return nil, errors.New("stt url is required for http mode")
		}
		return NewHTTPTranscriber(cfg.STTURL, cfg.APIKey), nil
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unsupported speech mode %q", cfg.Mode)
	}
}

func NewSynthesizer(cfg Config) (Synthesizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.TTSURL) != "" {
			return NewHTTPSynthesizer(cfg.TTSURL, cfg.APIKey, cfg.Voice), nil
		}
		return NewMockSynthesizer(), nil
	case "http":
		if strings.TrimSpace(cfg.TTSURL) == "" {
			return nil, errors.New("tts url is required for http mode")
		}
		return NewHTTPSynthesizer(cfg.TTSURL, cfg.APIKey, cfg.Voice), nil
	case "mock":
		return NewMockSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unsupported speech mode %q", cfg.Mode)
	}
}
