package speech

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverSpeechPair builds STT/TTS backends that prefer the primary and
// automatically switch both to fallback when a primary request fails. Once
// fallback succeeds, it stays active until fallback fails; then primary is
// retried.
func NewFailoverSpeechPair(
	primarySTT Transcriber,
	primaryTTS Synthesizer,
	fallbackSTT Transcriber,
	fallbackTTS Synthesizer,
) (Transcriber, Synthesizer) {
	state := &failoverState{}
	return &failoverTranscriber{
			state:    state,
			primary:  primarySTT,
			fallback: fallbackSTT,
		}, &failoverSynthesizer{
			state:    state,
			primary:  primaryTTS,
			fallback: fallbackTTS,
		}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

func (s *failoverState) activateFallback() {
	s.fallbackActive.Store(true)
}

func (s *failoverState) deactivateFallback() {
	s.fallbackActive.Store(false)
}

func (s *failoverState) isFallbackActive() bool {
	return s.fallbackActive.Load()
}

type failoverTranscriber struct {
	state    *failoverState
	primary  Transcriber
	fallback Transcriber
}

func (t *failoverTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if t.state.isFallbackActive() {
		text, fbErr := t.fallback.Transcribe(ctx, wav)
		if fbErr == nil {
			return text, nil
		}
		// Fallback failed after being active; try primary again.
		text, prErr := t.primary.Transcribe(ctx, wav)
		if prErr == nil {
			t.state.deactivateFallback()
			return text, nil
		}
		return "", fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	text, prErr := t.primary.Transcribe(ctx, wav)
	if prErr == nil {
		return text, nil
	}

	text, fbErr := t.fallback.Transcribe(ctx, wav)
	if fbErr != nil {
		return "", fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	t.state.activateFallback()
	return text, nil
}

type failoverSynthesizer struct {
	state    *failoverState
	primary  Synthesizer
	fallback Synthesizer
}

func (s *failoverSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.state.isFallbackActive() {
		wav, fbErr := s.fallback.Synthesize(ctx, text)
		if fbErr == nil {
			return wav, nil
		}
		// Fallback failed after being active; try primary again.
		wav, prErr := s.primary.Synthesize(ctx, text)
		if prErr == nil {
			s.state.deactivateFallback()
			return wav, nil
		}
		return nil, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	wav, prErr := s.primary.Synthesize(ctx, text)
	if prErr == nil {
		return wav, nil
	}

	wav, fbErr := s.fallback.Synthesize(ctx, text)
	if fbErr != nil {
		return nil, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	s.state.activateFallback()
	return wav, nil
}
