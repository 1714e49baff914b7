package speech

import (
	"context"
	"math"
	"sync"

	"github.com/ent0n29/outdial/internal/audio"
)

// MockTranscriber replays scripted lines, then a fixed default. Deterministic
// stand-in for local runs and the call simulator.
type MockTranscriber struct {
	mu    sync.Mutex
	lines []string
}

func NewMockTranscriber(lines ...string) *MockTranscriber {
	return &MockTranscriber{lines: lines}
}

func (t *MockTranscriber) Transcribe(ctx context.Context, _ []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return "Sure, that works for me.", nil
	}
	line := t.lines[0]
	t.lines = t.lines[1:]
	return line, nil
}

const (
	mockToneHz         = 440.0
	mockToneSampleRate = 8000
	mockToneAmplitude  = 0.3
)

// MockSynthesizer renders a flat tone sized to the text instead of calling a
// TTS backend.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (s *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Roughly 60 ms of tone per character, clamped to keep playback short.
	ms := 60 * len(text)
	if ms < 200 {
		ms = 200
	}
	if ms > 3000 {
		ms = 3000
	}
	samples := mockToneSampleRate * ms / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := mockToneAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(i)/mockToneSampleRate)
		sample := int16(v * math.MaxInt16)
		pcm[2*i] = byte(sample)
		pcm[2*i+1] = byte(sample >> 8)
	}
	return audio.EncodeWAVPCM16LE(pcm, mockToneSampleRate)
}
