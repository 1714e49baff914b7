package segment

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func voicedChunk(samples int, amplitude int16) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

func silentChunk(samples int) []byte {
	return make([]byte, samples*2)
}

func testConfig() Config {
	return Config{
		EnergyThreshold:   40,
		SilenceWindow:     30 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		MaxWait:           500 * time.Millisecond,
		MinUtteranceBytes: 64,
	}
}

func TestCaptureCompleteUtterance(t *testing.T) {
	q := NewQueue()
	q.Push(voicedChunk(100, 1000))
	q.Push(voicedChunk(100, 1000))

	seg := NewSegmenter(testConfig())
	pcm, err := seg.Capture(context.Background(), q)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(pcm) != 400 {
		t.Fatalf("len = %d, want 400", len(pcm))
	}
}

func TestCaptureIncludesLeadingSilence(t *testing.T) {
	q := NewQueue()
	q.Push(silentChunk(50))
	q.Push(voicedChunk(100, 1000))

	seg := NewSegmenter(testConfig())
	pcm, err := seg.Capture(context.Background(), q)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(pcm) != 300 {
		t.Fatalf("len = %d, want 300", len(pcm))
	}
}

func TestCaptureTimesOutOnSilence(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWait = 40 * time.Millisecond

	q := NewQueue()
	q.Push(silentChunk(200))

	seg := NewSegmenter(cfg)
	pcm, err := seg.Capture(context.Background(), q)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if pcm != nil {
		t.Fatalf("pcm = %d bytes, want nil", len(pcm))
	}
}

func TestCaptureDiscardsTooShortUtterance(t *testing.T) {
	cfg := testConfig()
	cfg.MinUtteranceBytes = 3200

	q := NewQueue()
	q.Push(voicedChunk(100, 1000)) // 200 bytes, below minimum

	seg := NewSegmenter(cfg)
	pcm, err := seg.Capture(context.Background(), q)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if pcm != nil {
		t.Fatalf("pcm = %d bytes, want nil", len(pcm))
	}
}

func TestCaptureStreamEnded(t *testing.T) {
	q := NewQueue()
	q.Push(voicedChunk(100, 1000))
	q.End()

	seg := NewSegmenter(testConfig())
	pcm, err := seg.Capture(context.Background(), q)
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("error = %v, want ErrStreamEnded", err)
	}
	if len(pcm) != 200 {
		t.Fatalf("len = %d, want 200", len(pcm))
	}
}

func TestCaptureStreamEndedWithoutSpeech(t *testing.T) {
	q := NewQueue()
	q.End()

	seg := NewSegmenter(testConfig())
	pcm, err := seg.Capture(context.Background(), q)
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("error = %v, want ErrStreamEnded", err)
	}
	if pcm != nil {
		t.Fatalf("pcm = %d bytes, want nil", len(pcm))
	}
}

func TestCaptureContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seg := NewSegmenter(testConfig())
	if _, err := seg.Capture(ctx, NewQueue()); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestQueuePushAfterEndDropped(t *testing.T) {
	q := NewQueue()
	q.End()
	q.Push(voicedChunk(10, 500))

	chunks, ended := q.Drain()
	if !ended {
		t.Fatalf("ended = false, want true")
	}
	if len(chunks) != 0 {
		t.Fatalf("len(chunks) = %d, want 0", len(chunks))
	}
}

func TestQueueDrainClears(t *testing.T) {
	q := NewQueue()
	q.Push(voicedChunk(10, 500))
	q.Push(voicedChunk(10, 500))
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}

	chunks, _ := q.Drain()
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if q.Len() != 0 {
		t.Fatalf("Len after Drain = %d, want 0", q.Len())
	}
}
