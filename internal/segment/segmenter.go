package segment

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/outdial/internal/audio"
)

// ErrStreamEnded reports that the media stream closed during a capture.
// The utterance collected so far (if any) is still returned alongside it.
var ErrStreamEnded = errors.New("media stream ended")

const (
	defaultEnergyThreshold   = 40.0
	defaultSilenceWindow     = 2 * time.Second
	defaultPollInterval      = 300 * time.Millisecond
	defaultMaxWait           = 45 * time.Second
	defaultMinUtteranceBytes = 3200 // ~0.4 s at 8 kHz PCM16
)

// Config tunes utterance capture. Zero values take the defaults above.
type Config struct {
	EnergyThreshold   float64
	SilenceWindow     time.Duration
	PollInterval      time.Duration
	MaxWait           time.Duration
	MinUtteranceBytes int
}

func (c Config) withDefaults() Config {
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = defaultEnergyThreshold
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = defaultSilenceWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.MinUtteranceBytes <= 0 {
		c.MinUtteranceBytes = defaultMinUtteranceBytes
	}
	return c
}

// Segmenter captures one utterance at a time from an inbound audio queue
// using a mean-amplitude energy gate: speech starts at the first chunk above
// the threshold and ends after SilenceWindow without another voiced chunk.
type Segmenter struct {
	cfg Config
}

func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults()}
}

// Capture polls q until an utterance completes, MaxWait elapses, the queue
// ends, or ctx is cancelled.
//
// Returns:
//   - (pcm, nil): a complete utterance of at least MinUtteranceBytes.
//   - (nil, nil): no usable speech before MaxWait (silence or too short).
//   - (pcm-or-nil, ErrStreamEnded): the stream closed; pcm holds a valid
//     utterance when one was already collected.
//   - (nil, ctx.Err()): the context was cancelled.
func (s *Segmenter) Capture(ctx context.Context, q *Queue) ([]byte, error) {
	deadline := time.Now().Add(s.cfg.MaxWait)

	var (
		buf       []byte
		speech    bool
		lastVoice time.Time
	)

	finish := func() []byte {
		if !speech || len(buf) < s.cfg.MinUtteranceBytes {
			return nil
		}
		return buf
	}

	for time.Now().Before(deadline) {
		chunks, ended := q.Drain()
		for _, chunk := range chunks {
			buf = append(buf, chunk...)
			if audio.ChunkEnergy(chunk) > s.cfg.EnergyThreshold {
				speech = true
				lastVoice = time.Now()
			}
		}
		if ended {
			return finish(), ErrStreamEnded
		}
		if speech && time.Since(lastVoice) >= s.cfg.SilenceWindow {
			return finish(), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
	return finish(), nil
}
