package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/outdial/internal/audio"
	"github.com/ent0n29/outdial/internal/observability"
)

const (
	// Twilio media frames carry 8 kHz mu-law, one byte per sample.
	twilioChunkBytes     = 640 // 80 ms per outbound media message
	twilioBytesPerSecond = 8000

	streamReadTimeout  = 120 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// twilioStreamMessage is the Media Streams envelope (camelCase JSON).
type twilioStreamMessage struct {
	Event     string             `json:"event"`
	StreamSID string             `json:"streamSid,omitempty"`
	Start     *twilioStreamStart `json:"start,omitempty"`
	Media     *twilioStreamMedia `json:"media,omitempty"`
	Mark      *twilioStreamMark  `json:"mark,omitempty"`
	Stop      *twilioStreamStop  `json:"stop,omitempty"`
	DTMF      *twilioStreamDTMF  `json:"dtmf,omitempty"`
}

type twilioStreamStart struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  twilioMediaFormat `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type twilioMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type twilioStreamMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type twilioStreamMark struct {
	Name string `json:"name"`
}

type twilioStreamStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type twilioStreamDTMF struct {
	Digit string `json:"digit"`
}

// TwilioStream is the outbound half of one connected Media Stream.
type TwilioStream struct {
	conn      *websocket.Conn
	streamSID string
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *TwilioStream) StreamID() string { return s.streamSID }

// Clear tells Twilio to drop any audio still buffered for playback.
func (s *TwilioStream) Clear(_ context.Context) error {
	return s.writeJSON(twilioStreamMessage{Event: "clear", StreamSID: s.streamSID})
}

// SendAudio clears pending playback, mu-law-encodes the canonical PCM, ships
// it in fixed-size media messages, then blocks for the playback duration.
func (s *TwilioStream) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := s.Clear(ctx); err != nil {
		return fmt.Errorf("clear playback: %w", err)
	}

	encoded := audio.EncodeMuLaw(pcm)
	for off := 0; off < len(encoded); off += twilioChunkBytes {
		end := off + twilioChunkBytes
		if end > len(encoded) {
			end = len(encoded)
		}
		msg := twilioStreamMessage{
			Event:     "media",
			StreamSID: s.streamSID,
			Media:     &twilioStreamMedia{Payload: base64.StdEncoding.EncodeToString(encoded[off:end])},
		}
		if err := s.writeJSON(msg); err != nil {
			return fmt.Errorf("send media: %w", err)
		}
	}

	return waitPlayback(ctx, len(encoded), twilioBytesPerSecond)
}

func (s *TwilioStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *TwilioStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(v)
}

// ServeTwilioStream drives one Twilio Media Streams websocket until the
// vendor stops the stream or the connection drops. The read side lives here;
// the attached call writes through the TwilioStream handed to the attacher.
func ServeTwilioStream(ctx context.Context, conn *websocket.Conn, attacher Attacher, metrics *observability.Metrics) {
	stream := &TwilioStream{conn: conn}
	defer stream.Close()

	var sink AudioSink
	defer func() {
		if sink != nil {
			sink.End()
		}
	}()

	conn.SetReadLimit(1 << 20)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("telephony: twilio stream %s read: %v", stream.streamSID, err)
			}
			return
		}

		var msg twilioStreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		metrics.ObserveVendorMessage("twilio", "in", msg.Event)

		switch msg.Event {
		case "connected":
			log.Printf("telephony: twilio stream protocol connected")

		case "start":
			if msg.Start == nil {
				continue
			}
			stream.streamSID = msg.Start.StreamSID
			sink, err = attacher.AttachStream(ctx, "twilio", msg.Start.CallSID, stream)
			if err != nil {
				metrics.ObserveVendorError("twilio", "uncorrelated_stream")
				log.Printf("telephony: twilio stream %s for call %s: %v", msg.Start.StreamSID, msg.Start.CallSID, err)
				return
			}
			log.Printf("telephony: twilio stream %s attached (call %s)", msg.Start.StreamSID, msg.Start.CallSID)

		case "media":
			if sink == nil || msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			encoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			sink.Push(audio.DecodeMuLaw(encoded))

		case "dtmf":
			if msg.DTMF != nil {
				log.Printf("telephony: twilio stream %s received dtmf %q", stream.streamSID, msg.DTMF.Digit)
			}

		case "mark":
			// Playback marker. Pacing is time-based, nothing to synchronize.

		case "stop":
			log.Printf("telephony: twilio stream %s stopped", stream.streamSID)
			return
		}
	}
}
