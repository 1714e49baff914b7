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

	"github.com/ent0n29/outdial/internal/observability"
)

const (
	// Exotel streams 8 kHz 16-bit PCM and requires outbound media payloads
	// to be multiples of one 20 ms frame.
	exotelFrameBytes     = 320
	exotelChunkBytes     = 3200 // 200 ms per outbound media message
	exotelBytesPerSecond = 16000
)

// exotelStreamMessage is the Voice Streaming envelope (snake_case JSON).
type exotelStreamMessage struct {
	Event     string             `json:"event"`
	StreamSID string             `json:"stream_sid,omitempty"`
	Start     *exotelStreamStart `json:"start,omitempty"`
	Media     *exotelStreamMedia `json:"media,omitempty"`
	Mark      *exotelStreamMark  `json:"mark,omitempty"`
	Stop      *exotelStreamStop  `json:"stop,omitempty"`
	DTMF      *exotelStreamDTMF  `json:"dtmf,omitempty"`
}

type exotelStreamStart struct {
	StreamSID    string            `json:"stream_sid"`
	CallSID      string            `json:"call_sid"`
	AccountSID   string            `json:"account_sid"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	CustomParams map[string]string `json:"custom_parameters"`
}

type exotelStreamMedia struct {
	Chunk     int    `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type exotelStreamMark struct {
	Name string `json:"name"`
}

type exotelStreamStop struct {
	CallSID string `json:"call_sid"`
	Reason  string `json:"reason"`
}

type exotelStreamDTMF struct {
	Digit string `json:"digit"`
}

// ExotelStream is the outbound half of one connected Voice Streaming socket.
type ExotelStream struct {
	conn      *websocket.Conn
	streamSID string
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *ExotelStream) StreamID() string { return s.streamSID }

// Clear tells Exotel to drop any audio still buffered for playback.
func (s *ExotelStream) Clear(_ context.Context) error {
	return s.writeJSON(exotelStreamMessage{Event: "clear", StreamSID: s.streamSID})
}

// SendAudio clears pending playback, ships the canonical PCM in frame-aligned
// media messages, then blocks for the playback duration. The final chunk is
// zero-padded to the frame size.
func (s *ExotelStream) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := s.Clear(ctx); err != nil {
		return fmt.Errorf("clear playback: %w", err)
	}

	padded := padToFrame(pcm, exotelFrameBytes)
	for off := 0; off < len(padded); off += exotelChunkBytes {
		end := off + exotelChunkBytes
		if end > len(padded) {
			end = len(padded)
		}
		msg := exotelStreamMessage{
			Event:     "media",
			StreamSID: s.streamSID,
			Media:     &exotelStreamMedia{Payload: base64.StdEncoding.EncodeToString(padded[off:end])},
		}
		if err := s.writeJSON(msg); err != nil {
			return fmt.Errorf("send media: %w", err)
		}
	}

	return waitPlayback(ctx, len(pcm), exotelBytesPerSecond)
}

func (s *ExotelStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *ExotelStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(v)
}

// padToFrame zero-pads pcm up to the next multiple of frame bytes.
func padToFrame(pcm []byte, frame int) []byte {
	rem := len(pcm) % frame
	if rem == 0 {
		return pcm
	}
	padded := make([]byte, len(pcm)+frame-rem)
	copy(padded, pcm)
	return padded
}

// ServeExotelStream drives one Exotel Voice Streaming websocket until the
// vendor stops the stream or the connection drops. Inbound media is already
// canonical PCM and passes through unmodified.
func ServeExotelStream(ctx context.Context, conn *websocket.Conn, attacher Attacher, metrics *observability.Metrics) {
	stream := &ExotelStream{conn: conn}
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
				log.Printf("telephony: exotel stream %s read: %v", stream.streamSID, err)
			}
			return
		}

		var msg exotelStreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		metrics.ObserveVendorMessage("exotel", "in", msg.Event)

		switch msg.Event {
		case "connected":
			log.Printf("telephony: exotel stream protocol connected")

		case "start":
			if msg.Start == nil {
				continue
			}
			// Some deployments place stream_sid only at the top level.
			sid := msg.Start.StreamSID
			if sid == "" {
				sid = msg.StreamSID
			}
			stream.streamSID = sid
			sink, err = attacher.AttachStream(ctx, "exotel", msg.Start.CallSID, stream)
			if err != nil {
				metrics.ObserveVendorError("exotel", "uncorrelated_stream")
				log.Printf("telephony: exotel stream %s for call %s: %v", sid, msg.Start.CallSID, err)
				return
			}
			log.Printf("telephony: exotel stream %s attached (call %s, %s -> %s)", sid, msg.Start.CallSID, msg.Start.From, msg.Start.To)

		case "media":
			if sink == nil || msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			sink.Push(pcm)

		case "dtmf":
			if msg.DTMF != nil {
				log.Printf("telephony: exotel stream %s received dtmf %q", stream.streamSID, msg.DTMF.Digit)
			}

		case "mark":
			// Playback marker. Pacing is time-based, nothing to synchronize.

		case "stop":
			log.Printf("telephony: exotel stream %s stopped", stream.streamSID)
			return
		}
	}
}
