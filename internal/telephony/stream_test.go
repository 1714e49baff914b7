package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/outdial/internal/audio"
)

type fakeSink struct {
	mu     sync.Mutex
	chunks [][]byte
	ended  bool
}

func (s *fakeSink) Push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.chunks = append(s.chunks, cp)
}

func (s *fakeSink) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *fakeSink) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func (s *fakeSink) chunk(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[i]
}

func (s *fakeSink) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

type fakeAttacher struct {
	mu     sync.Mutex
	vendor string
	callID string
	stream OutboundStream
	sink   *fakeSink
	err    error
}

func (a *fakeAttacher) AttachStream(_ context.Context, vendor, vendorCallID string, stream OutboundStream) (AudioSink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vendor = vendor
	a.callID = vendorCallID
	a.stream = stream
	if a.err != nil {
		return nil, a.err
	}
	a.sink = &fakeSink{}
	return a.sink, nil
}

func (a *fakeAttacher) attached() (vendor, callID string, stream OutboundStream, sink *fakeSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vendor, a.callID, a.stream, a.sink
}

// dialStreamServer runs serve on the upgraded server side of a websocket and
// returns the client side.
func dialStreamServer(t *testing.T, serve func(conn *websocket.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustWriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func mustReadJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestServeTwilioStreamDeliversDecodedMedia(t *testing.T) {
	attacher := &fakeAttacher{}
	conn := dialStreamServer(t, func(server *websocket.Conn) {
		ServeTwilioStream(context.Background(), server, attacher, nil)
	})

	mustWriteJSON(t, conn, map[string]any{"event": "connected", "protocol": "Call"})
	mustWriteJSON(t, conn, map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":   "MZ1",
			"callSid":     "CA1",
			"mediaFormat": map[string]any{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	})

	pcm := TonePCM(40 * time.Millisecond)
	payload := base64.StdEncoding.EncodeToString(audio.EncodeMuLaw(pcm))
	mustWriteJSON(t, conn, map[string]any{"event": "media", "media": map[string]any{"payload": payload}})

	waitFor(t, func() bool {
		_, _, _, sink := attacher.attached()
		return sink != nil && sink.chunkCount() == 1
	})

	vendor, callID, stream, sink := attacher.attached()
	if vendor != "twilio" {
		t.Fatalf("vendor = %q, want twilio", vendor)
	}
	if callID != "CA1" {
		t.Fatalf("vendor call id = %q, want CA1", callID)
	}
	if stream.StreamID() != "MZ1" {
		t.Fatalf("stream id = %q, want MZ1", stream.StreamID())
	}
	// mu-law decoding restores one int16 sample per wire byte.
	if got := len(sink.chunk(0)); got != len(pcm) {
		t.Fatalf("decoded chunk = %d bytes, want %d", got, len(pcm))
	}

	mustWriteJSON(t, conn, map[string]any{"event": "stop", "stop": map[string]any{"callSid": "CA1"}})
	waitFor(t, sink.isEnded)
}

func TestServeTwilioStreamUncorrelatedClosesSocket(t *testing.T) {
	attacher := &fakeAttacher{err: ErrUncorrelatedStream}
	conn := dialStreamServer(t, func(server *websocket.Conn) {
		ServeTwilioStream(context.Background(), server, attacher, nil)
	})

	mustWriteJSON(t, conn, map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ9", "callSid": "CA-unknown"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("read succeeded, want closed connection")
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		t.Fatal("socket still open after uncorrelated stream")
	}

	_, _, _, sink := attacher.attached()
	if sink != nil {
		t.Fatal("sink attached for an uncorrelated stream")
	}
}

func TestTwilioStreamSendAudioChunksAndPaces(t *testing.T) {
	pcm := make([]byte, 2000) // 1000 mu-law bytes: chunks of 640 and 360
	sendDone := make(chan error, 1)
	var elapsed time.Duration

	conn := dialStreamServer(t, func(server *websocket.Conn) {
		stream := &TwilioStream{conn: server, streamSID: "MZ1"}
		startAt := time.Now()
		err := stream.SendAudio(context.Background(), pcm)
		elapsed = time.Since(startAt)
		sendDone <- err
	})

	first := mustReadJSON(t, conn)
	if first["event"] != "clear" {
		t.Fatalf("first event = %v, want clear", first["event"])
	}
	if first["streamSid"] != "MZ1" {
		t.Fatalf("clear streamSid = %v, want MZ1", first["streamSid"])
	}

	var sizes []int
	for i := 0; i < 2; i++ {
		msg := mustReadJSON(t, conn)
		if msg["event"] != "media" {
			t.Fatalf("event %d = %v, want media", i, msg["event"])
		}
		media, ok := msg["media"].(map[string]any)
		if !ok {
			t.Fatalf("media payload missing: %v", msg)
		}
		raw, err := base64.StdEncoding.DecodeString(media["payload"].(string))
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		sizes = append(sizes, len(raw))
	}
	if sizes[0] != 640 || sizes[1] != 360 {
		t.Fatalf("chunk sizes = %v, want [640 360]", sizes)
	}

	if err := <-sendDone; err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	// 1000 bytes at 8000 B/s is 125 ms of audio plus the settle margin.
	if elapsed < 400*time.Millisecond {
		t.Fatalf("SendAudio returned after %v, want pacing of at least 400ms", elapsed)
	}
}

func TestServeExotelStreamDeliversMedia(t *testing.T) {
	attacher := &fakeAttacher{}
	conn := dialStreamServer(t, func(server *websocket.Conn) {
		ServeExotelStream(context.Background(), server, attacher, nil)
	})

	mustWriteJSON(t, conn, map[string]any{"event": "connected"})
	// stream_sid arrives at the top level on some deployments.
	mustWriteJSON(t, conn, map[string]any{
		"event":      "start",
		"stream_sid": "EZ9",
		"start":      map[string]any{"call_sid": "ex-1", "from": "08030752222", "to": "+919876543210"},
	})

	pcm := TonePCM(40 * time.Millisecond)
	mustWriteJSON(t, conn, map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(pcm)},
	})
	mustWriteJSON(t, conn, map[string]any{"event": "dtmf", "dtmf": map[string]any{"digit": "4"}})

	waitFor(t, func() bool {
		_, _, _, sink := attacher.attached()
		return sink != nil && sink.chunkCount() == 1
	})

	vendor, callID, stream, sink := attacher.attached()
	if vendor != "exotel" {
		t.Fatalf("vendor = %q, want exotel", vendor)
	}
	if callID != "ex-1" {
		t.Fatalf("vendor call id = %q, want ex-1", callID)
	}
	if stream.StreamID() != "EZ9" {
		t.Fatalf("stream id = %q, want EZ9 from the top-level field", stream.StreamID())
	}
	// PCM passes through unmodified.
	if got := len(sink.chunk(0)); got != len(pcm) {
		t.Fatalf("chunk = %d bytes, want %d", got, len(pcm))
	}

	mustWriteJSON(t, conn, map[string]any{"event": "stop", "stop": map[string]any{"call_sid": "ex-1", "reason": "hangup"}})
	waitFor(t, sink.isEnded)
}

func TestExotelStreamSendAudioPadsAndChunks(t *testing.T) {
	pcm := make([]byte, 3300) // pads to 3520: chunks of 3200 and 320
	sendDone := make(chan error, 1)

	conn := dialStreamServer(t, func(server *websocket.Conn) {
		stream := &ExotelStream{conn: server, streamSID: "EZ1"}
		sendDone <- stream.SendAudio(context.Background(), pcm)
	})

	first := mustReadJSON(t, conn)
	if first["event"] != "clear" {
		t.Fatalf("first event = %v, want clear", first["event"])
	}
	if first["stream_sid"] != "EZ1" {
		t.Fatalf("clear stream_sid = %v, want EZ1", first["stream_sid"])
	}

	var sizes []int
	for i := 0; i < 2; i++ {
		msg := mustReadJSON(t, conn)
		if msg["event"] != "media" {
			t.Fatalf("event %d = %v, want media", i, msg["event"])
		}
		media, ok := msg["media"].(map[string]any)
		if !ok {
			t.Fatalf("media payload missing: %v", msg)
		}
		raw, err := base64.StdEncoding.DecodeString(media["payload"].(string))
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(raw)%exotelFrameBytes != 0 {
			t.Fatalf("chunk %d is %d bytes, not frame aligned", i, len(raw))
		}
		sizes = append(sizes, len(raw))
	}
	if sizes[0] != 3200 || sizes[1] != 320 {
		t.Fatalf("chunk sizes = %v, want [3200 320]", sizes)
	}

	if err := <-sendDone; err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
}
