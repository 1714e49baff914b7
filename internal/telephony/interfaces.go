package telephony

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Wire audio encodings advertised by vendors. Canonical in-process audio is
// always 16-bit little-endian PCM at 8 kHz regardless of the wire format.
const (
	EncodingMuLaw = "audio/x-mulaw"
	EncodingPCM   = "audio/x-l16"
)

// MediaFormat describes the audio encoding a vendor speaks on its stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// ErrUncorrelatedStream reports a vendor media stream whose call ID does not
// match any active call. The socket is closed without attaching.
var ErrUncorrelatedStream = errors.New("stream does not match any active call")

// DialRequest carries what a vendor needs to place one outbound call.
// StreamURL is the websocket endpoint the vendor should stream call audio to;
// Exotel ignores it because the stream URL lives in the App Bazaar flow.
type DialRequest struct {
	To        string
	StreamURL string
}

// Vendor places and ends calls through one telephony provider's REST API.
type Vendor interface {
	Name() string
	MediaFormat() MediaFormat
	Dial(ctx context.Context, req DialRequest) (vendorCallID string, err error)
	Hangup(ctx context.Context, vendorCallID string) error
}

// OutboundStream is the write half of one connected vendor media stream.
// SendAudio blocks until the audio has had time to play out on the phone;
// the vendors offer no playback acknowledgement, so pacing is time-based.
type OutboundStream interface {
	StreamID() string
	SendAudio(ctx context.Context, pcm []byte) error
	Clear(ctx context.Context) error
	Close() error
}

// AudioSink receives inbound canonical PCM decoded from a vendor stream.
// End latches the stream-closed sentinel.
type AudioSink interface {
	Push(pcm []byte)
	End()
}

// Attacher correlates a freshly started vendor stream with an active call and
// hands back the call's inbound audio sink. Returns ErrUncorrelatedStream when
// the vendor call ID cannot be resolved within the bounded retry window.
type Attacher interface {
	AttachStream(ctx context.Context, vendor, vendorCallID string, stream OutboundStream) (AudioSink, error)
}

// playbackSettle is added after the computed wire duration of outbound audio
// so the far end finishes hearing it before we start listening again.
const playbackSettle = 300 * time.Millisecond

// waitPlayback sleeps for the wire duration of n sent bytes plus the settle
// margin, or until ctx is cancelled.
func waitPlayback(ctx context.Context, n, bytesPerSecond int) error {
	d := time.Duration(float64(n)/float64(bytesPerSecond)*float64(time.Second)) + playbackSettle
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// StreamURL converts the public base URL into the websocket stream endpoint
// for the named vendor (https -> wss, http -> ws).
func StreamURL(publicBaseURL, vendor string) string {
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/stream/" + vendor
}
