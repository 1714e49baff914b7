package telephony

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// MockVendor is an in-process loopback vendor for tests and the offline
// simulator. Dial schedules a fake callee goroutine that attaches a
// MockStream through the attacher, speaks one scripted utterance per agent
// turn, and hangs up when the script runs out. No pacing sleeps.
type MockVendor struct {
	mu          sync.Mutex
	attacher    Attacher
	answerDelay time.Duration
	utterances  [][]byte
	dialErr     error
	calls       map[string]chan struct{}
	lastStream  *MockStream
	seq         int
}

func NewMockVendor() *MockVendor {
	return &MockVendor{
		answerDelay: 50 * time.Millisecond,
		utterances: [][]byte{
			TonePCM(600 * time.Millisecond),
			TonePCM(600 * time.Millisecond),
		},
		calls: make(map[string]chan struct{}),
	}
}

// SetAttacher wires the stream attacher. Must be called before Dial; the
// attacher is built after the vendor during service wiring.
func (m *MockVendor) SetAttacher(a Attacher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attacher = a
}

// SetAnswerDelay adjusts how long the fake callee takes to pick up.
func (m *MockVendor) SetAnswerDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answerDelay = d
}

// SetUtterances replaces the scripted callee speech.
func (m *MockVendor) SetUtterances(utterances [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utterances = utterances
}

// FailDial forces subsequent Dial calls to fail with err (nil to clear).
func (m *MockVendor) FailDial(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialErr = err
}

// LastStream returns the stream of the most recently answered call.
func (m *MockVendor) LastStream() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStream
}

func (m *MockVendor) Name() string { return "mock" }

func (m *MockVendor) MediaFormat() MediaFormat {
	return MediaFormat{Encoding: EncodingPCM, SampleRate: 8000}
}

func (m *MockVendor) Dial(_ context.Context, _ DialRequest) (string, error) {
	m.mu.Lock()
	if m.dialErr != nil {
		err := m.dialErr
		m.mu.Unlock()
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("MC%04d", m.seq)
	hangup := make(chan struct{})
	m.calls[id] = hangup
	m.mu.Unlock()

	go m.runCallee(id, hangup)
	return id, nil
}

func (m *MockVendor) Hangup(_ context.Context, vendorCallID string) error {
	m.mu.Lock()
	hangup, ok := m.calls[vendorCallID]
	delete(m.calls, vendorCallID)
	m.mu.Unlock()
	if ok {
		close(hangup)
	}
	return nil
}

// runCallee simulates the remote party: answer, attach the stream, then
// alternate between speaking an utterance and waiting for the agent's reply.
func (m *MockVendor) runCallee(vendorCallID string, hangup chan struct{}) {
	m.mu.Lock()
	delay := m.answerDelay
	attacher := m.attacher
	utterances := m.utterances
	m.mu.Unlock()

	if attacher == nil {
		log.Printf("telephony: mock vendor has no attacher, call %s dropped", vendorCallID)
		return
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	stream := &MockStream{
		id:         "MZ" + vendorCallID,
		agentSpoke: make(chan struct{}, 16),
	}
	m.mu.Lock()
	m.lastStream = stream
	m.mu.Unlock()

	sink, err := attacher.AttachStream(context.Background(), "mock", vendorCallID, stream)
	if err != nil {
		log.Printf("telephony: mock stream for call %s: %v", vendorCallID, err)
		return
	}
	defer sink.End()

	for _, utterance := range utterances {
		sink.Push(utterance)
		select {
		case <-stream.agentSpoke:
		case <-hangup:
			return
		}
	}
	// Script exhausted: the callee hangs up.
}

// MockStream records what the agent plays and signals the fake callee after
// each agent turn.
type MockStream struct {
	id         string
	mu         sync.Mutex
	played     [][]byte
	cleared    int
	closed     bool
	agentSpoke chan struct{}
}

func (s *MockStream) StreamID() string { return s.id }

func (s *MockStream) SendAudio(_ context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.mu.Lock()
	s.played = append(s.played, cp)
	s.mu.Unlock()
	select {
	case s.agentSpoke <- struct{}{}:
	default:
	}
	return nil
}

func (s *MockStream) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Played returns a copy of every SendAudio payload in order.
func (s *MockStream) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.played))
	copy(out, s.played)
	return out
}

// ClearCount reports how many Clear calls the stream has seen.
func (s *MockStream) ClearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// Closed reports whether Close has been called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// TonePCM returns d worth of a 440 Hz sine at 8 kHz canonical PCM, loud
// enough to trip the default segmenter energy gate.
func TonePCM(d time.Duration) []byte {
	n := int(float64(d) / float64(time.Second) * 8000)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8192 * math.Sin(2*math.Pi*440*float64(i)/8000))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}
