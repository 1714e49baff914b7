package call

import (
	"sync"
	"time"

	"github.com/ent0n29/outdial/internal/segment"
	"github.com/ent0n29/outdial/internal/session"
	"github.com/ent0n29/outdial/internal/telephony"
)

type EventType string

const (
	EventCallQueued EventType = "call_queued"
	EventCallStatus EventType = "call_status"
	EventCallTurn   EventType = "call_turn"
	EventCallError  EventType = "call_error"
	EventCallEnded  EventType = "call_ended"
)

// Event is one entry in a call's lifecycle feed. Fields beyond Type, CallID
// and At are populated per event type.
type Event struct {
	Type      EventType      `json:"type"`
	CallID    string         `json:"call_id"`
	Status    session.Status `json:"status,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Code      string         `json:"code,omitempty"`
	Role      string         `json:"role,omitempty"`
	Text      string         `json:"text,omitempty"`
	Action    string         `json:"action,omitempty"`
	Digits    string         `json:"digits,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Turn      int            `json:"turn,omitempty"`
	Turns     int            `json:"turns,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher receives lifecycle events as the call progresses. Implementations
// must not block; the orchestrator publishes from the turn loop.
type Publisher interface {
	Publish(ev Event)
}

func QueuedEvent(callID string, detail string) Event {
	return Event{Type: EventCallQueued, CallID: callID, Detail: detail, At: time.Now().UTC()}
}

func StatusEvent(callID string, status session.Status, detail string) Event {
	return Event{Type: EventCallStatus, CallID: callID, Status: status, Detail: detail, At: time.Now().UTC()}
}

func TurnEvent(callID string, turn int, role, text, action, digits, reasoning string) Event {
	return Event{
		Type:      EventCallTurn,
		CallID:    callID,
		Turn:      turn,
		Role:      role,
		Text:      text,
		Action:    action,
		Digits:    digits,
		Reasoning: reasoning,
		At:        time.Now().UTC(),
	}
}

func ErrorEvent(callID, code, detail string) Event {
	return Event{Type: EventCallError, CallID: callID, Code: code, Detail: detail, At: time.Now().UTC()}
}

func EndedEvent(callID string, status session.Status, turns int, code, detail string) Event {
	return Event{
		Type:   EventCallEnded,
		CallID: callID,
		Status: status,
		Turns:  turns,
		Code:   code,
		Detail: detail,
		At:     time.Now().UTC(),
	}
}

// Line is the media half of one call: the queue the vendor's inbound stream
// feeds and the outbound stream agent audio plays through. It is created with
// the session, before any stream exists, and armed when the vendor's media
// websocket attaches.
type Line struct {
	mu     sync.Mutex
	queue  *segment.Queue
	stream telephony.OutboundStream
}

func NewLine() *Line {
	return &Line{queue: segment.NewQueue()}
}

// Queue returns the inbound audio queue. It doubles as the AudioSink handed
// to the vendor stream handler.
func (l *Line) Queue() *segment.Queue {
	return l.queue
}

func (l *Line) AttachStream(stream telephony.OutboundStream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stream = stream
}

func (l *Line) StreamReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream != nil
}

// Stream returns the outbound stream, nil until attached.
func (l *Line) Stream() telephony.OutboundStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}

// Close ends the inbound queue and closes the outbound stream if one was
// attached. Safe to call more than once.
func (l *Line) Close() {
	l.queue.End()
	l.mu.Lock()
	stream := l.stream
	l.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
}
