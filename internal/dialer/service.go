package dialer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/outdial/internal/call"
	"github.com/ent0n29/outdial/internal/calllog"
	"github.com/ent0n29/outdial/internal/observability"
	"github.com/ent0n29/outdial/internal/policy"
	"github.com/ent0n29/outdial/internal/session"
	"github.com/ent0n29/outdial/internal/telephony"
)

const (
	defaultCallTimeout     = 15 * time.Minute
	defaultResolveWait     = 5 * time.Second
	defaultEventHistoryMax = 256
	subscriberBuffer       = 256
)

// ErrDialBlocked reports a target the dial policy refuses to call.
var ErrDialBlocked = errors.New("dial blocked")

type Config struct {
	CallTimeout     time.Duration
	ResolveWait     time.Duration
	EventHistoryMax int
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.ResolveWait <= 0 {
		c.ResolveWait = defaultResolveWait
	}
	if c.EventHistoryMax <= 0 {
		c.EventHistoryMax = defaultEventHistoryMax
	}
	return c
}

// Service owns the call lifecycle: it screens dial requests, launches one
// orchestrator goroutine per call under a hard timeout, routes vendor media
// streams back to the owning call, and fans lifecycle events out to
// subscribers. It is the telephony.Attacher for every vendor stream handler.
type Service struct {
	cfg      Config
	orch     *call.Orchestrator
	vendor   telephony.Vendor
	sessions *session.Manager
	calls    calllog.Store
	metrics  *observability.Metrics

	mu           sync.Mutex
	lines        map[string]*call.Line
	cancels      map[string]context.CancelFunc
	eventsByCall map[string][]call.Event
	subscribers  map[string]map[int]chan call.Event
	nextSubID    int
	closed       bool

	wg sync.WaitGroup
}

func New(
	cfg Config,
	orch *call.Orchestrator,
	vendor telephony.Vendor,
	sessions *session.Manager,
	calls calllog.Store,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		cfg:          cfg.withDefaults(),
		orch:         orch,
		vendor:       vendor,
		sessions:     sessions,
		calls:        calls,
		metrics:      metrics,
		lines:        make(map[string]*call.Line),
		cancels:      make(map[string]context.CancelFunc),
		eventsByCall: make(map[string][]call.Event),
		subscribers:  make(map[string]map[int]chan call.Event),
	}
}

// StartCall screens the request and launches the call. It returns as soon as
// the call is queued; progress flows through the event feed.
func (s *Service) StartCall(ctx context.Context, req session.StartRequest) (*session.Session, error) {
	target := policy.NormalizeTarget(req.To)
	if err := policy.ValidateTarget(target); err != nil {
		return nil, err
	}
	if decision := policy.DecideDial(target); decision.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrDialBlocked, decision.Reason)
	}
	if strings.TrimSpace(req.Objective) == "" {
		return nil, errors.New("objective is required")
	}
	if v := strings.TrimSpace(req.Vendor); v != "" && !strings.EqualFold(v, s.vendor.Name()) {
		return nil, fmt.Errorf("vendor %q is not configured (active vendor is %s)", req.Vendor, s.vendor.Name())
	}

	sess := s.sessions.Create(s.vendor.Name(), target, req.Label, req.Objective)
	line := call.NewLine()
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_, _ = s.sessions.End(sess.ID, session.StatusFailed, "shutdown", "dialer is shutting down")
		return nil, errors.New("dialer is shutting down")
	}
	s.lines[sess.ID] = line
	s.cancels[sess.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.saveQueuedRecord(sess)
	s.metrics.ObserveCallEvent(string(call.EventCallQueued))
	s.Publish(call.QueuedEvent(sess.ID, fmt.Sprintf("%s call to %s queued", sess.Vendor, sess.Target)))
	log.Printf("dialer: call %s queued to %s via %s", sess.ID, sess.Target, sess.Vendor)

	if s.metrics != nil {
		s.metrics.ActiveCalls.Inc()
	}
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			if s.metrics != nil {
				s.metrics.ActiveCalls.Dec()
			}
			s.mu.Lock()
			delete(s.cancels, sess.ID)
			delete(s.lines, sess.ID)
			s.mu.Unlock()
		}()
		s.orch.Run(runCtx, sess, line, s)
	}()

	return sess, nil
}

// Cancel asks a running call to stop. Before the stream connects the call
// fails as cancelled; mid-call it hangs up and completes.
func (s *Service) Cancel(callID, reason string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[callID]
	s.mu.Unlock()
	if !ok {
		if _, err := s.sessions.Get(callID); err != nil {
			return err
		}
		return errors.New("call is not running")
	}
	log.Printf("dialer: cancelling call %s: %s", callID, reason)
	cancel()
	return nil
}

func (s *Service) Get(callID string) (*session.Session, error) {
	return s.sessions.Get(callID)
}

func (s *Service) IsActive(callID string) bool {
	return s.sessions.IsActive(callID)
}

func (s *Service) ActiveCount() int {
	return s.sessions.ActiveCount()
}

func (s *Service) List(limit int) []*session.Session {
	return s.sessions.List(limit)
}

// Events returns the bounded event history of one call, oldest first.
func (s *Service) Events(callID string, limit int) ([]call.Event, error) {
	if _, err := s.sessions.Get(callID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.eventsByCall[callID]
	if len(events) == 0 {
		return []call.Event{}, nil
	}
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	out := make([]call.Event, limit)
	copy(out, events[len(events)-limit:])
	return out, nil
}

// Subscribe registers a live event feed for one call. Slow receivers drop
// events rather than stall the call; the returned func unsubscribes and
// closes the channel.
func (s *Service) Subscribe(callID string) (<-chan call.Event, func()) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		ch := make(chan call.Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan call.Event, subscriberBuffer)
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if _, ok := s.subscribers[callID]; !ok {
		s.subscribers[callID] = make(map[int]chan call.Event)
	}
	s.subscribers[callID][id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[callID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(s.subscribers, callID)
		}
	}
}

// Publish records an event in the call's history and fans it out. It is the
// call.Publisher handed to every orchestrator run.
func (s *Service) Publish(ev call.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := append(s.eventsByCall[ev.CallID], ev)
	if max := s.cfg.EventHistoryMax; len(events) > max {
		events = append([]call.Event(nil), events[len(events)-max:]...)
	}
	s.eventsByCall[ev.CallID] = events

	for _, ch := range s.subscribers[ev.CallID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// AttachStream correlates an inbound vendor media stream with its call and
// arms the call's line. The bounded wait absorbs streams that race ahead of
// the REST dial response.
func (s *Service) AttachStream(ctx context.Context, vendor, vendorCallID string, stream telephony.OutboundStream) (telephony.AudioSink, error) {
	sessionID, err := s.sessions.ResolveWait(ctx, vendorCallID, s.cfg.ResolveWait)
	if err != nil {
		return nil, fmt.Errorf("%w: %s call %s", telephony.ErrUncorrelatedStream, vendor, vendorCallID)
	}

	s.mu.Lock()
	line := s.lines[sessionID]
	s.mu.Unlock()
	if line == nil {
		return nil, fmt.Errorf("%w: call %s already ended", telephony.ErrUncorrelatedStream, sessionID)
	}

	line.AttachStream(stream)
	if err := s.sessions.MarkStreamConnected(sessionID, stream.StreamID()); err != nil {
		log.Printf("dialer: mark stream connected for %s: %v", sessionID, err)
	}
	log.Printf("dialer: %s stream %s attached to call %s", vendor, stream.StreamID(), sessionID)
	return line.Queue(), nil
}

// Forget drops the event history and subscribers of an expired call. Wired
// as the session janitor's expire hook.
func (s *Service) Forget(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.eventsByCall, callID)
	for _, ch := range s.subscribers[callID] {
		close(ch)
	}
	delete(s.subscribers, callID)
}

// Close cancels every running call and waits for their teardown to finish,
// so final records and events are written before shutdown.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Service) saveQueuedRecord(sess *session.Session) {
	rec := calllog.Record{
		ID:          sess.ID,
		Vendor:      sess.Vendor,
		Target:      sess.Target,
		TargetLabel: sess.TargetLabel,
		Objective:   sess.Objective,
		Status:      string(sess.Status),
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.calls.SaveCall(sctx, rec); err != nil {
		log.Printf("dialer: save queued record for %s: %v", sess.ID, err)
	}
}
