package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIdle           Status = "idle"
	StatusDialing        Status = "dialing"
	StatusRinging        Status = "ringing"
	StatusAwaitingStream Status = "awaiting_stream"
	StatusInCall         Status = "in_call"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var ErrNotFound = errors.New("session not found")

const resolveRetryInterval = 100 * time.Millisecond

type Session struct {
	ID              string     `json:"session_id"`
	Vendor          string     `json:"vendor"`
	VendorCallID    string     `json:"vendor_call_id,omitempty"`
	Target          string     `json:"target"`
	TargetLabel     string     `json:"target_label,omitempty"`
	Objective       string     `json:"objective"`
	Status          Status     `json:"status"`
	Turns           int        `json:"turns"`
	StreamConnected bool       `json:"stream_connected"`
	StreamID        string     `json:"stream_id,omitempty"`
	FailureCode     string     `json:"failure_code,omitempty"`
	FailureDetail   string     `json:"failure_detail,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// Manager is the in-process registry of call sessions. It owns the
// vendor-call-id correlation that routes an incoming media stream back to the
// session that placed the call.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	byVendorCallID map[string]string
	endedRetention time.Duration
	expireHook     func(sessionID string)
}

func NewManager(endedRetention time.Duration) *Manager {
	if endedRetention <= 0 {
		endedRetention = 15 * time.Minute
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		byVendorCallID: make(map[string]string),
		endedRetention: endedRetention,
	}
}

// SetExpireHook registers a callback invoked with the id of every session the
// janitor prunes, so holders of per-session state can drop theirs too.
func (m *Manager) SetExpireHook(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireHook = fn
}

func (m *Manager) Create(vendor, target, targetLabel, objective string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:          uuid.NewString(),
		Vendor:      vendor,
		Target:      target,
		TargetLabel: targetLabel,
		Objective:   objective,
		Status:      StatusIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Bind correlates the vendor's call id with a session. Rebinding the same
// pair is a no-op; a rebind to a different session replaces the mapping with
// a warning, since vendors occasionally recycle ids across retries.
func (m *Manager) Bind(vendorCallID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if prior, ok := m.byVendorCallID[vendorCallID]; ok && prior != sessionID {
		log.Printf("session: vendor call %s rebound from %s to %s", vendorCallID, prior, sessionID)
	}
	m.byVendorCallID[vendorCallID] = sessionID
	s.VendorCallID = vendorCallID
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Manager) Resolve(vendorCallID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byVendorCallID[vendorCallID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// ResolveWait retries Resolve until the binding appears or the timeout
// elapses. A media stream can reach us before the dial response carrying the
// vendor call id has been recorded.
func (m *Manager) ResolveWait(ctx context.Context, vendorCallID string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		if id, err := m.Resolve(vendorCallID); err == nil {
			return id, nil
		}
		if time.Now().After(deadline) {
			return "", ErrNotFound
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(resolveRetryInterval):
		}
	}
}

func (m *Manager) Unbind(vendorCallID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byVendorCallID, vendorCallID)
}

// SetStatus moves a session to a non-terminal state. Sessions already in a
// terminal state keep it.
func (m *Manager) SetStatus(sessionID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status.Terminal() {
		return nil
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Manager) MarkStreamConnected(sessionID, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.StreamConnected = true
	s.StreamID = streamID
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordTurn increments the turn counter and returns the new count.
func (m *Manager) RecordTurn(sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	s.Turns++
	s.UpdatedAt = time.Now().UTC()
	return s.Turns, nil
}

// End moves a session into a terminal state. The first terminal state wins:
// ending an already-ended session returns it unchanged, so a completion
// recorded by the call loop is never downgraded by cleanup marking failure.
func (m *Manager) End(sessionID string, status Status, failureCode, failureDetail string) (*Session, error) {
	if !status.Terminal() {
		return nil, errors.New("end requires a terminal status")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status.Terminal() {
		return clone(s), nil
	}

	now := time.Now().UTC()
	s.Status = status
	s.UpdatedAt = now
	s.EndedAt = &now
	if status == StatusFailed {
		s.FailureCode = failureCode
		s.FailureDetail = failureDetail
	}
	if s.VendorCallID != "" {
		delete(m.byVendorCallID, s.VendorCallID)
	}
	return clone(s), nil
}

func (m *Manager) IsActive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return ok && !s.Status.Terminal()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if !s.Status.Terminal() {
			count++
		}
	}
	return count
}

// List returns sessions newest-first. Ended sessions remain listed until the
// janitor prunes them.
func (m *Manager) List(limit int) []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// StartJanitor prunes ended sessions after the retention window so the
// registry does not grow without bound.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pruneEnded()
			}
		}
	}()
}

func (m *Manager) pruneEnded() {
	now := time.Now().UTC()

	m.mu.Lock()
	var pruned []string
	for id, s := range m.sessions {
		if !s.Status.Terminal() || s.EndedAt == nil {
			continue
		}
		if now.Sub(*s.EndedAt) < m.endedRetention {
			continue
		}
		if s.VendorCallID != "" {
			delete(m.byVendorCallID, s.VendorCallID)
		}
		delete(m.sessions, id)
		pruned = append(pruned, id)
	}
	hook := m.expireHook
	m.mu.Unlock()

	// The hook runs unlocked so it can call back into the manager.
	if hook != nil {
		for _, id := range pruned {
			hook(id)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
