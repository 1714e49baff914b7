package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/outdial/internal/call"
	"github.com/ent0n29/outdial/internal/protocol"
	"github.com/ent0n29/outdial/internal/session"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedReadTimeout  = 120 * time.Second
)

// handleCallFeed streams one call's lifecycle to a browser as protocol
// messages and accepts end_call/ping commands back. The feed closes itself
// after the terminal call_ended message.
func (s *Server) handleCallFeed(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "id"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}
	sess, err := s.dialer.Get(callID)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}

	conn, err := s.feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.dialer.Subscribe(callID)
	defer unsubscribe()

	// All websocket writes happen on this goroutine; the read loop hands it
	// error notices through errs.
	errs := make(chan protocol.ErrorEvent, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()

		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			return conn.WriteJSON(msg) == nil
		}
		closeFeed := func(reason string) {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		}

		// Snapshot first so a late subscriber still learns where the call is.
		if !write(feedStatus(sess)) {
			return
		}
		if sess.Status.Terminal() {
			write(feedEnded(sess))
			closeFeed("call ended")
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case errEvent := <-errs:
				if !write(errEvent) {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				msg, mapped := feedMessage(ev)
				if !mapped {
					continue
				}
				if !write(msg) {
					return
				}
				if ev.Type == call.EventCallEnded {
					closeFeed("call ended")
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case errs <- protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				CallID: callID,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}:
			default:
				// Writer is saturated; the client is misbehaving anyway.
			}
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientEndCall:
			reason := strings.TrimSpace(msg.Reason)
			if reason == "" {
				reason = "Ended from the live feed."
			}
			if err := s.dialer.Cancel(callID, reason); err != nil {
				select {
				case errs <- protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					CallID: callID,
					Code:   "end_call_failed",
					Detail: err.Error(),
				}:
				default:
				}
			}
		case protocol.ClientPing:
			_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		}
	}

	cancel()
	<-writerDone
}

// feedMessage maps a dialer event to its websocket protocol message. Events
// with no feed representation report mapped=false.
func feedMessage(ev call.Event) (any, bool) {
	ts := ev.At.UnixMilli()
	switch ev.Type {
	case call.EventCallQueued:
		return protocol.CallStatus{
			Type:   protocol.TypeCallStatus,
			CallID: ev.CallID,
			Status: "queued",
			Detail: ev.Detail,
			TSMs:   ts,
		}, true
	case call.EventCallStatus:
		return protocol.CallStatus{
			Type:   protocol.TypeCallStatus,
			CallID: ev.CallID,
			Status: string(ev.Status),
			Detail: ev.Detail,
			TSMs:   ts,
		}, true
	case call.EventCallTurn:
		return protocol.CallTurn{
			Type:    protocol.TypeCallTurn,
			CallID:  ev.CallID,
			Turn:    ev.Turn,
			Role:    ev.Role,
			Content: ev.Text,
			Action:  ev.Action,
			TSMs:    ts,
		}, true
	case call.EventCallError:
		return protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			CallID: ev.CallID,
			Code:   ev.Code,
			Detail: ev.Detail,
		}, true
	case call.EventCallEnded:
		return protocol.CallEnded{
			Type:          protocol.TypeCallEnded,
			CallID:        ev.CallID,
			Status:        string(ev.Status),
			FailureCode:   ev.Code,
			FailureDetail: ev.Detail,
			Turns:         ev.Turns,
			TSMs:          ts,
		}, true
	default:
		return nil, false
	}
}

func feedStatus(sess *session.Session) protocol.CallStatus {
	return protocol.CallStatus{
		Type:   protocol.TypeCallStatus,
		CallID: sess.ID,
		Status: string(sess.Status),
		TSMs:   sess.UpdatedAt.UnixMilli(),
	}
}

func feedEnded(sess *session.Session) protocol.CallEnded {
	return protocol.CallEnded{
		Type:          protocol.TypeCallEnded,
		CallID:        sess.ID,
		Status:        string(sess.Status),
		FailureCode:   sess.FailureCode,
		FailureDetail: sess.FailureDetail,
		Turns:         sess.Turns,
		TSMs:          sess.UpdatedAt.UnixMilli(),
	}
}
