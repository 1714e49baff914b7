package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the call feed.
type MessageType string

const (
	// Client -> server.
	TypeClientEndCall MessageType = "end_call"
	TypeClientPing    MessageType = "ping"

	// Server -> client.
	TypeCallStatus MessageType = "call_status"
	TypeCallTurn   MessageType = "call_turn"
	TypeCallEnded  MessageType = "call_ended"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientEndCall asks the engine to wind down the call the feed is attached to.
type ClientEndCall struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

type ClientPing struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

// CallStatus reports a lifecycle transition of the call.
type CallStatus struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Status string      `json:"status"`
	Detail string      `json:"detail,omitempty"`
	TSMs   int64       `json:"ts_ms"`
}

// CallTurn carries one conversation turn: what the callee said or what the
// agent spoke or keyed in response.
type CallTurn struct {
	Type    MessageType `json:"type"`
	CallID  string      `json:"call_id"`
	Turn    int         `json:"turn"`
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Action  string      `json:"action,omitempty"`
	TSMs    int64       `json:"ts_ms"`
}

// CallEnded is the terminal message on a feed; no further messages follow it.
type CallEnded struct {
	Type          MessageType `json:"type"`
	CallID        string      `json:"call_id"`
	Status        string      `json:"status"`
	FailureCode   string      `json:"failure_code,omitempty"`
	FailureDetail string      `json:"failure_detail,omitempty"`
	Turns         int         `json:"turns"`
	TSMs          int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientEndCall:
		var msg ClientEndCall
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientPing:
		var msg ClientPing
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
