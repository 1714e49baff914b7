package transcript

import (
	"context"
	"time"
)

const (
	RoleCallee = "callee"
	RoleAgent  = "agent"
)

// TurnRecord stores a single callee or agent conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	Turn        int       `json:"turn"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ActionType  string    `json:"action_type,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves call transcripts.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	History(ctx context.Context, callID string, limit int) ([]TurnRecord, error)
	Close() error
}
