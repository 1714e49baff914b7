package calllog

import (
	"context"
	"errors"
	"time"
)

var ErrStoreNotFound = errors.New("call not found in store")

// Record is the durable summary of one outbound call.
type Record struct {
	ID            string     `json:"id"`
	Vendor        string     `json:"vendor"`
	VendorCallID  string     `json:"vendor_call_id,omitempty"`
	Target        string     `json:"target"`
	TargetLabel   string     `json:"target_label,omitempty"`
	Objective     string     `json:"objective"`
	Status        string     `json:"status"`
	FailureCode   string     `json:"failure_code,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty"`
	Turns         int        `json:"turns"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Store persists call records. SaveCall upserts so callers can write the same
// record as the call progresses.
type Store interface {
	SaveCall(ctx context.Context, record Record) error
	GetCall(ctx context.Context, callID string) (Record, error)
	RecentCalls(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
