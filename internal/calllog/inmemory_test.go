package calllog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreUpsertAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.SaveCall(ctx, Record{ID: "c1", Vendor: "twilio", Target: "+14155550123", Status: "dialing"}); err != nil {
		t.Fatalf("SaveCall() error = %v", err)
	}
	first, err := s.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if first.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not filled")
	}

	// Upsert keeps the original CreatedAt and replaces the rest.
	time.Sleep(2 * time.Millisecond)
	if err := s.SaveCall(ctx, Record{ID: "c1", Vendor: "twilio", Target: "+14155550123", Status: "completed", Turns: 4}); err != nil {
		t.Fatalf("SaveCall(update) error = %v", err)
	}
	updated, err := s.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if updated.Status != "completed" || updated.Turns != 4 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt changed on upsert: %v -> %v", first.CreatedAt, updated.CreatedAt)
	}
	if !updated.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("UpdatedAt not advanced: %v -> %v", first.UpdatedAt, updated.UpdatedAt)
	}

	if err := s.SaveCall(ctx, Record{ID: "c2", Vendor: "exotel", Target: "+919876543210", Status: "failed"}); err != nil {
		t.Fatalf("SaveCall(c2) error = %v", err)
	}
	recent, err := s.RecentCalls(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCalls() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(RecentCalls) = %d, want 2", len(recent))
	}
	if recent[0].ID != "c2" {
		t.Fatalf("RecentCalls[0].ID = %q, want newest first", recent[0].ID)
	}

	if _, err := s.GetCall(ctx, "missing"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("GetCall(missing) error = %v, want ErrStoreNotFound", err)
	}
}
