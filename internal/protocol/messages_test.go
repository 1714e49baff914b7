package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageEndCall(t *testing.T) {
	raw := []byte(`{"type":"end_call","call_id":"c1","reason":"operator"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	end, ok := msg.(ClientEndCall)
	if !ok {
		t.Fatalf("message type = %T, want ClientEndCall", msg)
	}
	if end.CallID != "c1" {
		t.Fatalf("CallID = %q, want %q", end.CallID, "c1")
	}
	if end.Reason != "operator" {
		t.Fatalf("Reason = %q, want %q", end.Reason, "operator")
	}
}

func TestParseClientMessagePing(t *testing.T) {
	raw := []byte(`{"type":"ping","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	ping, ok := msg.(ClientPing)
	if !ok {
		t.Fatalf("message type = %T, want ClientPing", msg)
	}
	if ping.TSMs != 456 {
		t.Fatalf("TSMs = %d, want %d", ping.TSMs, 456)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{not json`))
	if err == nil {
		t.Fatalf("expected envelope error")
	}
}

func BenchmarkParseClientMessageEndCall(b *testing.B) {
	raw := []byte(`{"type":"end_call","call_id":"c1","reason":"operator"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientEndCall); !ok {
			b.Fatalf("message type = %T, want ClientEndCall", msg)
		}
	}
}
