package agent

import (
	"context"
	"strings"
	"testing"
)

func TestParseAction(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    Action
		wantErr bool
	}{
		{
			name: "speak",
			body: `{"action":"speak","speech_text":"Hello there","reasoning":"greet"}`,
			want: Action{Type: ActionSpeak, SpeechText: "Hello there", Reasoning: "greet"},
		},
		{
			name: "type and text aliases",
			body: `{"type":"Speak","text":"Hi"}`,
			want: Action{Type: ActionSpeak, SpeechText: "Hi"},
		},
		{
			name: "dtmf digits alias",
			body: `{"action":"dtmf","digits":"123#"}`,
			want: Action{Type: ActionDTMF, DTMFDigits: "123#"},
		},
		{
			name: "end call with closing line",
			body: `{"action":"end_call","speech_text":"Goodbye"}`,
			want: Action{Type: ActionEndCall, SpeechText: "Goodbye"},
		},
		{
			name: "wait",
			body: `{"action":"wait"}`,
			want: Action{Type: ActionWait},
		},
		{name: "unknown action", body: `{"action":"transfer"}`, wantErr: true},
		{name: "speak without text", body: `{"action":"speak"}`, wantErr: true},
		{name: "dtmf without digits", body: `{"action":"dtmf"}`, wantErr: true},
		{name: "bad json", body: `{`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseAction([]byte(tc.body))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseAction() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAction() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("parseAction() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestScriptPlannerStepsPerCall(t *testing.T) {
	p, err := NewScriptPlanner([]Action{
		{Type: ActionSpeak, SpeechText: "step one"},
		{Type: ActionDTMF, DTMFDigits: "9"},
	})
	if err != nil {
		t.Fatalf("NewScriptPlanner() error = %v", err)
	}

	ctx := context.Background()
	first, err := p.Decide(ctx, DecideRequest{CallID: "a", Turn: 1})
	if err != nil || first.SpeechText != "step one" {
		t.Fatalf("Decide(a,1) = %+v, %v", first, err)
	}
	second, err := p.Decide(ctx, DecideRequest{CallID: "a", Turn: 2})
	if err != nil || second.Type != ActionDTMF {
		t.Fatalf("Decide(a,2) = %+v, %v", second, err)
	}

	// Each call keeps its own cursor.
	other, err := p.Decide(ctx, DecideRequest{CallID: "b", Turn: 1})
	if err != nil || other.SpeechText != "step one" {
		t.Fatalf("Decide(b,1) = %+v, %v", other, err)
	}

	// Exhausted scripts wind the call down.
	done, err := p.Decide(ctx, DecideRequest{CallID: "a", Turn: 3})
	if err != nil {
		t.Fatalf("Decide(a,3) error = %v", err)
	}
	if done.Type != ActionEndCall {
		t.Fatalf("exhausted script action = %q, want %q", done.Type, ActionEndCall)
	}
}

func TestScriptPlannerRejectsInvalidSteps(t *testing.T) {
	if _, err := NewScriptPlanner(nil); err == nil {
		t.Fatalf("expected error for empty script")
	}
	if _, err := NewScriptPlanner([]Action{{Type: "transfer"}}); err == nil {
		t.Fatalf("expected error for unsupported step")
	}
}

func TestMockPlannerDecisions(t *testing.T) {
	p := NewMockPlanner()
	ctx := context.Background()

	open, err := p.Decide(ctx, DecideRequest{Objective: "confirm Tuesday's delivery", Transcript: "hello?", Turn: 1})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if open.Type != ActionSpeak || !strings.Contains(open.SpeechText, "confirm Tuesday's delivery") {
		t.Fatalf("opening action = %+v", open)
	}

	menu, err := p.Decide(ctx, DecideRequest{Transcript: "press one for sales", Turn: 2})
	if err != nil || menu.Type != ActionDTMF {
		t.Fatalf("menu action = %+v, %v", menu, err)
	}

	last, err := p.Decide(ctx, DecideRequest{Transcript: "ok bye", Turn: 2})
	if err != nil || last.Type != ActionEndCall {
		t.Fatalf("closing action = %+v, %v", last, err)
	}

	capped, err := p.Decide(ctx, DecideRequest{Transcript: "and another thing", Turn: 5})
	if err != nil || capped.Type != ActionEndCall {
		t.Fatalf("turn-capped action = %+v, %v", capped, err)
	}
}
