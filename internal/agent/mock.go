package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockPlanner produces deterministic local decisions when no real decision
// endpoint is configured.
type MockPlanner struct{}

func NewMockPlanner() *MockPlanner { return &MockPlanner{} }

func (p *MockPlanner) Decide(ctx context.Context, req DecideRequest) (Action, error) {
	select {
	case <-ctx.Done():
		return Action{}, ctx.Err()
	default:
	}

	lower := strings.ToLower(req.Transcript)
	switch {
	case strings.Contains(lower, "press"):
		return Action{
			Type:       ActionDTMF,
			DTMFDigits: "1",
			Reasoning:  "sounded like an IVR menu prompt",
		}, nil
	case strings.Contains(lower, "bye") || req.Turn >= 4:
		return Action{
			Type:       ActionEndCall,
			SpeechText: "Thanks for your time. Goodbye.",
			Reasoning:  "conversation has run its course",
		}, nil
	case req.Turn <= 1:
		return Action{
			Type:       ActionSpeak,
			SpeechText: fmt.Sprintf("Hi, I'm calling about the following: %s. Could you help me with that?", strings.TrimSpace(req.Objective)),
			Reasoning:  "open with the objective",
		}, nil
	default:
		return Action{
			Type:       ActionSpeak,
			SpeechText: "Understood, thank you. Is there anything else I should know?",
			Reasoning:  "keep the conversation moving",
		}, nil
	}
}
