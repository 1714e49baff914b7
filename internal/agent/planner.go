package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ActionType enumerates what the agent can do with its turn on a call.
type ActionType string

const (
	ActionSpeak   ActionType = "speak"
	ActionDTMF    ActionType = "dtmf"
	ActionWait    ActionType = "wait"
	ActionEndCall ActionType = "end_call"
)

// Action is one decided move: say something, key digits, hold, or wind down.
// An end_call action may carry closing speech to deliver before hanging up.
type Action struct {
	Type       ActionType `json:"action"`
	SpeechText string     `json:"speech_text,omitempty"`
	DTMFDigits string     `json:"dtmf_digits,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// DecideRequest is the normalized turn context sent to the planner.
type DecideRequest struct {
	CallID      string   `json:"call_id"`
	Objective   string   `json:"objective"`
	TargetLabel string   `json:"target_label,omitempty"`
	Transcript  string   `json:"transcript"`
	History     []string `json:"history,omitempty"`
	Turn        int      `json:"turn"`
}

// Planner decides the agent's next move on a call.
type Planner interface {
	Decide(ctx context.Context, req DecideRequest) (Action, error)
}

// Config controls planner construction.
type Config struct {
	Mode       string
	HTTPURL    string
	ScriptPath string
}

func NewPlanner(cfg Config) (Planner, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPPlanner(cfg.HTTPURL), nil
		}
		if strings.TrimSpace(cfg.ScriptPath) != "" {
			return NewScriptPlannerFromFile(cfg.ScriptPath)
		}
		return NewMockPlanner(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPPlanner(cfg.HTTPURL), nil
	case "script":
		if strings.TrimSpace(cfg.ScriptPath) == "" {
			return nil, errors.New("agent script path is required for script mode")
		}
		return NewScriptPlannerFromFile(cfg.ScriptPath)
	case "mock":
		return NewMockPlanner(), nil
	default:
		return nil, fmt.Errorf("unsupported agent planner mode %q", cfg.Mode)
	}
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionSpeak:
		if strings.TrimSpace(a.SpeechText) == "" {
			return errors.New("speak action has no speech text")
		}
	case ActionDTMF:
		if strings.TrimSpace(a.DTMFDigits) == "" {
			return errors.New("dtmf action has no digits")
		}
	case ActionWait, ActionEndCall:
	default:
		return fmt.Errorf("unsupported action %q", a.Type)
	}
	return nil
}
