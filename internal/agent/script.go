package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ScriptPlanner replays a fixed action list, one step per turn. Each call
// gets its own cursor; exhausted scripts end the call politely. Useful for
// local runs and the call simulator where determinism matters.
type ScriptPlanner struct {
	mu    sync.Mutex
	steps []Action
	pos   map[string]int
}

func NewScriptPlanner(steps []Action) (*ScriptPlanner, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("script has no steps")
	}
	for i, step := range steps {
		if err := validateAction(step); err != nil {
			return nil, fmt.Errorf("script step %d: %w", i, err)
		}
	}
	return &ScriptPlanner{steps: steps, pos: make(map[string]int)}, nil
}

func NewScriptPlannerFromFile(path string) (*ScriptPlanner, error) {
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var steps []Action
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return NewScriptPlanner(steps)
}

func (p *ScriptPlanner) Decide(ctx context.Context, req DecideRequest) (Action, error) {
	select {
	case <-ctx.Done():
		return Action{}, ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.pos[req.CallID]
	if i >= len(p.steps) {
		return Action{
			Type:       ActionEndCall,
			SpeechText: "That was everything I needed, thank you. Goodbye.",
			Reasoning:  "script exhausted",
		}, nil
	}
	p.pos[req.CallID] = i + 1
	return p.steps[i], nil
}
