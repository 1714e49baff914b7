package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/outdial/internal/agent"
	"github.com/ent0n29/outdial/internal/audio"
	"github.com/ent0n29/outdial/internal/call"
	"github.com/ent0n29/outdial/internal/calllog"
	"github.com/ent0n29/outdial/internal/dialer"
	"github.com/ent0n29/outdial/internal/observability"
	"github.com/ent0n29/outdial/internal/segment"
	"github.com/ent0n29/outdial/internal/session"
	"github.com/ent0n29/outdial/internal/speech"
	"github.com/ent0n29/outdial/internal/telephony"
	"github.com/ent0n29/outdial/internal/transcript"
)

// callsim runs one complete outbound call fully in-process: mock vendor,
// scripted agent, mock speech, shortened segmenter windows. It prints the
// event stream, the transcript, and the turn-stage latency snapshot, and
// exits non-zero when the call does not complete.

type options struct {
	to          string
	label       string
	objective   string
	scriptPath  string
	calleeLines []string
	answerDelay time.Duration
	timeout     time.Duration
	dumpPath    string
	verbose     bool
}

var defaultScript = []agent.Action{
	{
		Type:       agent.ActionSpeak,
		SpeechText: "Hi, this is an automated assistant calling about your appointment tomorrow. Does ten a.m. still work?",
	},
}

const defaultCalleeLines = "Hello?|Yes, ten works. See you then."

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var calleeRaw string
	var answerDelayMS int
	var timeoutMS int

	flag.StringVar(&cfg.to, "to", "+15550100123", "target number for the simulated call")
	flag.StringVar(&cfg.label, "label", "simulated callee", "human-readable target label")
	flag.StringVar(&cfg.objective, "objective", "confirm tomorrow's 10am appointment", "objective handed to the agent planner")
	flag.StringVar(&cfg.scriptPath, "script", "", "path to a JSON action script (default: built-in one-step script)")
	flag.StringVar(&calleeRaw, "callee", defaultCalleeLines, "callee lines separated by '|', one per turn")
	flag.IntVar(&answerDelayMS, "answer-delay-ms", 150, "delay before the fake callee picks up in milliseconds")
	flag.IntVar(&timeoutMS, "timeout-ms", 60000, "overall call timeout in milliseconds")
	flag.StringVar(&cfg.dumpPath, "dump", "", "optional path for a WAV of everything the agent played")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print live call events")
	flag.Parse()

	if strings.TrimSpace(cfg.objective) == "" {
		return options{}, fmt.Errorf("objective is required")
	}
	if answerDelayMS < 0 {
		answerDelayMS = 0
	}
	if timeoutMS < 5000 {
		return options{}, fmt.Errorf("timeout-ms must be at least 5000")
	}
	cfg.answerDelay = time.Duration(answerDelayMS) * time.Millisecond
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond

	for _, part := range strings.Split(calleeRaw, "|") {
		if line := strings.TrimSpace(part); line != "" {
			cfg.calleeLines = append(cfg.calleeLines, line)
		}
	}
	if len(cfg.calleeLines) == 0 {
		return options{}, fmt.Errorf("callee produced no non-empty lines")
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout+10*time.Second)
	defer cancel()

	planner, err := buildPlanner(cfg)
	if err != nil {
		return err
	}

	vendor := telephony.NewMockVendor()
	vendor.SetAnswerDelay(cfg.answerDelay)
	// One scripted utterance per callee line keeps the mock callee and the
	// mock transcriber in step.
	utterances := make([][]byte, len(cfg.calleeLines))
	for i := range utterances {
		utterances[i] = telephony.TonePCM(600 * time.Millisecond)
	}
	vendor.SetUtterances(utterances)

	metrics := observability.NewMetrics("callsim")
	sessions := session.NewManager(time.Minute)
	transcripts := transcript.NewInMemoryStore()
	calls := calllog.NewInMemoryStore()

	orchestrator := call.NewOrchestrator(call.Config{
		PublicBaseURL:      "https://callsim.local",
		StreamWaitTimeout:  5 * time.Second,
		StreamPollInterval: 20 * time.Millisecond,
		Segmenter: segment.Config{
			EnergyThreshold:   40,
			SilenceWindow:     120 * time.Millisecond,
			PollInterval:      20 * time.Millisecond,
			MaxWait:           2 * time.Second,
			MinUtteranceBytes: 1600,
		},
	}, vendor, sessions, planner, speech.NewMockTranscriber(cfg.calleeLines...), speech.NewMockSynthesizer(), transcripts, calls, metrics)

	svc := dialer.New(dialer.Config{
		CallTimeout: cfg.timeout,
		ResolveWait: 2 * time.Second,
	}, orchestrator, vendor, sessions, calls, metrics)
	defer svc.Close()
	vendor.SetAttacher(svc)

	resp, err := svc.StartCall(ctx, session.StartRequest{
		To:        cfg.to,
		Label:     cfg.label,
		Objective: cfg.objective,
	})
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("callsim: call=%s target=%s vendor=%s\n", resp.ID, resp.Target, resp.Vendor)
	}

	events, unsubscribe := svc.Subscribe(resp.ID)
	defer unsubscribe()
	if err := watchCall(ctx, events, cfg.verbose); err != nil {
		return err
	}

	if err := printTranscript(ctx, transcripts, resp.ID); err != nil {
		return err
	}
	if err := printLatency(metrics); err != nil {
		return err
	}
	if cfg.dumpPath != "" {
		if err := dumpPlayedAudio(vendor, cfg.dumpPath); err != nil {
			return err
		}
		fmt.Printf("callsim: agent audio written to %s\n", cfg.dumpPath)
	}

	rec, err := calls.GetCall(ctx, resp.ID)
	if err != nil {
		return fmt.Errorf("final record: %w", err)
	}
	if rec.Status != string(session.StatusCompleted) {
		return fmt.Errorf("call ended %s (%s): %s", rec.Status, rec.FailureCode, rec.FailureDetail)
	}
	fmt.Printf("callsim: completed in %d turns\n", rec.Turns)
	return nil
}

func buildPlanner(cfg options) (agent.Planner, error) {
	if strings.TrimSpace(cfg.scriptPath) != "" {
		p, err := agent.NewScriptPlannerFromFile(cfg.scriptPath)
		if err != nil {
			return nil, fmt.Errorf("load script: %w", err)
		}
		return p, nil
	}
	return agent.NewScriptPlanner(defaultScript)
}

// watchCall drains the event feed until the call ends.
func watchCall(ctx context.Context, events <-chan call.Event, verbose bool) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the call to end: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event feed closed before the call ended")
			}
			if verbose {
				printEvent(ev)
			}
			if ev.Type == call.EventCallEnded {
				return nil
			}
		}
	}
}

func printEvent(ev call.Event) {
	switch ev.Type {
	case call.EventCallQueued, call.EventCallStatus:
		fmt.Printf("callsim: status=%s %s\n", ev.Status, ev.Detail)
	case call.EventCallTurn:
		line := fmt.Sprintf("callsim: turn %d %s: %s", ev.Turn, ev.Role, ev.Text)
		if ev.Action != "" {
			line += fmt.Sprintf(" [%s]", ev.Action)
		}
		fmt.Println(line)
	case call.EventCallError:
		fmt.Printf("callsim: error code=%s detail=%s\n", ev.Code, ev.Detail)
	case call.EventCallEnded:
		fmt.Printf("callsim: ended status=%s turns=%d code=%s\n", ev.Status, ev.Turns, ev.Code)
	}
}

func printTranscript(ctx context.Context, store transcript.Store, callID string) error {
	turns, err := store.History(ctx, callID, 0)
	if err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	fmt.Println("--- transcript ---")
	for _, turn := range turns {
		fmt.Printf("%2d %-6s %s\n", turn.Turn, turn.Role, turn.Content)
	}
	return nil
}

func printLatency(metrics *observability.Metrics) error {
	snapshot := metrics.SnapshotTurnStages()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("latency snapshot: %w", err)
	}
	fmt.Println("--- turn latency ---")
	fmt.Println(string(data))
	return nil
}

func dumpPlayedAudio(vendor *telephony.MockVendor, path string) error {
	stream := vendor.LastStream()
	if stream == nil {
		return fmt.Errorf("no stream was attached, nothing to dump")
	}
	var pcm []byte
	for _, chunk := range stream.Played() {
		pcm = append(pcm, chunk...)
	}
	if len(pcm) == 0 {
		return fmt.Errorf("agent played no audio, nothing to dump")
	}
	return audio.WriteWAVPCM16LEFile(path, pcm, 8000)
}
