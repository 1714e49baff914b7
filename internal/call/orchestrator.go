package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/outdial/internal/agent"
	"github.com/ent0n29/outdial/internal/audio"
	"github.com/ent0n29/outdial/internal/calllog"
	"github.com/ent0n29/outdial/internal/observability"
	"github.com/ent0n29/outdial/internal/policy"
	"github.com/ent0n29/outdial/internal/reliability"
	"github.com/ent0n29/outdial/internal/segment"
	"github.com/ent0n29/outdial/internal/session"
	"github.com/ent0n29/outdial/internal/speech"
	"github.com/ent0n29/outdial/internal/telephony"
	"github.com/ent0n29/outdial/internal/transcript"
)

const (
	defaultStreamWaitTimeout  = 90 * time.Second
	defaultStreamPollInterval = time.Second
	defaultMaxSilentRounds    = 3
	defaultNudgeText          = "Hello? Are you still there?"
	defaultHistoryLimit       = 12

	decideAttempts    = 3
	decideBackoffBase = 250 * time.Millisecond
	decideBackoffCap  = 2 * time.Second

	minTranscriptRunes = 2
	hangupTimeout      = 10 * time.Second
	saveTimeout        = 5 * time.Second
)

// Config tunes one orchestrated call. Zero values fall back to production
// defaults.
type Config struct {
	PublicBaseURL      string
	StreamWaitTimeout  time.Duration
	StreamPollInterval time.Duration
	MaxSilentRounds    int
	NudgeText          string
	HistoryLimit       int
	RedactTranscripts  bool
	Segmenter          segment.Config
}

func (c Config) withDefaults() Config {
	if c.StreamWaitTimeout <= 0 {
		c.StreamWaitTimeout = defaultStreamWaitTimeout
	}
	if c.StreamPollInterval <= 0 {
		c.StreamPollInterval = defaultStreamPollInterval
	}
	if c.MaxSilentRounds <= 0 {
		c.MaxSilentRounds = defaultMaxSilentRounds
	}
	if strings.TrimSpace(c.NudgeText) == "" {
		c.NudgeText = defaultNudgeText
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	return c
}

// Orchestrator drives outbound calls end to end: dial, stream handshake,
// conversation turns, teardown. One Orchestrator serves all calls; per-call
// state lives in the run.
type Orchestrator struct {
	cfg         Config
	vendor      telephony.Vendor
	sessions    *session.Manager
	planner     agent.Planner
	stt         speech.Transcriber
	tts         speech.Synthesizer
	transcripts transcript.Store
	calls       calllog.Store
	metrics     *observability.Metrics
}

func NewOrchestrator(
	cfg Config,
	vendor telephony.Vendor,
	sessions *session.Manager,
	planner agent.Planner,
	stt speech.Transcriber,
	tts speech.Synthesizer,
	transcripts transcript.Store,
	calls calllog.Store,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		vendor:      vendor,
		sessions:    sessions,
		planner:     planner,
		stt:         stt,
		tts:         tts,
		transcripts: transcripts,
		calls:       calls,
		metrics:     metrics,
	}
}

// Run drives one call to completion and blocks until it ends. Cancelling ctx
// before the media stream connects fails the call; cancelling mid-call hangs
// up and completes it.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, line *Line, events Publisher) {
	r := &callRun{Orchestrator: o, sess: sess, line: line, events: events}
	r.run(ctx)
}

// callRun is the per-call state of one Orchestrator.Run invocation.
type callRun struct {
	*Orchestrator
	sess   *session.Session
	line   *Line
	events Publisher

	vendorCallID string
	streamURL    string
	history      []string
	startedAt    *time.Time
}

func (r *callRun) run(ctx context.Context) {
	defer r.finalize()

	if !r.dial(ctx) {
		return
	}
	if !r.awaitStream(ctx) {
		return
	}

	now := time.Now().UTC()
	r.startedAt = &now
	r.setStatus(session.StatusInCall, "")
	r.converse(ctx)
}

func (r *callRun) dial(ctx context.Context) bool {
	r.setStatus(session.StatusDialing, "")
	r.streamURL = telephony.StreamURL(r.cfg.PublicBaseURL, r.vendor.Name())

	vendorCallID, err := r.vendor.Dial(ctx, telephony.DialRequest{
		To:        r.sess.Target,
		StreamURL: r.streamURL,
	})
	if err != nil {
		r.metrics.ObserveVendorError(r.vendor.Name(), "dial")
		r.fail("vendor_call_failed", reliability.VendorFailureHint(r.vendor.Name(), err))
		return false
	}
	r.vendorCallID = vendorCallID
	if err := r.sessions.Bind(vendorCallID, r.sess.ID); err != nil {
		log.Printf("call %s: bind vendor call %s: %v", r.sess.ID, vendorCallID, err)
	}
	log.Printf("call %s: placed %s call %s to %s", r.sess.ID, r.vendor.Name(), vendorCallID, r.sess.Target)

	r.setStatus(session.StatusRinging, "")
	return true
}

func (r *callRun) awaitStream(ctx context.Context) bool {
	r.setStatus(session.StatusAwaitingStream, "")

	deadline := time.Now().Add(r.cfg.StreamWaitTimeout)
	ticker := time.NewTicker(r.cfg.StreamPollInterval)
	defer ticker.Stop()
	for {
		if r.line.StreamReady() {
			return true
		}
		if time.Now().After(deadline) {
			detail := fmt.Sprintf(
				"no media stream within %s; the vendor should have connected to %s. Check that %s is reachable from the internet.",
				r.cfg.StreamWaitTimeout, r.streamURL, r.cfg.PublicBaseURL,
			)
			r.fail("stream_handshake_timeout", detail)
			return false
		}
		select {
		case <-ctx.Done():
			r.fail("cancelled", "call cancelled before the media stream connected")
			return false
		case <-ticker.C:
		}
	}
}

// converse runs the turn loop until the callee hangs up, the agent ends the
// call, the silence budget runs out, or the planner gives up.
func (r *callRun) converse(ctx context.Context) {
	seg := segment.NewSegmenter(r.cfg.Segmenter)
	silentRounds := 0

	for {
		turnStart := time.Now()

		captureStart := time.Now()
		pcm, err := seg.Capture(ctx, r.line.Queue())
		r.metrics.ObserveTurnStage("capture", time.Since(captureStart))
		if err != nil {
			if errors.Is(err, segment.ErrStreamEnded) {
				r.metrics.ObserveSegmenterOutcome("stream_ended")
				log.Printf("call %s: remote side ended the stream", r.sess.ID)
			}
			// Cancellation lands here too; finalize hangs up and completes.
			return
		}
		if len(pcm) == 0 {
			r.metrics.ObserveSegmenterOutcome("silence")
			silentRounds++
			if silentRounds >= r.cfg.MaxSilentRounds {
				log.Printf("call %s: no speech after %d silent rounds, ending call", r.sess.ID, silentRounds)
				return
			}
			r.metrics.ObserveTurnIndicator("nudge")
			turn := r.bumpTurn()
			r.speak(ctx, r.cfg.NudgeText)
			r.record(turn, transcript.RoleAgent, r.cfg.NudgeText, agent.Action{Type: agent.ActionSpeak})
			continue
		}
		r.metrics.ObserveSegmenterOutcome("utterance")
		silentRounds = 0

		text, ok := r.transcribe(ctx, pcm)
		if !ok {
			continue
		}

		turn := r.bumpTurn()
		priorHistory := append([]string(nil), r.history...)
		r.record(turn, transcript.RoleCallee, text, agent.Action{})

		action, err := r.decide(ctx, text, priorHistory, turn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.fail("agent_decision_failed", fmt.Sprintf("planner gave up after %d attempts: %v", decideAttempts, err))
			return
		}

		done := r.act(ctx, turn, action)
		r.metrics.ObserveTurnStage("turn_total", time.Since(turnStart))
		r.metrics.ObserveTurnLatency(time.Since(turnStart))
		if done || ctx.Err() != nil {
			return
		}
	}
}

func (r *callRun) transcribe(ctx context.Context, pcm []byte) (string, bool) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, r.vendor.MediaFormat().SampleRate)
	if err != nil {
		log.Printf("call %s: wrap utterance: %v", r.sess.ID, err)
		return "", false
	}

	start := time.Now()
	text, err := r.stt.Transcribe(ctx, wav)
	r.metrics.ObserveTurnStage("transcribe", time.Since(start))
	if err != nil {
		log.Printf("call %s: transcribe: %v", r.sess.ID, err)
		r.publish(ErrorEvent(r.sess.ID, "transcription_failed", err.Error()))
		return "", false
	}

	text = strings.TrimSpace(text)
	if len([]rune(text)) < minTranscriptRunes {
		r.metrics.ObserveTurnIndicator("short_transcript_discarded")
		log.Printf("call %s: discarding short transcript %q", r.sess.ID, text)
		return "", false
	}
	return text, true
}

func (r *callRun) decide(ctx context.Context, text string, history []string, turn int) (agent.Action, error) {
	req := agent.DecideRequest{
		CallID:      r.sess.ID,
		Objective:   r.sess.Objective,
		TargetLabel: r.sess.TargetLabel,
		Transcript:  text,
		History:     history,
		Turn:        turn,
	}

	start := time.Now()
	defer func() {
		r.metrics.ObserveTurnStage("decide", time.Since(start))
	}()

	var lastErr error
	for attempt := 0; attempt < decideAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, decideBackoffBase, decideBackoffCap)
			select {
			case <-ctx.Done():
				return agent.Action{}, ctx.Err()
			case <-time.After(wait):
			}
		}
		action, err := r.planner.Decide(ctx, req)
		if err == nil {
			return action, nil
		}
		lastErr = err
		log.Printf("call %s: decide attempt %d/%d: %v", r.sess.ID, attempt+1, decideAttempts, err)
	}
	return agent.Action{}, lastErr
}

func (r *callRun) act(ctx context.Context, turn int, action agent.Action) (done bool) {
	switch action.Type {
	case agent.ActionSpeak:
		r.speak(ctx, action.SpeechText)
		r.record(turn, transcript.RoleAgent, action.SpeechText, action)
	case agent.ActionDTMF:
		r.pressDigits(ctx, action.DTMFDigits)
		r.record(turn, transcript.RoleAgent, "[Pressed "+action.DTMFDigits+"]", action)
	case agent.ActionWait:
		r.record(turn, transcript.RoleAgent, "[Waiting: "+action.Reasoning+"]", action)
	case agent.ActionEndCall:
		if strings.TrimSpace(action.SpeechText) != "" {
			r.speak(ctx, action.SpeechText)
			r.record(turn, transcript.RoleAgent, action.SpeechText, action)
		}
		log.Printf("call %s: agent ended the call", r.sess.ID)
		return true
	default:
		log.Printf("call %s: ignoring unsupported action %q", r.sess.ID, action.Type)
	}
	return false
}

func (r *callRun) speak(ctx context.Context, text string) {
	clean := speech.SanitizeSpeechText(text)
	if clean == "" {
		return
	}
	stream := r.line.Stream()
	if stream == nil {
		return
	}

	synthStart := time.Now()
	wav, err := r.tts.Synthesize(ctx, clean)
	r.metrics.ObserveTurnStage("synthesize", time.Since(synthStart))
	if err != nil {
		log.Printf("call %s: synthesize: %v", r.sess.ID, err)
		r.publish(ErrorEvent(r.sess.ID, "synthesis_failed", err.Error()))
		return
	}
	pcm, rate, err := audio.ParseWAVPCM16LE(wav)
	if err != nil {
		log.Printf("call %s: synthesized audio: %v", r.sess.ID, err)
		r.publish(ErrorEvent(r.sess.ID, "synthesis_failed", err.Error()))
		return
	}
	if want := r.vendor.MediaFormat().SampleRate; rate != want {
		log.Printf("call %s: synthesized audio is %d Hz, stream expects %d Hz; sending anyway", r.sess.ID, rate, want)
	}

	playStart := time.Now()
	if err := stream.SendAudio(ctx, pcm); err != nil {
		log.Printf("call %s: send audio: %v", r.sess.ID, err)
	}
	r.metrics.ObserveTurnStage("playback", time.Since(playStart))
}

func (r *callRun) pressDigits(ctx context.Context, digits string) {
	tones, err := audio.SynthesizeDTMF(digits)
	if err != nil {
		log.Printf("call %s: dtmf %q: %v", r.sess.ID, digits, err)
		r.publish(ErrorEvent(r.sess.ID, "dtmf_failed", err.Error()))
		return
	}
	stream := r.line.Stream()
	if stream == nil {
		return
	}

	playStart := time.Now()
	if err := stream.SendAudio(ctx, tones); err != nil {
		log.Printf("call %s: send dtmf: %v", r.sess.ID, err)
	}
	r.metrics.ObserveTurnStage("playback", time.Since(playStart))
}

func (r *callRun) bumpTurn() int {
	n, err := r.sessions.RecordTurn(r.sess.ID)
	if err != nil {
		log.Printf("call %s: record turn: %v", r.sess.ID, err)
	}
	return n
}

// record persists one conversational turn and publishes it. The stored copy
// of callee speech is PII-redacted when configured; the raw text still feeds
// the planner's rolling history.
func (r *callRun) record(turn int, role, content string, action agent.Action) {
	stored := content
	redacted := false
	if r.cfg.RedactTranscripts && role == transcript.RoleCallee {
		stored, redacted = policy.RedactPII(content)
	}

	rec := transcript.TurnRecord{
		ID:          uuid.NewString(),
		CallID:      r.sess.ID,
		Turn:        turn,
		Role:        role,
		Content:     stored,
		ActionType:  string(action.Type),
		PIIRedacted: redacted,
		CreatedAt:   time.Now().UTC(),
	}
	// Turn records should still be written for a call that was just
	// cancelled, so the save does not ride the run context.
	sctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.transcripts.SaveTurn(sctx, rec); err != nil {
		log.Printf("call %s: save turn: %v", r.sess.ID, err)
	}

	log.Printf("call %s: turn %d %s: %s", r.sess.ID, turn, role, stored)
	r.publish(TurnEvent(r.sess.ID, turn, role, stored, string(action.Type), action.DTMFDigits, action.Reasoning))

	label := "Callee"
	if role == transcript.RoleAgent {
		label = "Agent"
	}
	r.history = append(r.history, label+": "+content)
	if max := r.cfg.HistoryLimit; len(r.history) > max {
		r.history = append([]string(nil), r.history[len(r.history)-max:]...)
	}
}

func (r *callRun) setStatus(status session.Status, detail string) {
	if err := r.sessions.SetStatus(r.sess.ID, status); err != nil {
		log.Printf("call %s: set status %s: %v", r.sess.ID, status, err)
	}
	log.Printf("call %s: %s", r.sess.ID, status)
	r.publish(StatusEvent(r.sess.ID, status, detail))
}

func (r *callRun) fail(code, detail string) {
	log.Printf("call %s: failed: %s: %s", r.sess.ID, code, detail)
	r.publish(ErrorEvent(r.sess.ID, code, detail))
	if _, err := r.sessions.End(r.sess.ID, session.StatusFailed, code, detail); err != nil {
		log.Printf("call %s: end session: %v", r.sess.ID, err)
	}
}

func (r *callRun) publish(ev Event) {
	r.metrics.ObserveCallEvent(string(ev.Type))
	if r.events != nil {
		r.events.Publish(ev)
	}
}

// finalize tears the call down no matter how the run exited: the first
// terminal status wins, the vendor leg is hung up best-effort, and the result
// is persisted and announced.
func (r *callRun) finalize() {
	final, err := r.sessions.End(r.sess.ID, session.StatusCompleted, "", "")
	if err != nil {
		log.Printf("call %s: end session: %v", r.sess.ID, err)
		final = r.sess
	}

	if r.vendorCallID != "" {
		// The run context is often already cancelled here; teardown gets its own.
		hctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		if err := r.vendor.Hangup(hctx, r.vendorCallID); err != nil {
			log.Printf("call %s: hangup %s: %v", r.sess.ID, r.vendorCallID, err)
		}
		cancel()
		r.sessions.Unbind(r.vendorCallID)
	}
	r.line.Close()

	r.saveRecord(final)

	log.Printf("call %s: ended %s after %d turn(s)", r.sess.ID, final.Status, final.Turns)
	r.publish(EndedEvent(r.sess.ID, final.Status, final.Turns, final.FailureCode, final.FailureDetail))
}

func (r *callRun) saveRecord(final *session.Session) {
	vendorCallID := final.VendorCallID
	if vendorCallID == "" {
		vendorCallID = r.vendorCallID
	}
	rec := calllog.Record{
		ID:            final.ID,
		Vendor:        final.Vendor,
		VendorCallID:  vendorCallID,
		Target:        final.Target,
		TargetLabel:   final.TargetLabel,
		Objective:     final.Objective,
		Status:        string(final.Status),
		FailureCode:   final.FailureCode,
		FailureDetail: final.FailureDetail,
		Turns:         final.Turns,
		CreatedAt:     final.CreatedAt,
		UpdatedAt:     time.Now().UTC(),
		StartedAt:     r.startedAt,
		EndedAt:       final.EndedAt,
	}

	sctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.calls.SaveCall(sctx, rec); err != nil {
		log.Printf("call %s: save call record: %v", r.sess.ID, err)
	}
}
