package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/outdial/internal/agent"
	"github.com/ent0n29/outdial/internal/call"
	"github.com/ent0n29/outdial/internal/calllog"
	"github.com/ent0n29/outdial/internal/config"
	"github.com/ent0n29/outdial/internal/dialer"
	"github.com/ent0n29/outdial/internal/httpapi"
	"github.com/ent0n29/outdial/internal/observability"
	"github.com/ent0n29/outdial/internal/segment"
	"github.com/ent0n29/outdial/internal/session"
	"github.com/ent0n29/outdial/internal/speech"
	"github.com/ent0n29/outdial/internal/telephony"
	"github.com/ent0n29/outdial/internal/transcript"
)

// BuildResult carries everything cmd/outdial needs to serve and shut down.
type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Dialer   *dialer.Service
	Vendor   telephony.Vendor
	Metrics  *observability.Metrics

	// SpeechDetail names the resolved STT/TTS stack for startup logs.
	SpeechDetail string

	// Cleanup should be called on shutdown to release external resources (DB, running calls).
	Cleanup func() error
}

// Build wires the full service: stores, telephony vendor, planner, speech
// backends, orchestrator, dialer, HTTP API. The context covers store
// initialization only; call lifetimes are managed through the dialer.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}
	calls, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = transcripts.Close()
		return nil, fmt.Errorf("call log init failed: %w", err)
	}
	closeStores := func() {
		_ = calls.Close()
		_ = transcripts.Close()
	}

	vendor, err := telephony.NewVendor(telephony.Config{
		Provider: cfg.TelephonyProvider,
		Twilio: telephony.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			BaseURL:    cfg.TwilioBaseURL,
		},
		Exotel: telephony.ExotelConfig{
			AccountSID: cfg.ExotelSID,
			APIKey:     cfg.ExotelAPIKey,
			APIToken:   cfg.ExotelAPIToken,
			FromNumber: cfg.ExotelFromNumber,
			AppID:      cfg.ExotelAppID,
			BaseURL:    cfg.ExotelBaseURL,
		},
	})
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("telephony vendor init failed: %w", err)
	}

	planner, err := agent.NewPlanner(agent.Config{
		Mode:       cfg.AgentMode,
		HTTPURL:    cfg.AgentHTTPURL,
		ScriptPath: cfg.AgentScriptPath,
	})
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("agent planner init failed: %w", err)
	}

	stt, tts, speechDetail, err := resolveSpeech(cfg)
	if err != nil {
		closeStores()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionRetention)

	orchestrator := call.NewOrchestrator(call.Config{
		PublicBaseURL:     cfg.PublicBaseURL,
		StreamWaitTimeout: cfg.StreamWaitTimeout,
		MaxSilentRounds:   cfg.MaxSilentTurns,
		RedactTranscripts: cfg.RedactTranscripts,
		Segmenter: segment.Config{
			EnergyThreshold:   cfg.SpeechEnergyThreshold,
			SilenceWindow:     cfg.SpeechSilenceWindow,
			PollInterval:      cfg.SpeechPollInterval,
			MaxWait:           cfg.SpeechWaitTimeout,
			MinUtteranceBytes: cfg.SpeechMinBytes,
		},
	}, vendor, sessions, planner, stt, tts, transcripts, calls, metrics)

	svc := dialer.New(dialer.Config{
		CallTimeout: cfg.CallTimeout,
		ResolveWait: cfg.RegistryResolveWait,
	}, orchestrator, vendor, sessions, calls, metrics)

	// Expired sessions drop their event history and feed subscribers with them.
	sessions.SetExpireHook(svc.Forget)

	// The mock vendor loops media back in-process, so it needs the attacher
	// directly; real vendors reach it through the /stream endpoints.
	if mock, ok := vendor.(*telephony.MockVendor); ok {
		mock.SetAttacher(svc)
	}

	api := httpapi.New(cfg, vendor, svc, calls, transcripts, metrics)

	cleanup := func() error {
		var errs []string
		if err := svc.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := calls.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := transcripts.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Dialer:       svc,
		Vendor:       vendor,
		Metrics:      metrics,
		SpeechDetail: speechDetail,
		Cleanup:      cleanup,
	}, nil
}

// resolveSpeech builds the STT/TTS pair. HTTP-backed stacks are wrapped with
// mock fallback so a speech outage degrades the call instead of failing every
// turn.
func resolveSpeech(cfg config.Config) (speech.Transcriber, speech.Synthesizer, string, error) {
	speechCfg := speech.Config{
		Mode:   cfg.SpeechProvider,
		STTURL: cfg.STTHTTPURL,
		TTSURL: cfg.TTSHTTPURL,
		APIKey: cfg.SpeechAPIKey,
		Voice:  cfg.TTSVoice,
	}
	stt, err := speech.NewTranscriber(speechCfg)
	if err != nil {
		return nil, nil, "", fmt.Errorf("speech transcriber init failed: %w", err)
	}
	tts, err := speech.NewSynthesizer(speechCfg)
	if err != nil {
		return nil, nil, "", fmt.Errorf("speech synthesizer init failed: %w", err)
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	httpBacked := mode != "mock" &&
		(strings.TrimSpace(cfg.STTHTTPURL) != "" || strings.TrimSpace(cfg.TTSHTTPURL) != "")
	if !httpBacked {
		return stt, tts, "mock", nil
	}

	stt, tts = speech.NewFailoverSpeechPair(stt, tts, speech.NewMockTranscriber(), speech.NewMockSynthesizer())
	return stt, tts, "http (mock fallback armed)", nil
}
