package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the outbound dialing service.
type Config struct {
	BindAddr         string
	PublicBaseURL    string
	AllowAnyOrigin   bool
	MetricsNamespace string
	ShutdownTimeout  time.Duration
	DatabaseURL      string

	TelephonyProvider string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioBaseURL    string

	ExotelSID        string
	ExotelAPIKey     string
	ExotelAPIToken   string
	ExotelFromNumber string
	ExotelAppID      string
	ExotelBaseURL    string

	AgentMode       string
	AgentHTTPURL    string
	AgentScriptPath string

	SpeechProvider string
	STTHTTPURL     string
	TTSHTTPURL     string
	SpeechAPIKey   string
	TTSVoice       string

	SpeechEnergyThreshold float64
	SpeechSilenceWindow   time.Duration
	SpeechPollInterval    time.Duration
	SpeechWaitTimeout     time.Duration
	SpeechMinBytes        int

	StreamWaitTimeout   time.Duration
	MaxSilentTurns      int
	CallTimeout         time.Duration
	RegistryResolveWait time.Duration
	SessionRetention    time.Duration
	RedactTranscripts   bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("BIND_ADDR", ":8080"),
		PublicBaseURL:     stringsTrimSpace("PUBLIC_BASE_URL"),
		MetricsNamespace:  envOrDefault("METRICS_NAMESPACE", "outdial"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		TelephonyProvider: envOrDefault("TELEPHONY_PROVIDER", "mock"),
		TwilioAccountSID:  stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  stringsTrimSpace("TWILIO_FROM_NUMBER"),
		TwilioBaseURL:     stringsTrimSpace("TWILIO_BASE_URL"),
		ExotelSID:         stringsTrimSpace("EXOTEL_SID"),
		ExotelAPIKey:      stringsTrimSpace("EXOTEL_API_KEY"),
		ExotelAPIToken:    stringsTrimSpace("EXOTEL_API_TOKEN"),
		ExotelFromNumber:  stringsTrimSpace("EXOTEL_FROM_NUMBER"),
		ExotelAppID:       stringsTrimSpace("EXOTEL_APP_ID"),
		ExotelBaseURL:     stringsTrimSpace("EXOTEL_BASE_URL"),
		AgentMode:         envOrDefault("AGENT_MODE", "auto"),
		AgentHTTPURL:      stringsTrimSpace("AGENT_HTTP_URL"),
		AgentScriptPath:   stringsTrimSpace("AGENT_SCRIPT_PATH"),
		SpeechProvider:    envOrDefault("SPEECH_PROVIDER", "auto"),
		STTHTTPURL:        stringsTrimSpace("STT_HTTP_URL"),
		TTSHTTPURL:        stringsTrimSpace("TTS_HTTP_URL"),
		SpeechAPIKey:      stringsTrimSpace("SPEECH_API_KEY"),
		TTSVoice:          stringsTrimSpace("TTS_VOICE"),

		SpeechEnergyThreshold: 40,
		SpeechSilenceWindow:   2 * time.Second,
		SpeechPollInterval:    300 * time.Millisecond,
		SpeechWaitTimeout:     45 * time.Second,
		SpeechMinBytes:        3200,

		StreamWaitTimeout:   90 * time.Second,
		MaxSilentTurns:      3,
		CallTimeout:         15 * time.Minute,
		RegistryResolveWait: 5 * time.Second,
		SessionRetention:    10 * time.Minute,
		RedactTranscripts:   false,
		AllowAnyOrigin:      false,
		ShutdownTimeout:     10 * time.Second,
	}

	var err error
	cfg.SpeechEnergyThreshold, err = floatFromEnv("SPEECH_ENERGY_THRESHOLD", cfg.SpeechEnergyThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechSilenceWindow, err = durationFromEnv("SPEECH_SILENCE_WINDOW", cfg.SpeechSilenceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechPollInterval, err = durationFromEnv("SPEECH_POLL_INTERVAL", cfg.SpeechPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechWaitTimeout, err = durationFromEnv("SPEECH_WAIT_TIMEOUT", cfg.SpeechWaitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechMinBytes, err = intFromEnv("SPEECH_MIN_BYTES", cfg.SpeechMinBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamWaitTimeout, err = durationFromEnv("STREAM_WAIT_TIMEOUT", cfg.StreamWaitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSilentTurns, err = intFromEnv("MAX_SILENT_TURNS", cfg.MaxSilentTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.CallTimeout, err = durationFromEnv("CALL_TIMEOUT", cfg.CallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RegistryResolveWait, err = durationFromEnv("REGISTRY_RESOLVE_WAIT", cfg.RegistryResolveWait)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactTranscripts, err = boolFromEnv("REDACT_TRANSCRIPTS", cfg.RedactTranscripts)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.TelephonyProvider = strings.ToLower(strings.TrimSpace(cfg.TelephonyProvider))
	switch cfg.TelephonyProvider {
	case "mock", "twilio", "exotel":
	default:
		return Config{}, fmt.Errorf("TELEPHONY_PROVIDER must be mock, twilio or exotel, got %q", cfg.TelephonyProvider)
	}
	if cfg.PublicBaseURL == "" && cfg.TelephonyProvider != "mock" {
		return Config{}, fmt.Errorf("PUBLIC_BASE_URL is required for the %s provider", cfg.TelephonyProvider)
	}
	if cfg.PublicBaseURL != "" && !strings.HasPrefix(cfg.PublicBaseURL, "http://") && !strings.HasPrefix(cfg.PublicBaseURL, "https://") {
		return Config{}, fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://")
	}
	if cfg.SpeechEnergyThreshold <= 0 {
		return Config{}, fmt.Errorf("SPEECH_ENERGY_THRESHOLD must be positive")
	}
	if cfg.SpeechMinBytes <= 0 {
		return Config{}, fmt.Errorf("SPEECH_MIN_BYTES must be positive")
	}
	if cfg.SpeechSilenceWindow <= 0 || cfg.SpeechPollInterval <= 0 {
		return Config{}, fmt.Errorf("SPEECH_SILENCE_WINDOW and SPEECH_POLL_INTERVAL must be positive")
	}
	if cfg.SpeechWaitTimeout <= cfg.SpeechSilenceWindow {
		return Config{}, fmt.Errorf("SPEECH_WAIT_TIMEOUT must be longer than SPEECH_SILENCE_WINDOW")
	}
	if cfg.StreamWaitTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("STREAM_WAIT_TIMEOUT must be at least 5s")
	}
	if cfg.MaxSilentTurns <= 0 {
		return Config{}, fmt.Errorf("MAX_SILENT_TURNS must be positive")
	}
	if cfg.CallTimeout < time.Minute {
		return Config{}, fmt.Errorf("CALL_TIMEOUT must be at least 1m")
	}
	if cfg.RegistryResolveWait <= 0 {
		return Config{}, fmt.Errorf("REGISTRY_RESOLVE_WAIT must be positive")
	}
	if cfg.SessionRetention < time.Minute {
		return Config{}, fmt.Errorf("SESSION_RETENTION must be at least 1m")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
