package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/outdial/internal/calllog"
	"github.com/ent0n29/outdial/internal/config"
	"github.com/ent0n29/outdial/internal/dialer"
	"github.com/ent0n29/outdial/internal/observability"
	"github.com/ent0n29/outdial/internal/telephony"
	"github.com/ent0n29/outdial/internal/transcript"
)

// Server exposes the call API, the browser event feed, and the vendor media
// stream endpoints.
type Server struct {
	cfg         config.Config
	vendor      telephony.Vendor
	dialer      *dialer.Service
	calls       calllog.Store
	transcripts transcript.Store
	metrics     *observability.Metrics

	feedUpgrader   websocket.Upgrader
	streamUpgrader websocket.Upgrader
}

func New(cfg config.Config, vendor telephony.Vendor, d *dialer.Service, calls calllog.Store, transcripts transcript.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		vendor:      vendor,
		dialer:      d,
		calls:       calls,
		transcripts: transcripts,
		metrics:     metrics,
		feedUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser feeds must come from the same origin unless the
				// deployment opts out; another site must not be able to watch
				// or end calls.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
		streamUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Vendor media infrastructure connects server-to-server and sends
			// no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/calls", s.handleStartCall)
	r.Get("/api/calls", s.handleListCalls)
	r.Get("/api/calls/{id}", s.handleGetCall)
	r.Delete("/api/calls/{id}", s.handleCancelCall)
	r.Get("/api/calls/{id}/events", s.handleCallEvents)
	r.Get("/api/calls/{id}/transcript", s.handleCallTranscript)
	r.Get("/api/providers", s.handleProviders)
	r.Get("/api/perf/latency", s.handlePerfLatency)
	r.Delete("/api/perf/latency", s.handleResetPerfLatency)

	r.Get("/ws/calls/{id}", s.handleCallFeed)
	r.Get("/stream/twilio", s.handleTwilioStream)
	r.Get("/stream/exotel", s.handleExotelStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"vendor":       s.vendor.Name(),
		"active_calls": s.dialer.ActiveCount(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"vendor":          s.vendor.Name(),
		"media_format":    s.vendor.MediaFormat(),
		"public_base_url": s.cfg.PublicBaseURL,
		"stream_url":      telephony.StreamURL(s.cfg.PublicBaseURL, s.vendor.Name()),
	})
}

func (s *Server) handleTwilioStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	telephony.ServeTwilioStream(r.Context(), conn, s.dialer, s.metrics)
}

func (s *Server) handleExotelStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	telephony.ServeExotelStream(r.Context(), conn, s.dialer, s.metrics)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
