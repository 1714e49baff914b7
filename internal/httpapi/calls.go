package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/outdial/internal/calllog"
	"github.com/ent0n29/outdial/internal/dialer"
	"github.com/ent0n29/outdial/internal/session"
)

type cancelCallRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.To = strings.TrimSpace(req.To)
	req.Label = strings.TrimSpace(req.Label)
	req.Objective = strings.TrimSpace(req.Objective)
	req.Vendor = strings.TrimSpace(req.Vendor)

	sess, err := s.dialer.StartCall(r.Context(), req)
	if err != nil {
		if errors.Is(err, dialer.ErrDialBlocked) {
			respondError(w, http.StatusForbidden, "dial_blocked", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, session.StartResponse{
		CallID:    sess.ID,
		Vendor:    sess.Vendor,
		Target:    sess.Target,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	records, err := s.calls.RecentCalls(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "call_list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "id"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}

	rec, err := s.calls.GetCall(r.Context(), callID)
	if err != nil {
		if errors.Is(err, calllog.ErrStoreNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "call_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call":   rec,
		"active": s.dialer.IsActive(callID),
	})
}

func (s *Server) handleCancelCall(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "id"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}

	reason := "Cancelled by API."
	var req cancelCallRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) != "" {
		reason = strings.TrimSpace(req.Reason)
	}

	if err := s.dialer.Cancel(callID, reason); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusConflict, "call_not_running", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"call_id": callID,
		"status":  "cancelling",
	})
}

func (s *Server) handleCallEvents(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "id"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	events, err := s.dialer.Events(callID, limit)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "call_events_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id": callID,
		"events":  events,
	})
}

func (s *Server) handleCallTranscript(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "id"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	if _, err := s.calls.GetCall(r.Context(), callID); err != nil {
		if errors.Is(err, calllog.ErrStoreNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "call_get_failed", err.Error())
		return
	}

	turns, err := s.transcripts.History(r.Context(), callID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id": callID,
		"turns":   turns,
	})
}
