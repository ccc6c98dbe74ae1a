package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/clip-relay/backend/chat"
	"github.com/onnwee/clip-relay/backend/playback"
	"github.com/onnwee/clip-relay/backend/resolver"
	"github.com/onnwee/clip-relay/backend/scene"
	"github.com/onnwee/clip-relay/backend/telemetry"
	"github.com/onnwee/clip-relay/backend/twitchapi"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to status codes. Internal detail is logged,
// never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := telemetry.LoggerWithCorr(r.Context())
	switch {
	case errors.Is(err, resolver.ErrInvalidReference):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid clip reference"})
	case errors.Is(err, resolver.ErrNotFound):
		log.Warn("clip not found", slog.Any("error", err))
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no clip found"})
	case errors.Is(err, playback.ErrNoLastClip):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "nothing has played yet"})
	case errors.Is(err, playback.ErrBusy):
		writeJSON(w, http.StatusConflict, errorBody{Error: "playback busy"})
	case errors.Is(err, playback.ErrNotApproved):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "clip not approved"})
	case errors.Is(err, playback.ErrQueueFull):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "request queue full"})
	case errors.Is(err, scene.ErrSurfaceUnready):
		log.Error("composition surface unready", slog.Any("error", err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "playback surface unavailable"})
	default:
		log.Error("request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	State       string          `json:"state"`
	CurrentClip *twitchapi.Clip `json:"currentClip"`
	QueueSize   int             `json:"queueSize"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state, clip := s.session.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:       state.String(),
		CurrentClip: clip,
		QueueSize:   s.queue.Len(),
	})
}

type playRequest struct {
	ClipID string `json:"clipId"`
	URL    string `json:"url"`
}

// handlePlay resolves the referenced clip and enqueues it. Playback itself
// happens asynchronously, so acceptance is a 202.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	ref := strings.TrimSpace(req.URL)
	if ref == "" {
		ref = strings.TrimSpace(req.ClipID)
	}
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "clipId or url required"})
		return
	}

	// Claim the session while resolving when it is free; the queued clip is
	// then played straight out of Resolving. A busy session still accepts
	// the request into the queue.
	claimed := s.session.BeginResolving()
	clip, err := s.res.ResolveByURL(r.Context(), ref)
	if err != nil {
		if claimed {
			s.session.AbandonResolving()
		}
		if errors.Is(err, resolver.ErrNotFound) {
			s.announce(chat.NotFoundNotice(ref))
		}
		writeError(w, r, err)
		return
	}
	if err := s.queue.Enqueue(clip); err != nil {
		if claimed {
			s.session.AbandonResolving()
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": true,
		"clip":   clip,
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := s.session.Replay(r.Context(), func(ctx context.Context, url string) (*twitchapi.Clip, error) {
		return s.res.ResolveByURL(ctx, url)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"replaying": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.Stop(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.Approve()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.Deny()
	w.WriteHeader(http.StatusNoContent)
}

type contentWarningRequest struct {
	DetectionMethod string `json:"detectionMethod"`
	Timestamp       string `json:"timestamp"`
}

// handleContentWarning is called by the embed page when it detects Twitch's
// content warning interstitial. When the surface can dismiss it, we do;
// otherwise the streamer has to click through manually and we say so.
func (s *Server) handleContentWarning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req contentWarningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	log := telemetry.LoggerWithCorr(r.Context())

	if s.dismisser == nil {
		log.Warn("content warning requires manual dismissal",
			slog.String("detection_method", req.DetectionMethod),
			slog.String("timestamp", req.Timestamp))
		writeJSON(w, http.StatusOK, map[string]bool{"obsAutomation": false})
		return
	}
	if err := s.dismisser.DismissWarning(r.Context()); err != nil {
		log.Warn("automated warning dismissal failed, manual fallback",
			slog.String("detection_method", req.DetectionMethod),
			slog.Any("error", err))
		writeJSON(w, http.StatusOK, map[string]bool{"obsAutomation": false})
		return
	}
	log.Info("content warning dismissed",
		slog.String("detection_method", req.DetectionMethod))
	writeJSON(w, http.StatusOK, map[string]bool{"obsAutomation": true})
}

func (s *Server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	purged := s.res.Cache().Sweep()
	telemetry.LoggerWithCorr(r.Context()).Info("cache sweep", slog.Int("purged", purged))
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}
