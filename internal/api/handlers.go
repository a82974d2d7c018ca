package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/matching"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/session"
)

type matchResponse struct {
	Success bool                      `json:"success"`
	Match   *model.ProfileMatchResult `json:"match"`
	Error   string                    `json:"error,omitempty"`
}

func (s *Server) matchProfile(w http.ResponseWriter, r *http.Request) {
	var req matching.MatchRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, matchResponse{Error: err.Error()})
		return
	}
	res, err := s.deps.Matcher.Match(r.Context(), req)
	if err != nil {
		status := statusFor(apperr.KindOf(err))
		if status >= http.StatusInternalServerError {
			zap.L().Error("api: match failed", zap.String("company", req.CompanyName), zap.Error(err))
		}
		writeJSON(w, status, matchResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{Success: true, Match: res})
}

func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.deps.Analyzer.StartAsync(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/analyses/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Progress.Current(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// streamProgress writes one "progress" event per committed record and ends
// after the terminal one.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Kind: "unknown"})
		return
	}
	id := chi.URLParam(r, "sessionID")
	ch, err := s.deps.Progress.Stream(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for rec := range ch {
		data, err := json.Marshal(rec)
		if err != nil {
			zap.L().Warn("api: encode progress", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", rec.Version, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Health != nil {
		body["components"] = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, body)
}
