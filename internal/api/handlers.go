package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DTeam-Top/docpilot/internal/pipeline"
)

// Nginx convention for a client that went away before the response.
const statusClientClosedRequest = 499

type analyzeRequest struct {
	SourceID    string `json:"source_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	Kind        string `json:"kind"`
}

type analyzeResponse struct {
	Kind         pipeline.OutcomeKind `json:"kind"`
	Artifact     string               `json:"artifact"`
	StrategyUsed string               `json:"strategy_used"`
	TextLength   int                  `json:"text_length"`
	Cached       bool                 `json:"cached"`
	Progress     string               `json:"progress,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SourceID == "" {
		jsonError(w, "source_id is required", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.SourceID
	}
	kind := pipeline.Kind(req.Kind)
	if req.Kind == "" {
		kind = pipeline.KindSummary
	}
	if _, err := pipeline.StrategyFor(kind); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	sink := &pipeline.BufferSink{}
	resp, err := s.svc.Analyze(ctx, pipeline.Request{
		SourceID:    req.SourceID,
		DisplayName: req.DisplayName,
		Text:        req.Text,
		Kind:        kind,
	}, sink)
	if err != nil {
		var terminal *pipeline.TerminalError
		if errors.As(err, &terminal) {
			jsonError(w, terminal.Error(), http.StatusBadGateway)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if resp.Kind == pipeline.OutcomeCancelled {
		status = statusClientClosedRequest
	}
	writeJSON(w, status, analyzeResponse{
		Kind:         resp.Kind,
		Artifact:     resp.Text,
		StrategyUsed: resp.StrategyUsed,
		TextLength:   resp.TextLength,
		Cached:       resp.Cached,
		Progress:     sink.String(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.CacheStats()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.model == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model": s.model.Model(),
		"stats": s.model.Stats.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
