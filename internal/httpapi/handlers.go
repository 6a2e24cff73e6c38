package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"precedent/internal/pipeline"
	"precedent/internal/types"
)

const maxBodyBytes = 1 << 20

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults,omitempty"`
	Debug      bool   `json:"debug,omitempty"`
}

type finalizeRequest struct {
	Query      string                `json:"query"`
	Candidates []types.CaseCandidate `json:"candidates"`
	MaxResults int                   `json:"maxResults,omitempty"`
	Debug      bool                  `json:"debug,omitempty"`
}

type errorBody struct {
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

type healthBody struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.engine.Search(r.Context(), req.Query, pipeline.Options{
		MaxResults: req.MaxResults,
		Debug:      req.Debug,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	pr, err := s.engine.Plan(r.Context(), req.Query)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.engine.Finalize(r.Context(), req.Query, req.Candidates, pipeline.Options{
		MaxResults: req.MaxResults,
		Debug:      req.Debug,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{Status: "ok"})
}

// handleBedrockHealth proves model reachability with a one-token invoke.
// timeoutMs overrides the probe budget within [250ms, 30s].
func (s *Server) handleBedrockHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger == nil {
		writeJSON(w, http.StatusOK, healthBody{Status: "disabled", Detail: "no model configured"})
		return
	}

	timeout := 3 * time.Second
	if raw := r.URL.Query().Get("timeoutMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 250 || ms > 30000 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "timeoutMs must be an integer in [250, 30000]"})
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	took, err := s.pinger.Ping(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{
			Status:    "unreachable",
			Detail:    err.Error(),
			LatencyMs: took.Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", LatencyMs: took.Milliseconds()})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrQueryTooShort) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.log.Error("engine call failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
