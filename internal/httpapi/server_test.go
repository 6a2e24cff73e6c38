package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"precedent/internal/cache"
	"precedent/internal/config"
	"precedent/internal/pipeline"
	"precedent/internal/reasoner"
	"precedent/internal/types"
)

type fakeEngine struct {
	searchResp *types.SearchResponse
	searchErr  error
	planResp   *pipeline.PlanResult
	planErr    error

	lastQuery string
	lastOpts  pipeline.Options
	lastCands []types.CaseCandidate
}

func (f *fakeEngine) Search(_ context.Context, q string, opts pipeline.Options) (*types.SearchResponse, error) {
	f.lastQuery, f.lastOpts = q, opts
	return f.searchResp, f.searchErr
}

func (f *fakeEngine) Plan(_ context.Context, q string) (*pipeline.PlanResult, error) {
	f.lastQuery = q
	return f.planResp, f.planErr
}

func (f *fakeEngine) Finalize(_ context.Context, q string, cands []types.CaseCandidate, opts pipeline.Options) (*types.SearchResponse, error) {
	f.lastQuery, f.lastCands, f.lastOpts = q, cands, opts
	return f.searchResp, f.searchErr
}

type fakePinger struct {
	took time.Duration
	err  error
}

func (p *fakePinger) Ping(context.Context) (time.Duration, error) { return p.took, p.err }

func testServerConfig() config.Config {
	return config.Config{
		RateLimit: config.RateLimitConfig{SearchIPLimit: 100, SearchIPWindow: time.Minute},
		Server:    config.ServerConfig{AllowedOrigins: []string{"*"}},
	}
}

func newServer(t *testing.T, cfg config.Config, eng Engine, pinger *fakePinger) *Server {
	t.Helper()
	var p reasoner.Pinger
	if pinger != nil {
		p = pinger
	}
	return NewServer(cfg, eng, cache.NewMemory(), p, zaptest.NewLogger(t))
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func sampleResponse() *types.SearchResponse {
	return &types.SearchResponse{
		Status:     types.StatusCompleted,
		Query:      "q",
		TierCounts: types.TierCounts{Strict: 1},
		CasesExactStrict: []types.ScoredCase{{
			CaseCandidate: types.CaseCandidate{
				URL:   "https://indiankanoon.org/doc/1/",
				Title: "Appellant vs Respondent on 1 January, 2001",
			},
		}},
	}
}

func TestSearchEndpoint(t *testing.T) {
	eng := &fakeEngine{searchResp: sampleResponse()}
	s := newServer(t, testServerConfig(), eng, nil)

	w := do(t, s, http.MethodPost, "/api/search", searchRequest{
		Query:      "condonation of delay refused",
		MaxResults: 10,
		Debug:      true,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "condonation of delay refused", eng.lastQuery)
	assert.Equal(t, 10, eng.lastOpts.MaxResults)
	assert.True(t, eng.lastOpts.Debug)

	var resp types.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.StatusCompleted, resp.Status)
	assert.Equal(t, 1, resp.TierCounts.Strict)
}

func TestSearchEndpoint_ShortQuery(t *testing.T) {
	eng := &fakeEngine{searchErr: pipeline.ErrQueryTooShort}
	s := newServer(t, testServerConfig(), eng, nil)

	w := do(t, s, http.MethodPost, "/api/search", searchRequest{Query: "delay"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "12 characters")
}

func TestSearchEndpoint_MalformedBody(t *testing.T) {
	s := newServer(t, testServerConfig(), &fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEndpoint_EngineFailure(t *testing.T) {
	eng := &fakeEngine{searchErr: errors.New("boom")}
	s := newServer(t, testServerConfig(), eng, nil)

	w := do(t, s, http.MethodPost, "/api/search", searchRequest{Query: "a long enough query here"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom", "internal detail never leaks")
}

func TestPlanEndpoint(t *testing.T) {
	eng := &fakeEngine{planResp: &pipeline.PlanResult{
		Query:        "q",
		GlobalBudget: 14,
		Variants:     []types.QueryVariant{{ID: "qv_1", Phrase: "condonation of delay refused"}},
	}}
	s := newServer(t, testServerConfig(), eng, nil)

	w := do(t, s, http.MethodPost, "/api/search/plan", searchRequest{Query: "condonation of delay refused appeal"})

	require.Equal(t, http.StatusOK, w.Code)
	var pr pipeline.PlanResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pr))
	assert.Equal(t, 14, pr.GlobalBudget)
	require.Len(t, pr.Variants, 1)
}

func TestFinalizeEndpoint(t *testing.T) {
	eng := &fakeEngine{searchResp: sampleResponse()}
	s := newServer(t, testServerConfig(), eng, nil)

	cands := []types.CaseCandidate{{
		URL:   "https://indiankanoon.org/doc/77/",
		Title: "A vs B on 2 February, 2002",
	}}
	w := do(t, s, http.MethodPost, "/api/search/finalize", finalizeRequest{
		Query:      "condonation of delay refused appeal",
		Candidates: cands,
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, eng.lastCands, 1)
	assert.Equal(t, "https://indiankanoon.org/doc/77/", eng.lastCands[0].URL)
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit.SearchIPLimit = 2
	eng := &fakeEngine{searchResp: sampleResponse()}
	s := newServer(t, cfg, eng, nil)
	// Pin the clock mid-window so the bucket cannot roll over between requests.
	s.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC) }

	body := searchRequest{Query: "condonation of delay refused appeal"}
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/search", body).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/search", body).Code)

	w := do(t, s, http.MethodPost, "/api/search", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "45", w.Header().Get("Retry-After"))

	var rl errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rl))
	assert.Equal(t, int64(45000), rl.RetryAfterMs)
	assert.Contains(t, rl.Error, "rate limit")
}

func TestBedrockHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		s := newServer(t, testServerConfig(), &fakeEngine{}, &fakePinger{took: 120 * time.Millisecond})
		w := do(t, s, http.MethodGet, "/api/health/bedrock", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var h healthBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
		assert.Equal(t, "ok", h.Status)
		assert.Equal(t, int64(120), h.LatencyMs)
	})

	t.Run("unreachable", func(t *testing.T) {
		s := newServer(t, testServerConfig(), &fakeEngine{}, &fakePinger{err: errors.New("no credentials")})
		w := do(t, s, http.MethodGet, "/api/health/bedrock", nil)

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		var h healthBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
		assert.Equal(t, "unreachable", h.Status)
	})

	t.Run("bad timeout", func(t *testing.T) {
		s := newServer(t, testServerConfig(), &fakeEngine{}, &fakePinger{})
		w := do(t, s, http.MethodGet, "/api/health/bedrock?timeoutMs=10", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no model configured", func(t *testing.T) {
		s := newServer(t, testServerConfig(), &fakeEngine{}, nil)
		w := do(t, s, http.MethodGet, "/api/health/bedrock", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var h healthBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
		assert.Equal(t, "disabled", h.Status)
	})
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	s := newServer(t, testServerConfig(), &fakeEngine{}, nil)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/health", nil).Code)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}
