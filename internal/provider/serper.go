package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"precedent/internal/classify"
	"precedent/internal/config"
	"precedent/internal/types"
)

const (
	serperMaxBodyBytes = 1 << 20
	serperDefaultSite  = "indiankanoon.org"
)

// Serper is the web-search fallback source. It returns snippet-level
// candidates only; judgment bodies stay with the lexical provider.
type Serper struct {
	cfg    config.RetrievalConfig
	client *http.Client
	log    *zap.Logger
}

func NewSerper(cfg config.RetrievalConfig, log *zap.Logger) *Serper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Serper{
		cfg:    cfg,
		client: &http.Client{},
		log:    log.Named("serper"),
	}
}

func (s *Serper) ID() string { return "serper" }

func (s *Serper) SupportsDetailFetch() bool { return false }

func (s *Serper) FetchDetail(ctx context.Context, docURL string) (DetailDoc, error) {
	return DetailDoc{}, &Error{
		Op:    "detail",
		Debug: Debug{SearchQuery: docURL},
		Err:   errors.New("detail fetch unsupported"),
	}
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	GL  string `json:"gl"`
	HL  string `json:"hl"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date,omitempty"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	query := s.compileQuery(in)
	debug := Debug{SearchQuery: query, ParserMode: "json"}

	if s.cfg.SerperAPIKey == "" {
		return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: errors.New("api key not configured")}
	}

	maxResults := in.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	payload, err := json.Marshal(serperRequest{Q: query, Num: maxResults, GL: "in", HL: "en"})
	if err != nil {
		return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, orDuration(in.FetchTimeout, s.cfg.FetchTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SerperBaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("X-API-KEY", s.cfg.SerperAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		debug.TimedOut = errors.Is(err, context.DeadlineExceeded)
		return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: fmt.Errorf("fetch: %w", err)}
	}
	defer resp.Body.Close()
	debug.Status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, serperMaxBodyBytes))
	if err != nil {
		return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter <= 0 {
			retryAfter = 2 * time.Second
		}
		debug.BlockedType = types.BlockedRateLimit
		debug.RetryAfterMs = retryAfter.Milliseconds()
		s.log.Warn("serper rate limited", zap.Int64("retryAfterMs", debug.RetryAfterMs))
		return SearchOutput{Debug: debug}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var parsed serperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		debug.HTMLPreview = htmlPreview(body)
		return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: fmt.Errorf("decode response: %w", err)}
	}

	cases := make([]types.CaseCandidate, 0, len(parsed.Organic))
	for _, item := range parsed.Organic {
		if len(cases) >= maxResults {
			break
		}
		if item.Link == "" || item.Title == "" {
			continue
		}
		cand := types.CaseCandidate{
			URL:     normalizeResultURL(item.Link),
			Title:   item.Title,
			Snippet: item.Snippet,
			Date:    item.Date,
		}
		cand.Court = classify.CourtFromText(item.Title + " " + item.Snippet)
		if cand.Date == "" {
			cand.Date = dateFromTitle(cand.Title)
		}
		cases = append(cases, cand)
	}

	debug.OK = true
	debug.ParsedCount = len(cases)
	s.log.Debug("serper search complete",
		zap.String("query", query),
		zap.Int("parsed", debug.ParsedCount))
	return SearchOutput{Cases: cases, Debug: debug}, nil
}

// compileQuery builds the web query: quoted phrase in precision mode, minus
// operators for exclusions, a court bias term and a site restriction. A
// "site" provider hint overrides the default restriction; empty disables it.
func (s *Serper) compileQuery(in SearchInput) string {
	if in.CompiledQuery != "" {
		return in.CompiledQuery
	}
	phrase := strings.TrimSpace(in.Phrase)
	if in.QueryMode == types.QueryModePrecision && strings.Contains(phrase, " ") {
		phrase = `"` + phrase + `"`
	}
	parts := []string{phrase}
	switch in.CourtScope {
	case types.CourtScopeSC:
		parts = append(parts, "supreme court")
	case types.CourtScopeHC:
		parts = append(parts, "high court")
	}
	if in.ApplyExclusions {
		excluded := 0
		for _, tok := range in.ExcludeTokens {
			tok = strings.TrimSpace(tok)
			if tok == "" || excluded >= compiledMaxExcludes {
				continue
			}
			if strings.Contains(tok, " ") {
				parts = append(parts, fmt.Sprintf("-%q", tok))
			} else {
				parts = append(parts, "-"+tok)
			}
			excluded++
		}
	}
	site := serperDefaultSite
	if hint, ok := in.ProviderHints["site"]; ok {
		site = hint
	}
	if site != "" {
		parts = append(parts, "site:"+site)
	}
	return strings.Join(parts, " ")
}

// normalizeResultURL canonicalizes judgment links on the lexical source so
// web-search hits merge with lexical hits for the same document.
func normalizeResultURL(link string) string {
	if !strings.Contains(link, "indiankanoon.org") {
		return link
	}
	if m := docIDPattern.FindStringSubmatch(link); m != nil {
		return "https://indiankanoon.org/doc/" + m[1] + "/"
	}
	return link
}
