package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"precedent/internal/cache"
	"precedent/internal/classify"
	"precedent/internal/config"
	"precedent/internal/types"
)

const (
	kanoonMaxBodyBytes   = 2 << 20
	detailMaxBodyBytes   = 3 << 20
	detailBodyMaxChars   = 16000
	htmlPreviewMaxChars  = 600
	compiledMaxIncludes  = 2
	compiledMaxExcludes  = 2
	defaultMaxResults    = 10
	minRateLimitCooldown = 45 * time.Second
	maxRateLimitCooldown = 5 * time.Minute
)

// challengeMarkers flag interstitial anti-bot pages. They can arrive with
// 200, 403 or 503.
var challengeMarkers = []string{
	"just a moment",
	"attention required",
	"checking your browser",
	"cf-browser-verification",
	"cf-chl",
	"captcha",
}

// noResultMarkers distinguish a genuinely empty result page from a page we
// failed to parse.
var noResultMarkers = []string{
	"could not find any",
	"no matching results",
	"results_middle",
}

var (
	docIDPattern   = regexp.MustCompile(`/doc(?:fragment)?/(\d+)`)
	citesPattern   = regexp.MustCompile(`(?i)\bcites\s+(\d+)`)
	citedByPattern = regexp.MustCompile(`(?i)\bcited\s+by\s+(\d+)`)
	onDatePattern  = regexp.MustCompile(`(?i)\bon\s+(\d{1,2}\s+[A-Za-z]+,?\s+\d{4})\s*$`)

	// Fallback extraction when the markup drifts from the div.result shape.
	resultTitlePattern = regexp.MustCompile(`(?is)class="result_title"[^>]*>\s*<a\s+href="([^"]+)"[^>]*>(.*?)</a>`)
	docsourcePattern   = regexp.MustCompile(`(?is)class="docsource"[^>]*>(.*?)<`)
	tagPattern         = regexp.MustCompile(`<[^>]*>`)
	spacePattern       = regexp.MustCompile(`\s+`)
)

// Kanoon is the lexical judgment source: HTML search pages plus judgment
// detail documents, with operator-compiled queries (doctypes:, fromdate:,
// todate:, sortby:, NOTT).
type Kanoon struct {
	cfg    config.RetrievalConfig
	client *http.Client
	shared cache.Cache
	log    *zap.Logger
}

// NewKanoon builds the lexical provider. shared carries the cross-request
// cooldown state and may be nil in tests.
func NewKanoon(cfg config.RetrievalConfig, shared cache.Cache, log *zap.Logger) *Kanoon {
	if log == nil {
		log = zap.NewNop()
	}
	return &Kanoon{
		cfg:    cfg,
		client: &http.Client{},
		shared: shared,
		log:    log.Named("kanoon"),
	}
}

func (k *Kanoon) ID() string { return "indiankanoon" }

func (k *Kanoon) SupportsDetailFetch() bool { return true }

// ============================================================================
// SEARCH
// ============================================================================

func (k *Kanoon) Search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	query := k.compileQuery(in)
	debug := Debug{SearchQuery: query}

	scope := in.CooldownScope
	if scope == "" {
		scope = k.ID()
	}
	if remaining, cooling := cooldownRemaining(ctx, k.shared, scope); cooling {
		debug.CooldownActive = true
		debug.BlockedType = types.BlockedLocalCooldown
		debug.RetryAfterMs = remaining.Milliseconds()
		k.log.Debug("search skipped, scope cooling down",
			zap.String("scope", scope),
			zap.Int64("retryAfterMs", debug.RetryAfterMs))
		return SearchOutput{Debug: debug}, nil
	}

	maxResults := in.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	maxPages := in.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	crawlBudget := orDuration(in.CrawlMaxElapsed, k.cfg.AttemptTimeoutCap)
	started := time.Now()

	var cases []types.CaseCandidate
	parserMode := ""
	for page := 0; page < maxPages && len(cases) < maxResults; page++ {
		if page > 0 && time.Since(started) >= crawlBudget {
			break
		}
		res := k.fetchPage(ctx, k.searchURL(query, page), in)
		debug.Status = res.status
		if res.err != nil {
			debug.TimedOut = res.timedOut
			if len(cases) > 0 {
				// Later pages failing must not discard earlier parses.
				break
			}
			return SearchOutput{}, &Error{Op: "search", Debug: debug, Err: res.err}
		}
		if res.challenge {
			debug.ChallengeDetected = true
			debug.BlockedType = types.BlockedChallenge
			k.log.Warn("challenge page served",
				zap.Int("status", res.status),
				zap.Int("page", page))
			break
		}
		if res.rateLimited {
			debug.BlockedType = types.BlockedRateLimit
			debug.RetryAfterMs = res.retryAfter.Milliseconds()
			cool := clampDuration(res.retryAfter, minRateLimitCooldown, maxRateLimitCooldown)
			setCooldown(ctx, k.shared, scope, cool)
			k.log.Warn("rate limited, cooling down",
				zap.String("scope", scope),
				zap.Duration("cooldown", cool))
			break
		}
		debug.PagesScanned++
		parsed, mode := parseKanoonResults(res.body, k.cfg.BaseURL, maxResults-len(cases))
		parserMode = mode
		if len(parsed) == 0 {
			if page == 0 && !looksLikeResultsPage(res.body) {
				debug.HTMLPreview = htmlPreview(res.body)
			}
			break
		}
		cases = append(cases, parsed...)
	}

	debug.ParsedCount = len(cases)
	debug.ParserMode = parserMode
	debug.OK = debug.BlockedType == "" && debug.PagesScanned > 0
	k.log.Debug("search complete",
		zap.String("query", query),
		zap.Int("parsed", debug.ParsedCount),
		zap.Int("pages", debug.PagesScanned),
		zap.String("parserMode", parserMode))
	return SearchOutput{Cases: cases, Debug: debug}, nil
}

// compileQuery builds the operator query: phrase, ANDD-ed must-include
// tokens not already present, NOTT exclusions, doctypes/date/sort operators.
func (k *Kanoon) compileQuery(in SearchInput) string {
	if in.CompiledQuery != "" {
		return in.CompiledQuery
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.Phrase))
	included := 0
	for _, tok := range in.IncludeTokens {
		tok = strings.TrimSpace(tok)
		if tok == "" || included >= compiledMaxIncludes {
			continue
		}
		if strings.Contains(strings.ToLower(in.Phrase), strings.ToLower(tok)) {
			continue
		}
		if in.QueryMode == types.QueryModePrecision && strings.Contains(tok, " ") {
			fmt.Fprintf(&b, " ANDD %q", tok)
		} else {
			fmt.Fprintf(&b, " ANDD %s", tok)
		}
		included++
	}
	if in.ApplyExclusions {
		excluded := 0
		for _, tok := range in.ExcludeTokens {
			tok = strings.TrimSpace(tok)
			if tok == "" || excluded >= compiledMaxExcludes {
				continue
			}
			if strings.Contains(tok, " ") {
				fmt.Fprintf(&b, " NOTT %q", tok)
			} else {
				fmt.Fprintf(&b, " NOTT %s", tok)
			}
			excluded++
		}
	}
	if profile := k.doctypeProfile(in); profile != "" {
		fmt.Fprintf(&b, " doctypes:%s", profile)
	}
	if in.FromDate != "" {
		fmt.Fprintf(&b, " fromdate:%s", in.FromDate)
	}
	if in.ToDate != "" {
		fmt.Fprintf(&b, " todate:%s", in.ToDate)
	}
	if in.SortByMostRecent {
		b.WriteString(" sortby:mostrecent")
	}
	return b.String()
}

func (k *Kanoon) doctypeProfile(in SearchInput) string {
	if in.DoctypeProfile != "" {
		return in.DoctypeProfile
	}
	switch in.CourtScope {
	case types.CourtScopeSC:
		return "supremecourt"
	case types.CourtScopeHC:
		return "highcourts"
	default:
		return "judgments"
	}
}

func (k *Kanoon) searchURL(query string, page int) string {
	u := k.cfg.BaseURL + "/search/?formInput=" + url.QueryEscape(query)
	if page > 0 {
		u += "&pagenum=" + strconv.Itoa(page)
	}
	return u
}

// ============================================================================
// PAGE FETCH
// ============================================================================

type pageResult struct {
	body        []byte
	status      int
	challenge   bool
	rateLimited bool
	retryAfter  time.Duration
	timedOut    bool
	err         error
}

// fetchPage runs one page fetch with bounded 429 retries. A Retry-After
// beyond the configured cap ends the attempt instead of sleeping on it.
func (k *Kanoon) fetchPage(ctx context.Context, pageURL string, in SearchInput) pageResult {
	timeout := orDuration(in.FetchTimeout, k.cfg.FetchTimeout)
	retries := in.Max429Retries
	if retries <= 0 {
		retries = k.cfg.Max429Retries
	}
	maxRetryAfter := orDuration(in.MaxRetryAfter, k.cfg.MaxRetryAfter)

	for attempt := 0; ; attempt++ {
		body, status, header, err := k.get(ctx, pageURL, timeout, kanoonMaxBodyBytes)
		if err != nil {
			return pageResult{
				status:   status,
				timedOut: errors.Is(err, context.DeadlineExceeded),
				err:      err,
			}
		}
		if status == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(header.Get("Retry-After"))
			if retryAfter <= 0 {
				retryAfter = time.Duration(800*(attempt+1)) * time.Millisecond
			}
			if attempt >= retries || retryAfter > maxRetryAfter {
				return pageResult{status: status, rateLimited: true, retryAfter: retryAfter}
			}
			select {
			case <-ctx.Done():
				return pageResult{status: status, timedOut: true, err: ctx.Err()}
			case <-time.After(retryAfter):
			}
			continue
		}
		if isChallenge(body) {
			return pageResult{body: body, status: status, challenge: true}
		}
		if status != http.StatusOK {
			return pageResult{status: status, err: fmt.Errorf("unexpected status %d", status)}
		}
		return pageResult{body: body, status: status}
	}
}

func (k *Kanoon) get(ctx context.Context, rawURL string, timeout time.Duration, maxBytes int64) ([]byte, int, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", k.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-IN,en;q=0.8")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

func isChallenge(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 4096)]))
	if strings.Contains(head, "result_title") {
		return false
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

func looksLikeResultsPage(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range noResultMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func htmlPreview(body []byte) string {
	s := spacePattern.ReplaceAllString(string(body), " ")
	s = strings.TrimSpace(s)
	if len(s) > htmlPreviewMaxChars {
		s = s[:htmlPreviewMaxChars]
	}
	return s
}

// ============================================================================
// RESULT PARSING
// ============================================================================

// parseKanoonResults walks div.result blocks; when the DOM shape yields
// nothing it falls back to regex extraction and reports which mode ran.
func parseKanoonResults(body []byte, baseURL string, maxResults int) ([]types.CaseCandidate, string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err == nil {
		var out []types.CaseCandidate
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if len(out) >= maxResults {
				return
			}
			if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
				if cand, ok := extractKanoonResult(n, baseURL); ok {
					out = append(out, cand)
				}
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(doc)
		if len(out) > 0 {
			return out, "dom"
		}
	}
	if out := parseKanoonResultsRegex(body, baseURL, maxResults); len(out) > 0 {
		return out, "regex_fallback"
	}
	return nil, "dom"
}

func extractKanoonResult(n *html.Node, baseURL string) (types.CaseCandidate, bool) {
	var cand types.CaseCandidate
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "div" && hasClass(n, "result_title"):
				if a := findAnchor(n); a != nil {
					cand.URL = canonicalDocURL(baseURL, getAttrValue(a, "href"))
					cand.Title = getTextContent(a)
				}
			case n.Data == "div" && hasClass(n, "docsource"):
				cand.CourtText = getTextContent(n)
			case n.Data == "div" && hasClass(n, "headline"):
				cand.Snippet = getTextContent(n)
			case n.Data == "a":
				text := getTextContent(n)
				if m := citesPattern.FindStringSubmatch(text); m != nil {
					v := atoiSafe(m[1])
					cand.CitesCount = &v
				}
				if m := citedByPattern.FindStringSubmatch(text); m != nil {
					v := atoiSafe(m[1])
					cand.CitedByCount = &v
				}
				if strings.EqualFold(strings.TrimSpace(text), "full document") {
					cand.FullDocumentURL = absoluteURL(baseURL, getAttrValue(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	if cand.URL == "" || cand.Title == "" {
		return cand, false
	}
	cand.Date = dateFromTitle(cand.Title)
	cand.Court = classify.CourtFromText(cand.CourtText)
	return cand, true
}

func parseKanoonResultsRegex(body []byte, baseURL string, maxResults int) []types.CaseCandidate {
	titles := resultTitlePattern.FindAllSubmatch(body, maxResults)
	if len(titles) == 0 {
		return nil
	}
	sources := docsourcePattern.FindAllSubmatch(body, maxResults)
	out := make([]types.CaseCandidate, 0, len(titles))
	for i, m := range titles {
		title := strings.TrimSpace(stripTags(string(m[2])))
		href := string(m[1])
		if title == "" || href == "" {
			continue
		}
		cand := types.CaseCandidate{
			URL:   canonicalDocURL(baseURL, href),
			Title: title,
			Date:  dateFromTitle(title),
		}
		if i < len(sources) {
			cand.CourtText = strings.TrimSpace(stripTags(string(sources[i][1])))
		}
		cand.Court = classify.CourtFromText(cand.CourtText)
		out = append(out, cand)
	}
	return out
}

// canonicalDocURL rewrites docfragment links (which embed the search query)
// to the stable /doc/ form so URL identity survives merging across variants.
func canonicalDocURL(baseURL, href string) string {
	if m := docIDPattern.FindStringSubmatch(href); m != nil {
		return baseURL + "/doc/" + m[1] + "/"
	}
	return absoluteURL(baseURL, href)
}

func absoluteURL(baseURL, href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return baseURL + href
}

func dateFromTitle(title string) string {
	if m := onDatePattern.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	return ""
}

// ============================================================================
// DETAIL FETCH
// ============================================================================

// FetchDetail hydrates one judgment document: title, attributed court and
// a capped body assembled from paragraph/blockquote text.
func (k *Kanoon) FetchDetail(ctx context.Context, docURL string) (DetailDoc, error) {
	debug := Debug{SearchQuery: docURL}
	body, status, _, err := k.get(ctx, docURL, k.cfg.FetchTimeout, detailMaxBodyBytes)
	debug.Status = status
	if err != nil {
		debug.TimedOut = errors.Is(err, context.DeadlineExceeded)
		return DetailDoc{}, &Error{Op: "detail", Debug: debug, Err: err}
	}
	if isChallenge(body) {
		debug.ChallengeDetected = true
		debug.BlockedType = types.BlockedChallenge
		return DetailDoc{}, &Error{Op: "detail", Debug: debug, Err: errors.New("challenge page")}
	}
	if status != http.StatusOK {
		return DetailDoc{}, &Error{Op: "detail", Debug: debug, Err: fmt.Errorf("unexpected status %d", status)}
	}

	doc := parseKanoonDetail(body)
	if doc.Title == "" && doc.Body == "" {
		debug.HTMLPreview = htmlPreview(body)
		return DetailDoc{}, &Error{Op: "detail", Debug: debug, Err: errors.New("empty document")}
	}
	return doc, nil
}

func parseKanoonDetail(body []byte) DetailDoc {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return DetailDoc{}
	}
	var doc DetailDoc
	var titleTag string
	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "script" || n.Data == "style":
				return
			case hasClass(n, "doc_title") && doc.Title == "":
				doc.Title = getTextContent(n)
				return
			case hasClass(n, "docsource") && doc.CourtText == "":
				doc.CourtText = getTextContent(n)
				return
			case n.Data == "p" || n.Data == "blockquote" || n.Data == "pre":
				if text.Len() < detailBodyMaxChars {
					if t := getTextContent(n); t != "" {
						text.WriteString(t)
						text.WriteString("\n")
					}
				}
				return
			case n.Data == "title" && titleTag == "":
				titleTag = getTextContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if doc.Title == "" {
		doc.Title = titleTag
	}
	doc.Body = strings.TrimSpace(text.String())
	if len(doc.Body) > detailBodyMaxChars {
		doc.Body = doc.Body[:detailBodyMaxChars]
	}
	return doc
}

// ============================================================================
// DOM HELPERS
// ============================================================================

func hasClass(n *html.Node, name string) bool {
	for _, field := range strings.Fields(getAttrValue(n, "class")) {
		if field == name {
			return true
		}
	}
	return false
}

func getAttrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func getTextContent(n *html.Node) string {
	var sb strings.Builder
	var getText func(*html.Node)
	getText = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			getText(c)
		}
	}
	getText(n)
	return strings.TrimSpace(sb.String())
}

func findAnchor(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "a" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if a := findAnchor(c); a != nil {
			return a
		}
	}
	return nil
}

func stripTags(s string) string {
	return spacePattern.ReplaceAllString(tagPattern.ReplaceAllString(s, " "), " ")
}

func atoiSafe(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
