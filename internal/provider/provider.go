// Package provider implements the retrieval sources the scheduler drains:
// the lexical judgment source (HTML search plus judgment detail pages) and a
// Serper-style web search. The scheduler is provider-agnostic; everything it
// needs to know about an attempt — parse counts, challenge and cooldown
// state, retry-after — travels in the Debug block, which every search
// returns on success and every error carries through the failure path.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"precedent/internal/cache"
	"precedent/internal/types"
)

// SearchInput is one variant compiled for execution.
type SearchInput struct {
	Phrase     string
	CourtScope types.CourtScope

	// MaxResults caps parsed candidates across pages; MaxPages caps paging.
	MaxResults int
	MaxPages   int

	// Date window in D-M-YYYY, empty meaning unbounded.
	FromDate string
	ToDate   string

	SortByMostRecent bool

	// FetchTimeout bounds one page fetch; CrawlMaxElapsed bounds the whole
	// multi-page crawl. Zero values fall back to provider config.
	FetchTimeout    time.Duration
	CrawlMaxElapsed time.Duration

	Max429Retries int
	MaxRetryAfter time.Duration

	// CooldownScope keys the shared cooldown entry; empty scopes to the
	// provider id.
	CooldownScope string

	// CompiledQuery bypasses query compilation when the caller already built
	// the provider-native query string.
	CompiledQuery string

	IncludeTokens   []string
	ExcludeTokens   []string
	ApplyExclusions bool

	QueryMode      types.QueryMode
	DoctypeProfile string

	ProviderHints   map[string]string
	VariantPriority int
}

// Debug is the per-attempt diagnostic block. The scheduler records it on
// the Attempt regardless of outcome.
type Debug struct {
	SearchQuery       string            `json:"searchQuery"`
	Status            int               `json:"status"`
	OK                bool              `json:"ok"`
	ParsedCount       int               `json:"parsedCount"`
	ParserMode        string            `json:"parserMode,omitempty"`
	PagesScanned      int               `json:"pagesScanned"`
	ChallengeDetected bool              `json:"challengeDetected,omitempty"`
	CooldownActive    bool              `json:"cooldownActive,omitempty"`
	RetryAfterMs      int64             `json:"retryAfterMs,omitempty"`
	BlockedType       types.BlockedKind `json:"blockedType,omitempty"`
	TimedOut          bool              `json:"timedOut,omitempty"`
	HTMLPreview       string            `json:"htmlPreview,omitempty"`
}

// Blocked reports whether the attempt hit any upstream blocking mode.
func (d Debug) Blocked() bool { return d.BlockedType != "" }

// SearchOutput is a successful (possibly blocked) search. Blocked attempts
// come back as outputs, not errors: the block is a result, the debug block
// says which kind.
type SearchOutput struct {
	Cases []types.CaseCandidate `json:"cases"`
	Debug Debug                 `json:"debug"`
}

// DetailDoc is the second-stage judgment document.
type DetailDoc struct {
	Title     string `json:"title"`
	CourtText string `json:"courtText,omitempty"`
	Body      string `json:"body"`
}

// Provider is the retrieval source contract the scheduler consumes.
type Provider interface {
	ID() string
	SupportsDetailFetch() bool
	Search(ctx context.Context, in SearchInput) (SearchOutput, error)
	FetchDetail(ctx context.Context, docURL string) (DetailDoc, error)
}

// Error is the provider failure type. It always carries the Debug shape so
// the scheduler can record status, timeout and challenge flags for failed
// attempts too.
type Error struct {
	Op    string
	Debug Debug
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DebugOf extracts the diagnostic block from a provider error chain.
func DebugOf(err error) (Debug, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Debug, true
	}
	return Debug{}, false
}

// ============================================================================
// SHARED COOLDOWN
// ============================================================================

// cooldownEntry is the shared-cache record for a provider-scope cooldown.
type cooldownEntry struct {
	UntilMs int64 `json:"untilMs"`
}

const cooldownKeyPrefix = "retrieval:cooldown:"

// cooldownRemaining reports whether the scope is cooling down and for how
// much longer. Cache errors read as no cooldown; a broken cache must not
// stop retrieval.
func cooldownRemaining(ctx context.Context, shared cache.Cache, scope string) (time.Duration, bool) {
	if shared == nil {
		return 0, false
	}
	var entry cooldownEntry
	ok, err := shared.GetJSON(ctx, cooldownKeyPrefix+scope, &entry)
	if err != nil || !ok {
		return 0, false
	}
	remaining := time.Until(time.UnixMilli(entry.UntilMs))
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// setCooldown installs a shared cooldown for the scope. Errors are dropped:
// the caller is already on a failure path.
func setCooldown(ctx context.Context, shared cache.Cache, scope string, d time.Duration) {
	if shared == nil || d <= 0 {
		return
	}
	entry := cooldownEntry{UntilMs: time.Now().Add(d).UnixMilli()}
	_ = shared.SetJSON(ctx, cooldownKeyPrefix+scope, entry, d)
}
