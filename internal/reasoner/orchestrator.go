package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"precedent/internal/cache"
	"precedent/internal/config"
	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// Pass names used in cache keys and telemetry.
const (
	Pass1 = "pass1"
	Pass2 = "pass2"
)

// Skip reasons reported when a pass never produced a model plan. Callers
// continue deterministically; none of these is an error.
const (
	SkipModeOff           = "mode_off"
	SkipModeDeterministic = "mode_deterministic"
	SkipCallBudget        = "call_budget_exhausted"
	SkipConfigError       = "config_error"
	SkipMissingBasePlan   = "pass2_missing_base_plan"
	SkipCircuitOpen       = "circuit_open"
	SkipRateLimited       = "rate_limited"
	SkipLockTimeout       = "lock_timeout"
	SkipSemaphore         = "semaphore_saturated"
	SkipPlanNotUsable     = "plan_not_usable"
)

const (
	circuitKey    = "reasoner:circuit:v1"
	circuitTTL    = time.Hour
	lockPollEvery = 120 * time.Millisecond
	lockTTLPad    = 2 * time.Second
)

// Request is one reasoner invocation. The lexicon is the caller's snapshot
// so a mid-request overlay reload cannot change validation behaviour.
type Request struct {
	Pass        string
	Profile     *intent.Profile
	Lexicon     *lexicon.Lexicon
	Fingerprint string

	// Seed distinguishes pass-2 cache entries by observed first-round
	// outcome. Ignored for pass-1.
	Seed string

	Prompt   string
	BasePlan *Plan // pass-2 refines this

	// Force lets a pass-1 attempt probe through an open circuit.
	Force bool

	// CallsUsed counts model invocations across both passes of one request.
	CallsUsed *atomic.Int32
}

// circuitState is the shared breaker record. Updates are advisory
// read-modify-write: a lost write at worst delays opening or closing by one
// observation.
type circuitState struct {
	Failures  int   `json:"failures"`
	OpenUntil int64 `json:"openUntil"` // unix ms
}

// Orchestrator gates every model call behind pass preconditions, a
// per-request call budget, the shared plan cache, a circuit breaker, a
// global rate bucket, a per-fingerprint distributed lock, and a local
// in-flight semaphore, in that order. Whatever stops the call is reported
// as telemetry and the caller plans deterministically.
type Orchestrator struct {
	cfg    config.ReasonerConfig
	cache  cache.Cache
	client ModelClient
	log    *zap.Logger
	sem    *semaphore.Weighted

	cacheLogOnce sync.Once
}

// NewOrchestrator wires the orchestrator. client may be nil when the mode
// never invokes the model.
func NewOrchestrator(cfg config.ReasonerConfig, c cache.Cache, client ModelClient, log *zap.Logger) *Orchestrator {
	inflight := cfg.MaxInflight
	if inflight < 1 {
		inflight = 1
	}
	return &Orchestrator{
		cfg:    cfg,
		cache:  c,
		client: client,
		log:    log,
		sem:    semaphore.NewWeighted(inflight),
	}
}

// Run executes one gated reasoner pass. The returned plan is nil whenever
// any gate failed or the model output was unusable; telemetry always
// explains which.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Plan, types.ReasonerTelemetry) {
	tel := types.ReasonerTelemetry{
		Mode:        types.ReasonerModeDeterministic,
		Pass:        req.Pass,
		Fingerprint: req.Fingerprint,
	}

	if req.Pass == Pass2 && req.BasePlan == nil {
		return o.skip(tel, SkipMissingBasePlan)
	}
	if o.cfg.Mode == config.ReasonerModeOff {
		return o.skip(tel, SkipModeOff)
	}
	if req.CallsUsed != nil && int(req.CallsUsed.Load()) >= o.cfg.MaxCallsPerRequest {
		return o.skip(tel, SkipCallBudget)
	}
	if o.cfg.Mode == config.ReasonerModeInitial && (o.client == nil || o.cfg.ModelID == "") {
		return o.skip(tel, SkipConfigError)
	}

	key := cacheKey(req.Pass, req.Fingerprint, req.Seed)
	if plan, ok := o.cachedPlan(ctx, key); ok {
		tel.Mode = types.ReasonerModeOpus
		tel.CacheHit = true
		return plan, tel
	}

	// Deterministic mode stops here: cache stays live, the model does not.
	if o.cfg.Mode == config.ReasonerModeDeterministic {
		return o.skip(tel, SkipModeDeterministic)
	}

	now := time.Now()
	if o.cfg.CircuitEnabled && !(req.Force && req.Pass == Pass1) {
		if until := o.circuitOpenUntil(ctx); until > now.UnixMilli() {
			return o.skip(tel, SkipCircuitOpen)
		}
	}

	if o.cfg.GlobalRateLimit > 0 {
		bucket := now.Unix() / int64(o.cfg.GlobalRateWindow/time.Second)
		n, err := o.cache.Increment(ctx, fmt.Sprintf("reasoner:rate:%d", bucket), o.cfg.GlobalRateWindow)
		if err != nil {
			o.cacheFailed("rate bucket", err)
		} else if n > int64(o.cfg.GlobalRateLimit) {
			return o.skip(tel, SkipRateLimited)
		}
	}

	timeout := o.adaptiveTimeout(req)
	tel.TimeoutMsUsed = timeout.Milliseconds()
	tel.AdaptiveTimeoutApplied = timeout > o.cfg.BaseTimeout

	lockKey := fmt.Sprintf("lock:reasoner:%s:%s", req.Pass, req.Fingerprint)
	owner := uuid.NewString()
	locked, err := o.cache.AcquireLock(ctx, lockKey, owner, timeout+lockTTLPad)
	if err != nil {
		o.cacheFailed("acquire lock", err)
		locked = false
	} else if !locked {
		// Another holder is already working this fingerprint. Its freshly
		// cached plan beats a second model call, so wait for that instead.
		if plan, ok := o.pollForPlan(ctx, key); ok {
			tel.Mode = types.ReasonerModeOpus
			tel.CacheHit = true
			return plan, tel
		}
		return o.skip(tel, SkipLockTimeout)
	}
	if locked {
		defer func() {
			if err := o.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, owner); err != nil {
				o.cacheFailed("release lock", err)
			}
		}()
	}

	if !o.sem.TryAcquire(1) {
		return o.skip(tel, SkipSemaphore)
	}
	defer o.sem.Release(1)

	if req.CallsUsed != nil {
		req.CallsUsed.Add(1)
	}
	raw, err := o.complete(ctx, req.Prompt, timeout, &tel)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && req.Pass == Pass1 && o.cfg.RetryOnTimeout {
		retry := timeout + o.cfg.RetryTimeoutBonus
		if retry <= o.cfg.MaxTimeout {
			tel.TimeoutMsUsed = retry.Milliseconds()
			raw, err = o.complete(ctx, req.Prompt, retry, &tel)
		}
	}
	if err != nil {
		tel.Timeout = errors.Is(err, context.DeadlineExceeded)
		tel.Error = err.Error()
		o.recordFailure(ctx)
		tel.Degraded = true
		return nil, tel
	}

	plan, warnings, err := ParsePlan(raw)
	if err != nil {
		tel.Error = err.Error()
		o.recordFailure(ctx)
		return o.skip(tel, SkipPlanNotUsable)
	}
	tel.Warnings = append(warnings, Validate(req.Lexicon, req.Profile, plan)...)
	if !plan.Usable(req.Profile) {
		o.recordFailure(ctx)
		return o.skip(tel, SkipPlanNotUsable)
	}

	ttl := o.cfg.CacheTTL
	if req.Pass == Pass2 {
		ttl = o.cfg.Pass2CacheTTL
	}
	bctx := context.WithoutCancel(ctx)
	if err := o.cache.SetJSON(bctx, key, plan, ttl); err != nil {
		o.cacheFailed("store plan", err)
	}
	o.resetCircuit(bctx)

	tel.Mode = types.ReasonerModeOpus
	return plan, tel
}

func (o *Orchestrator) skip(tel types.ReasonerTelemetry, reason string) (*Plan, types.ReasonerTelemetry) {
	tel.SkipReason = reason
	tel.Degraded = o.cfg.Mode == config.ReasonerModeInitial
	return nil, tel
}

func cacheKey(pass, fingerprint, seed string) string {
	if pass == Pass2 {
		return fmt.Sprintf("reasoner:v2:pass2:%s:%s", fingerprint, seed)
	}
	return fmt.Sprintf("reasoner:v2:pass1:%s", fingerprint)
}

func (o *Orchestrator) cachedPlan(ctx context.Context, key string) (*Plan, bool) {
	var plan Plan
	ok, err := o.cache.GetJSON(ctx, key, &plan)
	if err != nil {
		o.cacheFailed("plan lookup", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &plan, true
}

// pollForPlan waits out a busy lock by watching the cache for the holder's
// result, up to the configured lock wait.
func (o *Orchestrator) pollForPlan(ctx context.Context, key string) (*Plan, bool) {
	deadline := time.Now().Add(o.cfg.LockWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(lockPollEvery):
		}
		if plan, ok := o.cachedPlan(ctx, key); ok {
			return plan, true
		}
	}
	return nil, false
}

// adaptiveTimeout sizes the model call by query complexity: two or more
// statute families, interplay wording, two or more procedures, a long
// query, and the refinement pass each add to the score. One or two signals
// add 400ms, three or more add 800ms, capped by MaxTimeout.
func (o *Orchestrator) adaptiveTimeout(req Request) time.Duration {
	score := 0
	if p := req.Profile; p != nil {
		if len(p.StatuteFamilies) >= 2 {
			score++
		}
		if strings.Contains(p.Cleaned, "read with") || strings.Contains(p.Cleaned, "interplay") {
			score++
		}
		if len(p.Procedures) >= 2 {
			score++
		}
		if len(p.Cleaned) > 180 {
			score++
		}
	}
	if req.Pass == Pass2 {
		score++
	}

	t := o.cfg.BaseTimeout
	switch {
	case score >= 3:
		t += 800 * time.Millisecond
	case score >= 1:
		t += 400 * time.Millisecond
	}
	if t > o.cfg.MaxTimeout {
		t = o.cfg.MaxTimeout
	}
	return t
}

func (o *Orchestrator) complete(ctx context.Context, prompt string, timeout time.Duration, tel *types.ReasonerTelemetry) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	raw, err := o.client.Complete(cctx, prompt)
	tel.LatencyMs += time.Since(start).Milliseconds()
	return raw, err
}

func (o *Orchestrator) circuitOpenUntil(ctx context.Context) int64 {
	var st circuitState
	if _, err := o.cache.GetJSON(ctx, circuitKey, &st); err != nil {
		o.cacheFailed("circuit lookup", err)
		return 0
	}
	return st.OpenUntil
}

func (o *Orchestrator) recordFailure(ctx context.Context) {
	if !o.cfg.CircuitEnabled {
		return
	}
	bctx := context.WithoutCancel(ctx)
	var st circuitState
	if _, err := o.cache.GetJSON(bctx, circuitKey, &st); err != nil {
		o.cacheFailed("circuit lookup", err)
		return
	}
	st.Failures++
	if st.Failures >= o.cfg.CircuitFailThreshold {
		st.OpenUntil = time.Now().Add(o.cfg.CircuitCooldown).UnixMilli()
		o.log.Warn("reasoner circuit opened",
			zap.Int("failures", st.Failures),
			zap.Duration("cooldown", o.cfg.CircuitCooldown))
	}
	if err := o.cache.SetJSON(bctx, circuitKey, st, circuitTTL); err != nil {
		o.cacheFailed("circuit store", err)
	}
}

func (o *Orchestrator) resetCircuit(ctx context.Context) {
	if !o.cfg.CircuitEnabled {
		return
	}
	if err := o.cache.SetJSON(ctx, circuitKey, circuitState{}, circuitTTL); err != nil {
		o.cacheFailed("circuit reset", err)
	}
}

// cacheFailed logs the first shared-cache failure and stays quiet after:
// a flapping backend would otherwise drown the log while every caller is
// already degrading to deterministic planning.
func (o *Orchestrator) cacheFailed(op string, err error) {
	o.cacheLogOnce.Do(func() {
		o.log.Warn("reasoner cache degraded", zap.String("op", op), zap.Error(err))
	})
}
