package reasoner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"precedent/internal/cache"
	"precedent/internal/config"
	"precedent/internal/lexicon"
	"precedent/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const goodReply = "```json\n" +
	`{"proposition":{"hook_groups":[{"group_id":"sec_197_crpc","terms":["section 197 crpc","previous sanction"],"min_match":1,"required":true}]},` +
	`"query_variants_strict":["sanction prosecution public servant section 197 crpc"]}` + "\n```"

type fakeClient struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	reply string
	err   error
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	delay, reply, err := f.delay, f.reply, f.err
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) set(reply string, err error) {
	f.mu.Lock()
	f.reply, f.err = reply, err
	f.mu.Unlock()
}

func testCfg() config.ReasonerConfig {
	return config.ReasonerConfig{
		Mode:                 config.ReasonerModeInitial,
		ModelID:              "anthropic.claude-3-5-haiku-20241022-v1:0",
		Region:               "ap-south-1",
		BaseTimeout:          300 * time.Millisecond,
		MaxTimeout:           900 * time.Millisecond,
		MaxCallsPerRequest:   2,
		CacheTTL:             time.Hour,
		Pass2CacheTTL:        time.Minute,
		CircuitEnabled:       true,
		CircuitFailThreshold: 3,
		CircuitCooldown:      time.Minute,
		MaxInflight:          2,
		GlobalRateLimit:      100,
		GlobalRateWindow:     time.Minute,
		LockWait:             time.Second,
		RetryOnTimeout:       true,
		RetryTimeoutBonus:    200 * time.Millisecond,
	}
}

func testRequest(t *testing.T, raw string) Request {
	t.Helper()
	profile := testProfile(t, raw)
	return Request{
		Pass:        Pass1,
		Profile:     profile,
		Lexicon:     lexicon.Default(),
		Fingerprint: Fingerprint(profile),
		Prompt:      BuildPass1Prompt(profile),
		CallsUsed:   &atomic.Int32{},
	}
}

const sanctionQuery = "sanction for prosecution of public servant under section 197 crpc"

func TestRun_SuccessThenCacheHit(t *testing.T) {
	fake := &fakeClient{reply: goodReply}
	o := NewOrchestrator(testCfg(), cache.NewMemory(), fake, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	require.NotNil(t, plan)
	assert.Equal(t, types.ReasonerModeOpus, tel.Mode)
	assert.False(t, tel.CacheHit)
	assert.False(t, tel.Degraded)
	assert.Empty(t, tel.SkipReason)
	require.Len(t, plan.Proposition.HookGroups, 1)
	assert.Equal(t, "sec_197_crpc", plan.Proposition.HookGroups[0].GroupID)

	plan2, tel2 := o.Run(context.Background(), testRequest(t, sanctionQuery))
	require.NotNil(t, plan2)
	assert.True(t, tel2.CacheHit)
	assert.Equal(t, 1, fake.callCount())
}

func TestRun_ModeOff(t *testing.T) {
	cfg := testCfg()
	cfg.Mode = config.ReasonerModeOff
	fake := &fakeClient{reply: goodReply}
	o := NewOrchestrator(cfg, cache.NewMemory(), fake, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	assert.Nil(t, plan)
	assert.Equal(t, SkipModeOff, tel.SkipReason)
	assert.False(t, tel.Degraded)
	assert.Zero(t, fake.callCount())
}

func TestRun_DeterministicModeServesCacheOnly(t *testing.T) {
	cfg := testCfg()
	mem := cache.NewMemory()

	// Prime the cache through a normal run.
	fake := &fakeClient{reply: goodReply}
	NewOrchestrator(cfg, mem, fake, zaptest.NewLogger(t)).
		Run(context.Background(), testRequest(t, sanctionQuery))
	require.Equal(t, 1, fake.callCount())

	cfg.Mode = config.ReasonerModeDeterministic
	o := NewOrchestrator(cfg, mem, nil, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	require.NotNil(t, plan, "cached plan stays reachable")
	assert.True(t, tel.CacheHit)

	plan, tel = o.Run(context.Background(), testRequest(t, "quashing of fir under section 482 crpc"))
	assert.Nil(t, plan)
	assert.Equal(t, SkipModeDeterministic, tel.SkipReason)
	assert.False(t, tel.Degraded)
}

func TestRun_CallBudgetExhausted(t *testing.T) {
	fake := &fakeClient{reply: goodReply}
	o := NewOrchestrator(testCfg(), cache.NewMemory(), fake, zaptest.NewLogger(t))

	req := testRequest(t, sanctionQuery)
	req.CallsUsed.Store(int32(testCfg().MaxCallsPerRequest))

	plan, tel := o.Run(context.Background(), req)
	assert.Nil(t, plan)
	assert.Equal(t, SkipCallBudget, tel.SkipReason)
	assert.True(t, tel.Degraded)
	assert.Zero(t, fake.callCount())
}

func TestRun_Pass2NeedsBasePlan(t *testing.T) {
	fake := &fakeClient{reply: goodReply}
	o := NewOrchestrator(testCfg(), cache.NewMemory(), fake, zaptest.NewLogger(t))

	req := testRequest(t, sanctionQuery)
	req.Pass = Pass2
	req.Seed = "cold"

	plan, tel := o.Run(context.Background(), req)
	assert.Nil(t, plan)
	assert.Equal(t, SkipMissingBasePlan, tel.SkipReason)
	assert.Zero(t, fake.callCount())
}

func TestRun_ConfigError(t *testing.T) {
	o := NewOrchestrator(testCfg(), cache.NewMemory(), nil, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	assert.Nil(t, plan)
	assert.Equal(t, SkipConfigError, tel.SkipReason)
	assert.True(t, tel.Degraded)
}

func TestRun_CircuitOpensAndForcedProbeResets(t *testing.T) {
	cfg := testCfg()
	mem := cache.NewMemory()
	fake := &fakeClient{err: errors.New("model unavailable")}
	o := NewOrchestrator(cfg, mem, fake, zaptest.NewLogger(t))

	// Distinct queries so every run misses the cache.
	queries := []string{
		"sanction for prosecution under section 197 crpc",
		"anticipatory bail under section 438 crpc",
		"quashing of fir under section 482 crpc",
	}
	for _, q := range queries {
		plan, tel := o.Run(context.Background(), testRequest(t, q))
		assert.Nil(t, plan)
		assert.NotEmpty(t, tel.Error)
	}
	require.Equal(t, 3, fake.callCount())

	// Threshold reached: the next call never touches the model.
	plan, tel := o.Run(context.Background(), testRequest(t, "dowry death conviction under section 304b ipc"))
	assert.Nil(t, plan)
	assert.Equal(t, SkipCircuitOpen, tel.SkipReason)
	assert.Equal(t, 3, fake.callCount())

	// A forced pass-1 probe goes through; success closes the circuit.
	fake.set(goodReply, nil)
	req := testRequest(t, "dowry death conviction under section 304b ipc")
	req.Force = true
	plan, tel = o.Run(context.Background(), req)
	require.NotNil(t, plan)
	assert.Empty(t, tel.SkipReason)
	assert.Equal(t, 4, fake.callCount())

	var st circuitState
	ok, err := mem.GetJSON(context.Background(), circuitKey, &st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, st.Failures)
	assert.Zero(t, st.OpenUntil)

	plan, tel = o.Run(context.Background(), testRequest(t, "cheque dishonour under section 138 ni act"))
	require.NotNil(t, plan)
	assert.Empty(t, tel.SkipReason)
}

func TestRun_RateLimited(t *testing.T) {
	cfg := testCfg()
	cfg.GlobalRateLimit = 1
	fake := &fakeClient{reply: goodReply}
	o := NewOrchestrator(cfg, cache.NewMemory(), fake, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	require.NotNil(t, plan)
	require.Empty(t, tel.SkipReason)

	plan, tel = o.Run(context.Background(), testRequest(t, "quashing of fir under section 482 crpc"))
	assert.Nil(t, plan)
	assert.Equal(t, SkipRateLimited, tel.SkipReason)
	assert.Equal(t, 1, fake.callCount())
}

func TestRun_ConcurrentSameFingerprintSingleInvocation(t *testing.T) {
	fake := &fakeClient{reply: goodReply, delay: 200 * time.Millisecond}
	o := NewOrchestrator(testCfg(), cache.NewMemory(), fake, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	type outcome struct {
		plan *Plan
		tel  types.ReasonerTelemetry
	}
	results := make([]outcome, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i > 0 {
				time.Sleep(30 * time.Millisecond)
			}
			plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
			results[i] = outcome{plan, tel}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, fake.callCount(), "one model call across concurrent identical requests")
	hits := 0
	for _, r := range results {
		require.NotNil(t, r.plan)
		if r.tel.CacheHit {
			hits++
		}
	}
	assert.Equal(t, 1, hits)
}

func TestRun_SemaphoreSaturated(t *testing.T) {
	cfg := testCfg()
	cfg.MaxInflight = 1
	fake := &fakeClient{reply: goodReply, delay: 250 * time.Millisecond}
	o := NewOrchestrator(cfg, cache.NewMemory(), fake, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		plan, _ := o.Run(context.Background(), testRequest(t, sanctionQuery))
		assert.NotNil(t, plan)
	}()

	time.Sleep(60 * time.Millisecond)
	plan, tel := o.Run(context.Background(), testRequest(t, "quashing of fir under section 482 crpc"))
	assert.Nil(t, plan)
	assert.Equal(t, SkipSemaphore, tel.SkipReason)

	wg.Wait()
}

func TestRun_TimeoutRetryExhausted(t *testing.T) {
	cfg := testCfg()
	cfg.BaseTimeout = 60 * time.Millisecond
	cfg.MaxTimeout = 400 * time.Millisecond
	cfg.RetryTimeoutBonus = 100 * time.Millisecond
	fake := &fakeClient{reply: goodReply, delay: 5 * time.Second}
	o := NewOrchestrator(cfg, cache.NewMemory(), fake, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	assert.Nil(t, plan)
	assert.True(t, tel.Timeout)
	assert.NotEmpty(t, tel.Error)
	assert.Equal(t, 2, fake.callCount(), "one retry with the timeout bonus")
	assert.Equal(t, int64(160), tel.TimeoutMsUsed)
	assert.True(t, tel.Degraded)
}

func TestRun_UnparseableReplySkips(t *testing.T) {
	mem := cache.NewMemory()
	fake := &fakeClient{reply: "I am unable to provide a plan."}
	o := NewOrchestrator(testCfg(), mem, fake, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	assert.Nil(t, plan)
	assert.Equal(t, SkipPlanNotUsable, tel.SkipReason)
	assert.NotEmpty(t, tel.Error)

	var st circuitState
	ok, err := mem.GetJSON(context.Background(), circuitKey, &st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, st.Failures)
}

func TestRun_HollowPlanSkips(t *testing.T) {
	fake := &fakeClient{reply: `{"proposition":{}}`}
	o := NewOrchestrator(testCfg(), cache.NewMemory(), fake, zaptest.NewLogger(t))

	plan, tel := o.Run(context.Background(), testRequest(t, sanctionQuery))
	assert.Nil(t, plan)
	assert.Equal(t, SkipPlanNotUsable, tel.SkipReason)
}

func TestAdaptiveTimeout(t *testing.T) {
	cfg := testCfg()
	cfg.MaxTimeout = 2 * time.Second
	o := NewOrchestrator(cfg, cache.NewMemory(), &fakeClient{}, zaptest.NewLogger(t))

	simple := testRequest(t, "condonation of delay refused")
	assert.Equal(t, cfg.BaseTimeout, o.adaptiveTimeout(simple))

	// Two statute families, interplay wording, length, and the refinement
	// pass push the score into the top tier.
	complexQuery := "interplay of section 5 limitation act read with section 34 arbitration act " +
		"where the objection petition was filed beyond the prescribed period and the court " +
		"considered whether condonation of delay applies to award challenges at all"
	complex := testRequest(t, complexQuery)
	complex.Pass = Pass2
	assert.Equal(t, cfg.BaseTimeout+800*time.Millisecond, o.adaptiveTimeout(complex))

	// Cap wins when the bump would exceed it.
	capped := testCfg()
	capped.BaseTimeout = 700 * time.Millisecond
	capped.MaxTimeout = 900 * time.Millisecond
	o = NewOrchestrator(capped, cache.NewMemory(), &fakeClient{}, zaptest.NewLogger(t))
	assert.Equal(t, capped.MaxTimeout, o.adaptiveTimeout(complex))
}
