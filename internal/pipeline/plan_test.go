package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precedent/internal/types"
)

func TestPlan_ReturnsVariantSchedule(t *testing.T) {
	e := newTestEngine(t, testConfig(), &stubProvider{}, nil, nil)

	pr, err := e.Plan(context.Background(), delayQuery)
	require.NoError(t, err)

	assert.Equal(t, delayQuery, pr.Query)
	require.NotEmpty(t, pr.Variants)
	assert.Equal(t, types.PhasePrimary, pr.Variants[0].Phase, "schedule starts with the primary phase")
	assert.NotEmpty(t, pr.Checklist.Axes)
	assert.Equal(t, testConfig().Pipeline.GlobalBudget, pr.GlobalBudget)
	assert.False(t, pr.Extended)

	require.NotEmpty(t, pr.Reasoner, "telemetry recorded even when the model is absent")
	assert.NotEmpty(t, pr.Reasoner[0].SkipReason)
}

func TestPlan_RejectsShortQuery(t *testing.T) {
	e := newTestEngine(t, testConfig(), &stubProvider{}, nil, nil)

	_, err := e.Plan(context.Background(), "delay")
	assert.ErrorIs(t, err, ErrQueryTooShort)
}

func TestFinalize_GatesExternalCandidates(t *testing.T) {
	e := newTestEngine(t, testConfig(), &stubProvider{}, nil, nil)

	resp, err := e.Finalize(context.Background(), delayQuery, delayCases(), Options{})
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, resp.Status)
	assert.NotEmpty(t, resp.CasesExactProvisional)
	assert.Empty(t, resp.PipelineTrace.SchedulerRuns, "finalize never retrieves")
	assert.Equal(t, types.GuaranteeLive, resp.Guarantee.Source)
	assert.NotNil(t, resp.PipelineTrace.Gate)
}

func TestFinalize_EmptyCandidatesFallThrough(t *testing.T) {
	e := newTestEngine(t, testConfig(), &stubProvider{}, nil, nil)

	resp, err := e.Finalize(context.Background(), delayQuery, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, types.StatusNoMatch, resp.Status)
	require.Len(t, resp.CasesExploratory, 1)
	assert.Equal(t, "synthetic_advisory", resp.CasesExploratory[0].FallbackReason)
	assert.Equal(t, types.GuaranteeSynthetic, resp.Guarantee.Source)
}

func TestFinalize_ReusesPlanFromCache(t *testing.T) {
	model := &fakeModel{reply: planReply}
	e := newTestEngine(t, testConfig(), &stubProvider{}, model, nil)

	_, err := e.Plan(context.Background(), delayQuery)
	require.NoError(t, err)
	require.Equal(t, 1, model.callCount())

	resp, err := e.Finalize(context.Background(), delayQuery, delayCases(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, model.callCount(), "finalize resolves the plan from cache")
	require.NotEmpty(t, resp.PipelineTrace.Reasoner)
	assert.True(t, resp.PipelineTrace.Reasoner[0].CacheHit)
}
