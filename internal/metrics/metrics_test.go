package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"precedent/internal/types"
)

func TestObserveSearch(t *testing.T) {
	before := testutil.ToFloat64(searchRequests.WithLabelValues("completed"))
	ObserveSearch("completed", 1200*time.Millisecond, 5)
	assert.Equal(t, before+1, testutil.ToFloat64(searchRequests.WithLabelValues("completed")))
}

func TestObserveSchedulerRun(t *testing.T) {
	primaryBefore := testutil.ToFloat64(schedulerAttempts.WithLabelValues("primary"))
	blockedBefore := testutil.ToFloat64(schedulerBlocked.WithLabelValues("cloudflare_challenge"))
	stopsBefore := testutil.ToFloat64(schedulerStops.WithLabelValues("blocked"))

	ObserveSchedulerRun(types.SchedulerTrace{
		Attempts: []types.Attempt{
			{Phase: types.PhasePrimary},
			{Phase: types.PhasePrimary},
			{Phase: types.PhaseFallback},
		},
		StopReason:  types.StopBlocked,
		BlockedKind: types.BlockedChallenge,
	})

	assert.Equal(t, primaryBefore+2, testutil.ToFloat64(schedulerAttempts.WithLabelValues("primary")))
	assert.Equal(t, stopsBefore+1, testutil.ToFloat64(schedulerStops.WithLabelValues("blocked")))
	assert.Equal(t, blockedBefore+1, testutil.ToFloat64(schedulerBlocked.WithLabelValues("cloudflare_challenge")))
}

func TestObserveSchedulerRun_NoBlockedKindOnCleanStop(t *testing.T) {
	before := testutil.ToFloat64(schedulerBlocked.WithLabelValues("rate_limit"))
	ObserveSchedulerRun(types.SchedulerTrace{StopReason: types.StopCompleted, BlockedKind: types.BlockedRateLimit})
	assert.Equal(t, before, testutil.ToFloat64(schedulerBlocked.WithLabelValues("rate_limit")),
		"blocked kinds only count on blocked stops")
}

func TestAddSaturationPrevented(t *testing.T) {
	before := testutil.ToFloat64(gateSaturationPrevented)
	AddSaturationPrevented(3)
	AddSaturationPrevented(0)
	AddSaturationPrevented(-2)
	assert.Equal(t, before+3, testutil.ToFloat64(gateSaturationPrevented))
}

func TestObserveReasoner(t *testing.T) {
	before := testutil.ToFloat64(reasonerPlans.WithLabelValues("cache_hit"))
	ObserveReasoner("cache_hit")
	assert.Equal(t, before+1, testutil.ToFloat64(reasonerPlans.WithLabelValues("cache_hit")))
}
