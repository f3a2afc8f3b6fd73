package ingest

import (
	"context"
	"testing"
	"time"

	"papp/ingestion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileSchedulesRemainingInstants(t *testing.T) {
	h := newHarness(t)
	h.seedMatch(t, "past", kickoffAt(12, 0))
	h.seedMatch(t, "soon", kickoffAt(18, 0))
	h.seedMatch(t, "later", kickoffAt(21, 0))
	h.at(17, 30)

	summary, err := h.svc.TriggerReconciliation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Matches: 2, JobsScheduled: 5}, summary)

	assert.Equal(t, []time.Time{
		kickoffAt(17, 40), kickoffAt(17, 55),
		kickoffAt(20, 0), kickoffAt(20, 40), kickoffAt(20, 55),
	}, h.jobs.instants())
	for _, at := range h.jobs.instants() {
		assert.True(t, at.After(h.clock))
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t)
	m := h.seedMatch(t, "e1", kickoffAt(18, 0))
	h.provider.setOdds("e1", oddsFor("e1", h2hMarket(2.10, 3.20, 3.40)))
	h.at(16, 0)

	first, err := h.svc.ReconcileSchedule(context.Background())
	require.NoError(t, err)
	second, err := h.svc.ReconcileSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first)
	assert.Equal(t, first, second)

	calls := h.jobs.calls
	require.Len(t, calls, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, calls[i].Job.ID, calls[i+3].Job.ID, "re-enqueued jobs keep their id")
	}

	// every delivery of the duplicated jobs lands on one snapshot per instant
	for _, c := range calls {
		h.clock = c.At
		_, err := h.svc.CollectJob(context.Background(), c.Job)
		require.NoError(t, err)
	}
	list, err := h.store.ListSnapshots(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestReconcileNothingToDo(t *testing.T) {
	h := newHarness(t)
	h.seedMatch(t, "e1", kickoffAt(9, 0))

	n, err := h.svc.ReconcileSchedule(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.jobs.calls)
}

func TestMaintenanceStatusAndPurge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	complete := h.seedMatch(t, "complete", kickoffAt(8, 0))
	for _, at := range []time.Time{kickoffAt(7, 0), kickoffAt(7, 40), kickoffAt(7, 55)} {
		require.NoError(t, h.store.CreateSnapshot(ctx, models.NewSnapshot(complete.ID, "pinnacle", models.H2HQuote{Home: 2, Draw: 3, Away: 4}, at)))
	}
	_, err := h.store.UpdateScores(ctx, complete.ID, 1, 0)
	require.NoError(t, err)
	h.seedMatch(t, "unscored", kickoffAt(7, 0))
	h.seedMatch(t, "recent", kickoffAt(9, 30))
	h.at(10, 0)

	overview, err := h.svc.StatusOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, overview.Total)
	assert.Equal(t, 1, overview.Complete)
	assert.Equal(t, 1, overview.Incomplete)
	assert.Equal(t, 1, overview.Unscored)

	_, err = h.svc.PurgeIncomplete(ctx, kickoffAt(9, 0))
	assert.ErrorIs(t, err, ErrPurgeTooRecent)

	deleted, err := h.svc.PurgeIncomplete(ctx, kickoffAt(8, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := h.store.FindByProviderID(ctx, "unscored")
	require.NoError(t, err)
	assert.Nil(t, left)
}
