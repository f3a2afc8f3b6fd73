package queue

import (
	"context"
	"testing"
	"time"

	"papp/ingestion/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kickoff = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisQueue(rdb, "test:snapshots", time.Minute), mr
}

func testMatch() *models.Match {
	return &models.Match{ID: 7, ProviderID: "e7", LeagueKey: "soccer_epl", KickoffAt: kickoff}
}

func TestJobIDIsDeterministic(t *testing.T) {
	a := NewSnapshotJob(testMatch(), kickoff.Add(-time.Hour), time.Hour)
	b := NewSnapshotJob(testMatch(), kickoff.Add(-time.Hour), time.Hour)
	c := NewSnapshotJob(testMatch(), kickoff.Add(-20*time.Minute), 20*time.Minute)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, 60, a.OffsetMinutes)
}

func TestClaimReturnsOnlyDueJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	m := testMatch()

	for _, offset := range []time.Duration{60 * time.Minute, 20 * time.Minute, 5 * time.Minute} {
		at := kickoff.Add(-offset)
		require.NoError(t, q.ScheduleAt(ctx, at, NewSnapshotJob(m, at, offset)))
	}

	jobs, err := q.Claim(ctx, kickoff.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 60, jobs[0].OffsetMinutes)
	assert.Equal(t, int64(7), jobs[0].MatchID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Due: 2, InFlight: 1}, stats)

	again, err := q.Claim(ctx, kickoff.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, again, "a claimed job is not handed out twice")
}

func TestScheduleSameJobTwiceCollapses(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	at := kickoff.Add(-time.Hour)
	job := NewSnapshotJob(testMatch(), at, time.Hour)

	require.NoError(t, q.ScheduleAt(ctx, at, job))
	require.NoError(t, q.ScheduleAt(ctx, at, job))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Due)
}

func TestPastInstantRunsImmediately(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := kickoff.Add(-10 * time.Minute)
	past := now.Add(-time.Minute)

	require.NoError(t, q.ScheduleAt(ctx, past, NewSnapshotJob(testMatch(), past, 11*time.Minute)))

	jobs, err := q.Claim(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestAckRemovesJob(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	at := kickoff.Add(-5 * time.Minute)
	require.NoError(t, q.ScheduleAt(ctx, at, NewSnapshotJob(testMatch(), at, 5*time.Minute)))

	jobs, err := q.Claim(ctx, at, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, q.Ack(ctx, jobs[0]))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.False(t, mr.Exists("test:snapshots:payload"), "payload is dropped on ack")
}

func TestExpiredInFlightIsRedelivered(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	at := kickoff.Add(-5 * time.Minute)
	require.NoError(t, q.ScheduleAt(ctx, at, NewSnapshotJob(testMatch(), at, 5*time.Minute)))

	first, err := q.Claim(ctx, at, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// worker died without acking; the visibility timeout is one minute
	n, err := q.RequeueExpired(ctx, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.RequeueExpired(ctx, at.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second, err := q.Claim(ctx, at.Add(2*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestRetryIncrementsAttempt(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	at := kickoff.Add(-20 * time.Minute)
	require.NoError(t, q.ScheduleAt(ctx, at, NewSnapshotJob(testMatch(), at, 20*time.Minute)))

	jobs, err := q.Claim(ctx, at, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, q.Retry(ctx, jobs[0], at.Add(time.Minute)))

	none, err := q.Claim(ctx, at.Add(30*time.Second), 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	retried, err := q.Claim(ctx, at.Add(time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].Attempt)
}

func TestPing(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.NoError(t, q.Ping(context.Background()))
}
