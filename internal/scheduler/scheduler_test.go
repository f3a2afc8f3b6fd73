package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/ingest"
	"papp/ingestion/internal/models"
	"papp/ingestion/internal/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kickoff = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fakeEngine struct {
	mu         sync.Mutex
	collected  []queue.Job
	collectErr error
	result     ingest.Result
	reconciled int
	discovered int
}

func (e *fakeEngine) TriggerDiscovery(context.Context) (ingest.DiscoverySummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discovered++
	return ingest.DiscoverySummary{}, nil
}

func (e *fakeEngine) TriggerBackfill(context.Context) (ingest.BackfillSummary, error) {
	return ingest.BackfillSummary{}, nil
}

func (e *fakeEngine) TriggerReconciliation(context.Context) (ingest.ReconcileSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciled++
	return ingest.ReconcileSummary{}, nil
}

func (e *fakeEngine) CollectJob(_ context.Context, job queue.Job) (ingest.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collected = append(e.collected, job)
	return e.result, e.collectErr
}

type fakeQueue struct {
	acked   []queue.Job
	retried []queue.Job
	retryAt time.Time
}

func (q *fakeQueue) Claim(context.Context, time.Time, int) ([]queue.Job, error) { return nil, nil }
func (q *fakeQueue) RequeueExpired(context.Context, time.Time) (int, error) { return 0, nil }
func (q *fakeQueue) Stats(context.Context) (queue.Stats, error) { return queue.Stats{}, nil }

func (q *fakeQueue) Ack(_ context.Context, job queue.Job) error {
	q.acked = append(q.acked, job)
	return nil
}

func (q *fakeQueue) Retry(_ context.Context, job queue.Job, at time.Time) error {
	q.retried = append(q.retried, job)
	q.retryAt = at
	return nil
}

func testJob(offset time.Duration) queue.Job {
	m := &models.Match{ID: 1, ProviderID: "e1", LeagueKey: "soccer_epl", KickoffAt: kickoff}
	return queue.NewSnapshotJob(m, kickoff.Add(-offset), offset)
}

func newTestScheduler(t *testing.T, engine Engine, q JobQueue) *Scheduler {
	t.Helper()
	s, err := NewScheduler(Options{
		PollInterval: 10 * time.Millisecond,
		Workers:      2,
		MaxAttempts:  3,
		RetryDelay:   time.Minute,
	}, engine, q)
	require.NoError(t, err)
	s.now = func() time.Time { return kickoff.Add(-time.Hour) }
	t.Cleanup(s.Stop)
	return s
}

func TestHandleDispositions(t *testing.T) {
	providerErr := &errs.ProviderError{Op: "odds", StatusCode: 502, Err: fmt.Errorf("bad gateway")}

	tests := []struct {
		name    string
		result  ingest.Result
		err     error
		attempt int
		want    string
		acked   bool
	}{
		{name: "collected", result: ingest.Result{Outcome: ingest.OutcomeCollected}, want: dispositionCollected, acked: true},
		{name: "skipped", result: ingest.Result{Outcome: ingest.OutcomeSkipped, Reason: ingest.SkipDuplicate}, want: dispositionSkipped, acked: true},
		{name: "not found", err: errs.NotFound("match not found: id=1"), want: dispositionDropped, acked: true},
		{name: "provider error retried", err: providerErr, want: dispositionRetried},
		{name: "provider error exhausted", err: providerErr, attempt: 2, want: dispositionFailed, acked: true},
		{name: "storage error", err: fmt.Errorf("connection reset"), want: dispositionFailed, acked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{result: tt.result, collectErr: tt.err}
			q := &fakeQueue{}
			s := newTestScheduler(t, engine, q)

			job := testJob(time.Hour)
			job.Attempt = tt.attempt
			got := s.handle(context.Background(), job)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.acked, len(q.acked) == 1)
			if tt.want == dispositionRetried {
				require.Len(t, q.retried, 1)
				assert.Equal(t, kickoff.Add(-59*time.Minute), q.retryAt)
			}
		})
	}
}

func TestHandleDoesNotRetryAfterKickoff(t *testing.T) {
	engine := &fakeEngine{collectErr: &errs.ProviderError{Op: "odds", Timeout: true, Err: context.DeadlineExceeded}}
	q := &fakeQueue{}
	s := newTestScheduler(t, engine, q)
	s.now = func() time.Time { return kickoff.Add(time.Minute) }

	assert.Equal(t, dispositionFailed, s.handle(context.Background(), testJob(5*time.Minute)))
	assert.Empty(t, q.retried)
}

func TestHandleLeavesJobOnShutdown(t *testing.T) {
	engine := &fakeEngine{collectErr: context.Canceled}
	q := &fakeQueue{}
	s := newTestScheduler(t, engine, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, dispositionAbandoned, s.handle(ctx, testJob(time.Hour)))
	assert.Empty(t, q.acked)
	assert.Empty(t, q.retried)
}

func newRedisQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.NewRedisQueue(rdb, "test:snapshots", time.Minute)
}

func TestPollDispatchesDueJobs(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t)
	engine := &fakeEngine{result: ingest.Result{Outcome: ingest.OutcomeCollected}}
	s := newTestScheduler(t, engine, q)

	due := testJob(time.Hour)
	later := testJob(5 * time.Minute)
	require.NoError(t, q.ScheduleAt(ctx, due.RunAt, due))
	require.NoError(t, q.ScheduleAt(ctx, later.RunAt, later))

	n, err := s.poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s.inflight.Wait()

	require.Len(t, engine.collected, 1)
	assert.Equal(t, due.ID, engine.collected[0].ID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Due: 1, InFlight: 0}, stats)
}

func TestPollRetriesProviderFailure(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t)
	engine := &fakeEngine{collectErr: &errs.ProviderError{Op: "odds", StatusCode: 503, Err: fmt.Errorf("unavailable")}}
	s := newTestScheduler(t, engine, q)

	job := testJob(time.Hour)
	require.NoError(t, q.ScheduleAt(ctx, job.RunAt, job))

	_, err := s.poll(ctx)
	require.NoError(t, err)
	s.inflight.Wait()

	// due again one retry delay later, with the attempt recorded
	claimed, err := q.Claim(ctx, job.RunAt.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempt)
}

func TestStartReconcilesAndPolls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newRedisQueue(t)
	engine := &fakeEngine{result: ingest.Result{Outcome: ingest.OutcomeCollected}}
	s, err := NewScheduler(Options{
		DiscoveryCron:    "0 */2 * * *",
		BackfillCron:     "0 6,18 * * *",
		PollInterval:     10 * time.Millisecond,
		Workers:          1,
		MaxAttempts:      1,
		ReconcileOnStart: true,
	}, engine, q)
	require.NoError(t, err)

	job := testJob(time.Hour)
	require.NoError(t, q.ScheduleAt(ctx, time.Now().Add(-time.Second), job))

	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.collected) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()

	assert.Equal(t, 1, engine.reconciled)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}

func TestStartRejectsBadCron(t *testing.T) {
	s, err := NewScheduler(Options{DiscoveryCron: "whenever"}, &fakeEngine{}, &fakeQueue{})
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	assert.Error(t, s.Start(context.Background()))
}
