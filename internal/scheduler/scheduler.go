package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"papp/ingestion/internal/config"
	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/ingest"
	"papp/ingestion/internal/metrics"
	"papp/ingestion/internal/queue"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Engine runs the sweeps and snapshot jobs
type Engine interface {
	TriggerDiscovery(ctx context.Context) (ingest.DiscoverySummary, error)
	TriggerBackfill(ctx context.Context) (ingest.BackfillSummary, error)
	TriggerReconciliation(ctx context.Context) (ingest.ReconcileSummary, error)
	CollectJob(ctx context.Context, job queue.Job) (ingest.Result, error)
}

// JobQueue is the durable delayed job queue consumed by the worker pool
type JobQueue interface {
	Claim(ctx context.Context, now time.Time, limit int) ([]queue.Job, error)
	Ack(ctx context.Context, job queue.Job) error
	Retry(ctx context.Context, job queue.Job, at time.Time) error
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Options tune the scheduler
type Options struct {
	DiscoveryCron    string
	BackfillCron     string
	PollInterval     time.Duration
	Workers          int
	MaxAttempts      int
	RetryDelay       time.Duration
	ReconcileOnStart bool
}

// OptionsFromConfig derives scheduler options from the process configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DiscoveryCron:    cfg.DiscoveryCron,
		BackfillCron:     cfg.BackfillCron,
		PollInterval:     cfg.QueuePollInterval,
		Workers:          cfg.WorkerConcurrency,
		MaxAttempts:      cfg.QueueMaxAttempts,
		RetryDelay:       cfg.QueueRetryDelay,
		ReconcileOnStart: cfg.ReconcileOnStart,
	}
}

// Scheduler drives the periodic sweeps on cron schedules and feeds due
// snapshot jobs from the queue to a bounded worker pool
type Scheduler struct {
	opts     Options
	engine   Engine
	queue    JobQueue
	cron     *cron.Cron
	pool     *ants.Pool
	stopChan chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
	inflight sync.WaitGroup
	now      func() time.Time
}

// NewScheduler creates a new scheduler instance
func NewScheduler(opts Options, engine Engine, q JobQueue) (*Scheduler, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	pool, err := ants.NewPool(opts.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			metrics.RecordError("worker", "panic")
			log.Error().Interface("panic", p).Msg("Snapshot job panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	l := cronLogger{}
	return &Scheduler{
		opts:   opts,
		engine: engine,
		queue:  q,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		pool:     pool,
		stopChan: make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start registers the sweeps, rebuilds the schedule if configured and starts
// polling the queue
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("Scheduler starting...")

	sweeps := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{name: "discovery", schedule: s.opts.DiscoveryCron, run: func(ctx context.Context) error {
			_, err := s.engine.TriggerDiscovery(ctx)
			return err
		}},
		{name: "backfill", schedule: s.opts.BackfillCron, run: func(ctx context.Context) error {
			_, err := s.engine.TriggerBackfill(ctx)
			return err
		}},
	}
	for _, sw := range sweeps {
		if sw.schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(sw.schedule, func() { s.runSweep(ctx, sw.name, sw.run) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", sw.name, err)
		}
		log.Info().Str("sweep", sw.name).Str("schedule", sw.schedule).Msg("Sweep scheduled")
	}

	if s.opts.ReconcileOnStart {
		s.runSweep(ctx, "reconciliation", func(ctx context.Context) error {
			_, err := s.engine.TriggerReconciliation(ctx)
			return err
		})
	}

	s.cron.Start()

	s.loop.Add(1)
	go s.pollLoop(ctx)

	log.Info().
		Int("workers", s.opts.Workers).
		Dur("poll_interval", s.opts.PollInterval).
		Msg("Snapshot workers started")

	return nil
}

// Stop stops the cron, waits for running sweeps and jobs, then releases the pool
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Info().Msg("Stopping scheduler...")

		close(s.stopChan)
		<-s.cron.Stop().Done()
		s.loop.Wait()
		s.inflight.Wait()
		s.pool.Release()

		log.Info().Msg("Scheduler stopped")
	})
}

func (s *Scheduler) runSweep(ctx context.Context, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		metrics.RecordError("scheduler", name)
		log.Error().Err(err).Str("sweep", name).Msg("Sweep failed")
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.loop.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Context cancelled, stopping queue polling")
			return
		case <-s.stopChan:
			log.Info().Msg("Stop signal received, stopping queue polling")
			return
		case <-ticker.C:
			if _, err := s.poll(ctx); err != nil && ctx.Err() == nil {
				metrics.RecordError("scheduler", "poll")
				log.Error().Err(err).Msg("Failed to poll snapshot queue")
			}
		}
	}
}

// poll moves expired in-flight jobs back to due, then hands as many due jobs
// to the pool as it has free workers. It returns how many were dispatched.
func (s *Scheduler) poll(ctx context.Context) (int, error) {
	metrics.RecordWorkerIteration()
	now := s.now()

	if _, err := s.queue.RequeueExpired(ctx, now); err != nil {
		return 0, err
	}

	dispatched := 0
	if free := s.pool.Free(); free > 0 {
		jobs, err := s.queue.Claim(ctx, now, free)
		if err != nil {
			return 0, err
		}
		for _, job := range jobs {
			job := job
			s.inflight.Add(1)
			if err := s.pool.Submit(func() {
				defer s.inflight.Done()
				s.handle(ctx, job)
			}); err != nil {
				// left in flight; the visibility timeout returns it to due
				s.inflight.Done()
				log.Warn().Err(err).Str("job_id", job.ID).Msg("Worker pool rejected job")
				continue
			}
			dispatched++
		}
	}

	if stats, err := s.queue.Stats(ctx); err == nil {
		metrics.UpdateQueueDepth(stats.Due, stats.InFlight)
	}

	return dispatched, nil
}

// Job dispositions
const (
	dispositionCollected = "collected"
	dispositionSkipped   = "skipped"
	dispositionDropped   = "dropped"
	dispositionRetried   = "retried"
	dispositionFailed    = "failed"
	dispositionAbandoned = "abandoned"
)

// handle runs one job and settles it with the queue. Not found ends the job;
// provider failures are retried while attempts remain and kickoff has not
// passed; everything else is acknowledged so it is not redelivered.
func (s *Scheduler) handle(ctx context.Context, job queue.Job) string {
	logger := log.With().
		Str("job_id", job.ID).
		Int64("match_id", job.MatchID).
		Int("offset_minutes", job.OffsetMinutes).
		Int("attempt", job.Attempt).
		Logger()

	res, err := s.engine.CollectJob(ctx, job)
	if ctx.Err() != nil {
		logger.Warn().Msg("Shutdown interrupted snapshot job, leaving it for redelivery")
		metrics.RecordJob(dispositionAbandoned)
		return dispositionAbandoned
	}

	disposition := dispositionFailed
	now := s.now()
	switch {
	case err == nil && res.Skipped():
		disposition = dispositionSkipped
	case err == nil:
		disposition = dispositionCollected
	case errs.IsNotFound(err):
		logger.Warn().Err(err).Msg("Match gone, dropping snapshot job")
		disposition = dispositionDropped
	case errs.IsProvider(err) && job.Attempt+1 < s.opts.MaxAttempts && now.Before(job.KickoffAt):
		at := now.Add(s.opts.RetryDelay)
		if rerr := s.queue.Retry(ctx, job, at); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to retry snapshot job")
			metrics.RecordJob(dispositionFailed)
			return dispositionFailed
		}
		logger.Warn().Err(err).Time("retry_at", at).Msg("Snapshot job failed, retrying")
		metrics.RecordJob(dispositionRetried)
		return dispositionRetried
	default:
		logger.Error().Err(err).Msg("Snapshot job failed")
	}

	if aerr := s.queue.Ack(ctx, job); aerr != nil {
		logger.Error().Err(aerr).Msg("Failed to acknowledge snapshot job")
	}
	metrics.RecordJob(disposition)
	return disposition
}
