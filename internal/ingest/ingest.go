// Package ingest discovers matches, collects pre-kickoff odds snapshots,
// backfills final scores and rebuilds the snapshot schedule.
package ingest

import (
	"context"
	"time"

	"papp/ingestion/internal/config"
	"papp/ingestion/internal/models"
	"papp/ingestion/internal/queue"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// OddsProvider is the external odds and scores feed
type OddsProvider interface {
	ListScheduledEvents(ctx context.Context, league string) ([]models.Event, error)
	FetchOdds(ctx context.Context, eventID, league string, markets []models.MarketKind) (*models.EventOdds, error)
	FetchScores(ctx context.Context, eventID, league string) (*models.EventScore, error)
}

// MatchStore persists matches
type MatchStore interface {
	FindByProviderID(ctx context.Context, providerID string) (*models.Match, error)
	Create(ctx context.Context, m *models.Match) error
	GetByID(ctx context.Context, id int64) (*models.Match, error)
	ListFutureMatches(ctx context.Context, now time.Time) ([]*models.Match, error)
	ListKickedOffWithoutScore(ctx context.Context, league string, kickedOffBefore time.Time) ([]*models.Match, error)
	UpdateScores(ctx context.Context, id int64, home, away int) (*models.Match, error)
}

// SnapshotStore persists odds snapshots
type SnapshotStore interface {
	RecentSnapshotExists(ctx context.Context, matchID int64, at time.Time, within time.Duration) (bool, error)
	CreateSnapshotIfAbsent(ctx context.Context, s *models.OddsSnapshot, within time.Duration) (bool, error)
}

// MaintenanceStore backs the operator status and purge actions
type MaintenanceStore interface {
	CompletionOverview(ctx context.Context, before time.Time) (models.CompletionOverview, error)
	DeleteIncomplete(ctx context.Context, before time.Time, minSnapshots int) (int64, error)
}

// JobScheduler runs a job at or after an instant
type JobScheduler interface {
	ScheduleAt(ctx context.Context, at time.Time, job queue.Job) error
}

// Config tunes the ingestion sweeps and the collector
type Config struct {
	Leagues           []string
	LeagueConcurrency int
	DedupWindow       time.Duration
	StaleGrace        time.Duration
	BackfillGrace     time.Duration
	CollectHandicap   bool
}

// NewConfig derives the ingestion settings from the process configuration
func NewConfig(cfg *config.Config) Config {
	return Config{
		Leagues:           cfg.Leagues,
		LeagueConcurrency: cfg.LeagueConcurrency,
		DedupWindow:       cfg.SnapshotDedupWindow,
		StaleGrace:        cfg.SnapshotStaleGrace,
		BackfillGrace:     cfg.ScoreBackfillGrace,
		CollectHandicap:   cfg.CollectHandicap,
	}
}

// Deps are the collaborators a Service is built from
type Deps struct {
	Provider    OddsProvider
	Matches     MatchStore
	Snapshots   SnapshotStore
	Maintenance MaintenanceStore
	Jobs        JobScheduler
}

// Service runs discovery, collection, backfill and reconciliation
type Service struct {
	cfg         Config
	provider    OddsProvider
	matches     MatchStore
	snapshots   SnapshotStore
	maintenance MaintenanceStore
	jobs        JobScheduler
	now         func() time.Time
}

// NewService builds a Service
func NewService(cfg Config, deps Deps) *Service {
	if cfg.LeagueConcurrency < 1 {
		cfg.LeagueConcurrency = 1
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.BackfillGrace <= 0 {
		cfg.BackfillGrace = 110 * time.Minute
	}
	return &Service{
		cfg:         cfg,
		provider:    deps.Provider,
		matches:     deps.Matches,
		snapshots:   deps.Snapshots,
		maintenance: deps.Maintenance,
		jobs:        deps.Jobs,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type leagueRun[T any] struct {
	League string
	Result T
	Err    error
}

// sweepLeagues runs fn for every league with bounded concurrency. A league
// that fails or panics is reported in its run and never affects the others.
func sweepLeagues[T any](ctx context.Context, leagues []string, limit int, fn func(context.Context, string) (T, error)) []leagueRun[T] {
	p := pool.NewWithResults[leagueRun[T]]().WithMaxGoroutines(limit)
	for _, league := range leagues {
		league := league
		p.Go(func() leagueRun[T] {
			run := leagueRun[T]{League: league}
			var pc panics.Catcher
			pc.Try(func() { run.Result, run.Err = fn(ctx, league) })
			if r := pc.Recovered(); r != nil {
				run.Err = r.AsError()
			}
			return run
		})
	}
	return p.Wait()
}
