package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/metrics"
	"papp/ingestion/internal/models"
	"papp/ingestion/internal/queue"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Outcome is the result kind of one collection
type Outcome string

const (
	OutcomeCollected Outcome = "collected"
	OutcomeSkipped   Outcome = "skipped"
)

// SkipReason explains a skipped collection. Skips are not errors.
type SkipReason string

const (
	SkipDuplicate    SkipReason = "duplicate"
	SkipNoBookmakers SkipReason = "no_bookmakers"
	SkipMarketAbsent SkipReason = "market_absent"
	SkipStale        SkipReason = "stale"
)

// Result is the outcome of a snapshot collection
type Result struct {
	Outcome  Outcome              `json:"outcome"`
	Reason   SkipReason           `json:"reason,omitempty"`
	Snapshot *models.OddsSnapshot `json:"snapshot,omitempty"`
}

// Skipped reports whether nothing was persisted
func (r Result) Skipped() bool { return r.Outcome == OutcomeSkipped }

func skipped(reason SkipReason) Result {
	return Result{Outcome: OutcomeSkipped, Reason: reason}
}

// CollectSnapshot captures the current odds for a match. A missing match is
// an errs.ErrNotFound error; provider failures are ProviderErrors. Either way
// nothing is persisted.
func (s *Service) CollectSnapshot(ctx context.Context, matchID int64) (Result, error) {
	return s.collect(ctx, matchID, sql.NullInt32{})
}

// CollectJob runs a queued snapshot job
func (s *Service) CollectJob(ctx context.Context, job queue.Job) (Result, error) {
	marker := sql.NullInt32{}
	if job.OffsetMinutes > 0 {
		marker = sql.NullInt32{Int32: int32(job.OffsetMinutes), Valid: true}
	}
	return s.collect(ctx, job.MatchID, marker)
}

func (s *Service) collect(ctx context.Context, matchID int64, marker sql.NullInt32) (Result, error) {
	res, err := s.collectOnce(ctx, matchID, marker)
	switch {
	case err != nil:
		kind := "unknown"
		switch {
		case errs.IsNotFound(err):
			kind = "not_found"
		case errs.IsTimeout(err):
			kind = "timeout"
		case errs.IsProvider(err):
			kind = "provider"
		}
		metrics.RecordError("collector", kind)
		metrics.RecordSnapshotOutcome("failed", kind)
	default:
		metrics.RecordSnapshotOutcome(string(res.Outcome), string(res.Reason))
	}
	return res, err
}

func (s *Service) collectOnce(ctx context.Context, matchID int64, marker sql.NullInt32) (Result, error) {
	match, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load match %d: %w", matchID, err)
	}

	logger := log.With().
		Int64("match_id", match.ID).
		Str("provider_id", match.ProviderID).
		Str("league", match.LeagueKey).
		Logger()

	now := s.now()
	if now.After(match.KickoffAt.Add(s.cfg.StaleGrace)) {
		logger.Info().Time("kickoff", match.KickoffAt).Msg("Kickoff passed, skipping stale snapshot job")
		return skipped(SkipStale), nil
	}

	recent, err := s.snapshots.RecentSnapshotExists(ctx, match.ID, now, s.cfg.DedupWindow)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check recent snapshots: %w", err)
	}
	if recent {
		logger.Info().Dur("window", s.cfg.DedupWindow).Msg("Recent snapshot exists, skipping")
		return skipped(SkipDuplicate), nil
	}

	markets := []models.MarketKind{models.MarketH2H}
	if s.cfg.CollectHandicap {
		markets = append(markets, models.MarketSpreads)
	}

	odds, err := s.provider.FetchOdds(ctx, match.ProviderID, match.LeagueKey, markets)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch odds")
		return Result{}, err
	}
	if odds == nil || len(odds.Bookmakers) == 0 {
		logger.Warn().Msg("No bookmaker odds available")
		return skipped(SkipNoBookmakers), nil
	}

	bookmaker := odds.Bookmakers[0]
	quote, err := bookmaker.Quote(models.MarketH2H, match.HomeTeam, match.AwayTeam)
	if err != nil {
		logger.Error().Err(err).Str("bookmaker", bookmaker.Key).Msg("Malformed h2h market")
		return Result{}, errs.Malformed("odds", "bookmaker %s: %v", bookmaker.Key, err)
	}

	var snapshot *models.OddsSnapshot
	switch q := quote.(type) {
	case models.H2HQuote:
		snapshot = models.NewSnapshot(match.ID, bookmaker.Key, q, s.now())
	case models.AbsentQuote:
		logger.Warn().Str("bookmaker", bookmaker.Key).Msg("Bookmaker has no h2h market")
		return skipped(SkipMarketAbsent), nil
	default:
		return Result{}, errs.Malformed("odds", "unexpected quote %T for h2h", quote)
	}
	snapshot.IntervalMarker = marker

	if s.cfg.CollectHandicap {
		s.applyHandicap(logger, snapshot, &bookmaker, match)
	}

	created, err := s.snapshots.CreateSnapshotIfAbsent(ctx, snapshot, s.cfg.DedupWindow)
	if err != nil {
		return Result{}, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if !created {
		logger.Info().Msg("Concurrent delivery already recorded a snapshot, skipping")
		return skipped(SkipDuplicate), nil
	}

	logger.Info().
		Str("bookmaker", snapshot.Bookmaker).
		Float64("home", snapshot.PriceHome).
		Float64("draw", snapshot.PriceDraw).
		Float64("away", snapshot.PriceAway).
		Bool("handicap", snapshot.HasHandicap()).
		Msg("Odds snapshot recorded")

	return Result{Outcome: OutcomeCollected, Snapshot: snapshot}, nil
}

// applyHandicap fills the handicap fields when the spreads market is usable.
// Any other shape leaves them null.
func (s *Service) applyHandicap(logger zerolog.Logger, snapshot *models.OddsSnapshot, bookmaker *models.Bookmaker, match *models.Match) {
	quote, err := bookmaker.Quote(models.MarketSpreads, match.HomeTeam, match.AwayTeam)
	if err != nil {
		logger.Warn().Err(err).Str("bookmaker", bookmaker.Key).Msg("Ignoring unusable spreads market")
		return
	}
	if q, ok := quote.(models.SpreadQuote); ok {
		snapshot.ApplySpread(q)
	}
}
