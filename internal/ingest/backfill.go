package ingest

import (
	"context"
	"fmt"
	"time"

	"papp/ingestion/internal/metrics"

	"github.com/rs/zerolog/log"
)

// LeagueBackfill is the outcome of backfilling one league
type LeagueBackfill struct {
	Candidates int `json:"candidates"`
	Updated    int `json:"updated"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
}

// BackfillSummary aggregates a backfill sweep
type BackfillSummary struct {
	Leagues       int      `json:"leagues"`
	FailedLeagues []string `json:"failed_leagues,omitempty"`
	LeagueBackfill
}

// TriggerBackfill writes final scores for every configured league. Like
// discovery it only errors when ctx is cancelled.
func (s *Service) TriggerBackfill(ctx context.Context) (BackfillSummary, error) {
	start := time.Now()
	log.Info().Strs("leagues", s.cfg.Leagues).Msg("Running score backfill...")

	summary := BackfillSummary{Leagues: len(s.cfg.Leagues)}
	runs := sweepLeagues(ctx, s.cfg.Leagues, s.cfg.LeagueConcurrency, s.backfillLeague)
	for _, run := range runs {
		if run.Err != nil {
			log.Error().Err(run.Err).Str("league", run.League).Msg("League backfill failed")
			metrics.RecordError("backfill", "league")
			summary.FailedLeagues = append(summary.FailedLeagues, run.League)
			continue
		}
		summary.Candidates += run.Result.Candidates
		summary.Updated += run.Result.Updated
		summary.Pending += run.Result.Pending
		summary.Failed += run.Result.Failed
	}

	status := "success"
	if len(summary.FailedLeagues) > 0 {
		status = "partial"
	}
	metrics.RecordSweep("backfill", status, time.Since(start).Seconds())

	log.Info().
		Int("candidates", summary.Candidates).
		Int("updated", summary.Updated).
		Int("pending", summary.Pending).
		Int("failed_leagues", len(summary.FailedLeagues)).
		Dur("duration", time.Since(start)).
		Msg("Score backfill complete")

	return summary, ctx.Err()
}

// BackfillScores writes final scores for the league's matches that kicked off
// more than the grace period ago and have none yet. It returns how many
// matches were updated.
func (s *Service) BackfillScores(ctx context.Context, league string) (int, error) {
	result, err := s.backfillLeague(ctx, league)
	return result.Updated, err
}

func (s *Service) backfillLeague(ctx context.Context, league string) (LeagueBackfill, error) {
	var result LeagueBackfill

	cutoff := s.now().Add(-s.cfg.BackfillGrace)
	matches, err := s.matches.ListKickedOffWithoutScore(ctx, league, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to list unscored matches: %w", err)
	}
	result.Candidates = len(matches)

	for _, match := range matches {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		logger := log.With().
			Str("league", league).
			Int64("match_id", match.ID).
			Str("provider_id", match.ProviderID).
			Logger()

		score, err := s.provider.FetchScores(ctx, match.ProviderID, league)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to fetch scores")
			metrics.RecordError("backfill", "provider")
			result.Failed++
			continue
		}

		home, away, ok, err := score.FinalScore(match.HomeTeam, match.AwayTeam)
		if err != nil {
			logger.Warn().Err(err).Msg("Malformed score payload")
			result.Failed++
			continue
		}
		if !ok {
			logger.Debug().Msg("No final score yet")
			result.Pending++
			continue
		}

		updated, err := s.matches.UpdateScores(ctx, match.ID, home, away)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to save scores")
			result.Failed++
			continue
		}
		if updated == nil {
			// scored concurrently
			continue
		}
		result.Updated++

		logger.Info().
			Str("home", match.HomeTeam).
			Str("away", match.AwayTeam).
			Int("home_score", home).
			Int("away_score", away).
			Msg("Final score recorded")
	}

	metrics.RecordBackfilled(league, result.Updated)

	return result, nil
}
