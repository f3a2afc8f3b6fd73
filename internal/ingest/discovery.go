package ingest

import (
	"context"
	"fmt"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/metrics"

	"github.com/rs/zerolog/log"
)

// LeagueDiscovery is the outcome of discovering one league
type LeagueDiscovery struct {
	EventsSeen     int `json:"events_seen"`
	MatchesCreated int `json:"matches_created"`
	JobsScheduled  int `json:"jobs_scheduled"`
	EventsFailed   int `json:"events_failed"`
}

// DiscoverySummary aggregates a discovery sweep
type DiscoverySummary struct {
	Leagues       int      `json:"leagues"`
	FailedLeagues []string `json:"failed_leagues,omitempty"`
	LeagueDiscovery
}

// TriggerDiscovery polls every configured league for new matches. Failing
// leagues are logged and listed in the summary; the sweep itself only
// errors when ctx is cancelled.
func (s *Service) TriggerDiscovery(ctx context.Context) (DiscoverySummary, error) {
	start := time.Now()
	log.Info().Strs("leagues", s.cfg.Leagues).Msg("Running match discovery...")

	summary := DiscoverySummary{Leagues: len(s.cfg.Leagues)}
	runs := sweepLeagues(ctx, s.cfg.Leagues, s.cfg.LeagueConcurrency, s.DiscoverLeague)
	for _, run := range runs {
		if run.Err != nil {
			log.Error().Err(run.Err).Str("league", run.League).Msg("League discovery failed")
			metrics.RecordError("discovery", "league")
			summary.FailedLeagues = append(summary.FailedLeagues, run.League)
			continue
		}
		summary.EventsSeen += run.Result.EventsSeen
		summary.MatchesCreated += run.Result.MatchesCreated
		summary.JobsScheduled += run.Result.JobsScheduled
		summary.EventsFailed += run.Result.EventsFailed
	}

	status := "success"
	if len(summary.FailedLeagues) > 0 {
		status = "partial"
	}
	metrics.RecordSweep("discovery", status, time.Since(start).Seconds())

	log.Info().
		Int("events", summary.EventsSeen).
		Int("created", summary.MatchesCreated).
		Int("jobs", summary.JobsScheduled).
		Int("failed_leagues", len(summary.FailedLeagues)).
		Dur("duration", time.Since(start)).
		Msg("Match discovery complete")

	return summary, ctx.Err()
}

// DiscoverLeague persists the league's unknown events and schedules their
// snapshot jobs. A failure on one event does not stop the rest.
func (s *Service) DiscoverLeague(ctx context.Context, league string) (LeagueDiscovery, error) {
	var result LeagueDiscovery

	events, err := s.provider.ListScheduledEvents(ctx, league)
	if err != nil {
		return result, fmt.Errorf("failed to list events: %w", err)
	}
	result.EventsSeen = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		existing, err := s.matches.FindByProviderID(ctx, event.ID)
		if err != nil {
			log.Error().Err(err).Str("league", league).Str("provider_id", event.ID).Msg("Failed to look up match")
			result.EventsFailed++
			continue
		}
		if existing != nil {
			continue
		}

		match := event.ToMatch(league)
		if err := s.matches.Create(ctx, match); err != nil {
			if errs.IsConflict(err) {
				// created concurrently by another sweep
				continue
			}
			log.Error().Err(err).Str("league", league).Str("provider_id", event.ID).Msg("Failed to save match")
			result.EventsFailed++
			continue
		}
		result.MatchesCreated++

		scheduled, err := s.scheduleMatch(ctx, match, s.now())
		result.JobsScheduled += scheduled
		if err != nil {
			result.EventsFailed++
		}

		log.Info().
			Str("league", league).
			Int64("match_id", match.ID).
			Str("provider_id", match.ProviderID).
			Str("home", match.HomeTeam).
			Str("away", match.AwayTeam).
			Time("kickoff", match.KickoffAt).
			Int("jobs", scheduled).
			Msg("New match discovered")
	}

	metrics.RecordDiscovered(league, result.MatchesCreated)
	metrics.RecordScheduled("discovery", result.JobsScheduled)

	return result, nil
}
