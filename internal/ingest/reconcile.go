package ingest

import (
	"context"
	"fmt"
	"time"

	"papp/ingestion/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ReconcileSummary is the outcome of rebuilding the snapshot schedule
type ReconcileSummary struct {
	Matches       int `json:"matches"`
	JobsScheduled int `json:"jobs_scheduled"`
	Failed        int `json:"failed"`
}

// ReconcileSchedule re-enqueues the remaining snapshot jobs of every future
// match and returns how many were scheduled. Running it repeatedly is safe:
// queue entries collapse by job id and the collector drops duplicates.
func (s *Service) ReconcileSchedule(ctx context.Context) (int, error) {
	summary, err := s.TriggerReconciliation(ctx)
	return summary.JobsScheduled, err
}

// TriggerReconciliation rebuilds the snapshot schedule from persisted matches
func (s *Service) TriggerReconciliation(ctx context.Context) (ReconcileSummary, error) {
	start := time.Now()
	log.Info().Msg("Reconciling snapshot schedule...")

	var summary ReconcileSummary

	now := s.now()
	matches, err := s.matches.ListFutureMatches(ctx, now)
	if err != nil {
		metrics.RecordSweep("reconciliation", "error", time.Since(start).Seconds())
		return summary, fmt.Errorf("failed to list future matches: %w", err)
	}
	summary.Matches = len(matches)

	for _, match := range matches {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		scheduled, err := s.scheduleMatch(ctx, match, now)
		summary.JobsScheduled += scheduled
		if err != nil {
			summary.Failed++
		}
	}

	status := "success"
	if summary.Failed > 0 {
		status = "partial"
	}
	metrics.RecordSweep("reconciliation", status, time.Since(start).Seconds())
	metrics.RecordScheduled("reconciliation", summary.JobsScheduled)

	log.Info().
		Int("matches", summary.Matches).
		Int("jobs", summary.JobsScheduled).
		Int("failed", summary.Failed).
		Dur("duration", time.Since(start)).
		Msg("Snapshot schedule reconciled")

	return summary, nil
}
