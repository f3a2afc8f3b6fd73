package ingest

import (
	"context"
	"time"

	"papp/ingestion/internal/models"
	"papp/ingestion/internal/queue"

	"github.com/rs/zerolog/log"
)

// SnapshotOffsets are the times before kickoff at which odds are captured
var SnapshotOffsets = []time.Duration{60 * time.Minute, 20 * time.Minute, 5 * time.Minute}

// PlannedSnapshot is one target instant for a match
type PlannedSnapshot struct {
	At     time.Time
	Offset time.Duration
}

// PlanSnapshots returns the target instants for a kickoff that are still
// strictly after now. Instants already passed are discarded.
func PlanSnapshots(kickoff, now time.Time) []PlannedSnapshot {
	planned := make([]PlannedSnapshot, 0, len(SnapshotOffsets))
	for _, offset := range SnapshotOffsets {
		at := kickoff.Add(-offset).UTC()
		if at.After(now) {
			planned = append(planned, PlannedSnapshot{At: at, Offset: offset})
		}
	}
	return planned
}

// scheduleMatch enqueues the match's remaining snapshot jobs. It keeps going
// after a failed enqueue and returns how many were scheduled plus the last error.
func (s *Service) scheduleMatch(ctx context.Context, m *models.Match, now time.Time) (int, error) {
	var (
		scheduled int
		lastErr   error
	)
	for _, p := range PlanSnapshots(m.KickoffAt, now) {
		job := queue.NewSnapshotJob(m, p.At, p.Offset)
		if err := s.jobs.ScheduleAt(ctx, p.At, job); err != nil {
			log.Error().
				Err(err).
				Int64("match_id", m.ID).
				Time("run_at", p.At).
				Msg("Failed to schedule snapshot job")
			lastErr = err
			continue
		}
		scheduled++
	}
	return scheduled, lastErr
}
