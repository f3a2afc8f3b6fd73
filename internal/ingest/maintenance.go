package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papp/ingestion/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrPurgeTooRecent rejects a purge that would reach matches still awaiting
// their score backfill
var ErrPurgeTooRecent = errors.New("purge cutoff is inside the backfill grace period")

var errNoMaintenance = errors.New("maintenance store not configured")

// StatusOverview reports data completeness for matches whose backfill grace
// has elapsed
func (s *Service) StatusOverview(ctx context.Context) (models.CompletionOverview, error) {
	if s.maintenance == nil {
		return models.CompletionOverview{}, errNoMaintenance
	}
	return s.maintenance.CompletionOverview(ctx, s.now().Add(-s.cfg.BackfillGrace))
}

// PurgeIncomplete deletes matches kicked off before the cutoff that lack a
// score or a full set of snapshots. The cutoff must be older than the
// backfill grace period.
func (s *Service) PurgeIncomplete(ctx context.Context, before time.Time) (int64, error) {
	if s.maintenance == nil {
		return 0, errNoMaintenance
	}
	if limit := s.now().Add(-s.cfg.BackfillGrace); before.After(limit) {
		return 0, fmt.Errorf("%w: %s is after %s", ErrPurgeTooRecent, before.UTC().Format(time.RFC3339), limit.Format(time.RFC3339))
	}

	deleted, err := s.maintenance.DeleteIncomplete(ctx, before, models.CompleteSnapshotCount)
	if err != nil {
		return 0, fmt.Errorf("failed to purge incomplete matches: %w", err)
	}

	log.Info().Int64("deleted", deleted).Time("before", before).Msg("Purged incomplete matches")
	return deleted, nil
}
