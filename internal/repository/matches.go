package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

const uniqueViolation = "23505"

const matchColumns = `
	id, provider_id, league_key, home_team, away_team, kickoff_at,
	result_home_score, result_away_score, created_at, updated_at`

// MatchRepository handles match database operations
type MatchRepository struct {
	db *Database
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (*models.Match, error) {
	var m models.Match
	err := row.Scan(
		&m.ID, &m.ProviderID, &m.LeagueKey, &m.HomeTeam, &m.AwayTeam, &m.KickoffAt,
		&m.ResultHomeScore, &m.ResultAwayScore, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.KickoffAt = m.KickoffAt.UTC()
	return &m, nil
}

func (r *MatchRepository) list(ctx context.Context, query string, args ...any) ([]*models.Match, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

// Create inserts a new match. A duplicate provider id returns errs.ErrConflict.
func (r *MatchRepository) Create(ctx context.Context, match *models.Match) error {
	query := `
		INSERT INTO matches (provider_id, league_key, home_team, away_team, kickoff_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(
		ctx, query,
		match.ProviderID, match.LeagueKey, match.HomeTeam, match.AwayTeam, match.KickoffAt.UTC(),
	).Scan(&match.ID, &match.CreatedAt, &match.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("match %s: %w", match.ProviderID, errs.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	log.Debug().
		Int64("id", match.ID).
		Str("provider_id", match.ProviderID).
		Str("home", match.HomeTeam).
		Str("away", match.AwayTeam).
		Time("kickoff", match.KickoffAt).
		Msg("Match created")

	return nil
}

// GetByID retrieves a match by its database ID
func (r *MatchRepository) GetByID(ctx context.Context, id int64) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	m, err := scanMatch(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("match not found: id=%d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return m, nil
}

// FindByProviderID retrieves a match by the provider's event id.
// It returns nil when the match is not known.
func (r *MatchRepository) FindByProviderID(ctx context.Context, providerID string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE provider_id = $1`

	m, err := scanMatch(r.db.Pool.QueryRow(ctx, query, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match by provider id: %w", err)
	}

	return m, nil
}

// ListFutureMatches returns matches kicking off after now, earliest first
func (r *MatchRepository) ListFutureMatches(ctx context.Context, now time.Time) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM matches
		WHERE kickoff_at > $1
		ORDER BY kickoff_at ASC`

	matches, err := r.list(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list future matches: %w", err)
	}
	return matches, nil
}

// ListKickedOffWithoutScore returns a league's matches that kicked off before
// the given instant and still have no result
func (r *MatchRepository) ListKickedOffWithoutScore(ctx context.Context, league string, kickedOffBefore time.Time) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM matches
		WHERE league_key = $1
		  AND kickoff_at < $2
		  AND result_home_score IS NULL
		ORDER BY kickoff_at ASC`

	matches, err := r.list(ctx, query, league, kickedOffBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list unscored matches: %w", err)
	}
	return matches, nil
}

// UpdateScores records the final result. A match that already has a result is
// never overwritten; in that case nil is returned.
func (r *MatchRepository) UpdateScores(ctx context.Context, id int64, home, away int) (*models.Match, error) {
	query := `
		UPDATE matches
		SET result_home_score = $2, result_away_score = $3, updated_at = NOW()
		WHERE id = $1 AND result_home_score IS NULL
		RETURNING ` + matchColumns

	m, err := scanMatch(r.db.Pool.QueryRow(ctx, query, id, home, away))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update scores: %w", err)
	}

	log.Debug().
		Int64("id", id).
		Int("home_score", home).
		Int("away_score", away).
		Msg("Match scores updated")

	return m, nil
}

// DeleteMatch removes a match and, by cascade, its snapshots
func (r *MatchRepository) DeleteMatch(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("match not found: id=%d", id)
	}
	return nil
}

// CompletionOverview counts matches kicked off before the instant by completeness
func (r *MatchRepository) CompletionOverview(ctx context.Context, before time.Time) (models.CompletionOverview, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE m.result_home_score IS NOT NULL AND COALESCE(s.n, 0) >= $2),
			COUNT(*) FILTER (WHERE m.result_home_score IS NULL)
		FROM matches m
		LEFT JOIN (
			SELECT match_id, COUNT(*) AS n FROM odds_snapshots GROUP BY match_id
		) s ON s.match_id = m.id
		WHERE m.kickoff_at < $1
	`

	overview := models.CompletionOverview{Before: before.UTC()}
	err := r.db.Pool.QueryRow(ctx, query, before.UTC(), models.CompleteSnapshotCount).
		Scan(&overview.Total, &overview.Complete, &overview.Unscored)
	if err != nil {
		return overview, fmt.Errorf("failed to compute completion overview: %w", err)
	}
	overview.Incomplete = overview.Total - overview.Complete

	return overview, nil
}

// DeleteIncomplete removes matches kicked off before the instant that have
// fewer than minSnapshots snapshots or no result
func (r *MatchRepository) DeleteIncomplete(ctx context.Context, before time.Time, minSnapshots int) (int64, error) {
	query := `
		DELETE FROM matches m
		WHERE m.kickoff_at < $1
		  AND (
			m.result_home_score IS NULL
			OR (SELECT COUNT(*) FROM odds_snapshots s WHERE s.match_id = m.id) < $2
		  )
	`

	tag, err := r.db.Pool.Exec(ctx, query, before.UTC(), minSnapshots)
	if err != nil {
		return 0, fmt.Errorf("failed to delete incomplete matches: %w", err)
	}

	log.Info().
		Int64("deleted", tag.RowsAffected()).
		Time("before", before).
		Msg("Incomplete matches deleted")

	return tag.RowsAffected(), nil
}
