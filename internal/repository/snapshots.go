package repository

import (
	"context"
	"fmt"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// SnapshotRepository handles odds snapshot database operations
type SnapshotRepository struct {
	db *Database
}

const insertSnapshot = `
	INSERT INTO odds_snapshots (
		match_id, bookmaker, price_home, price_draw, price_away,
		handicap_line, handicap_price_home, handicap_price_away,
		interval_marker, captured_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id, created_at
`

const recentSnapshotExists = `
	SELECT EXISTS (
		SELECT 1 FROM odds_snapshots
		WHERE match_id = $1 AND captured_at > $2
	)
`

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insert(ctx context.Context, q querier, s *models.OddsSnapshot) error {
	return q.QueryRow(
		ctx, insertSnapshot,
		s.MatchID, s.Bookmaker, s.PriceHome, s.PriceDraw, s.PriceAway,
		s.HandicapLine, s.HandicapPriceHome, s.HandicapPriceAway,
		s.IntervalMarker, s.CapturedAt.UTC(),
	).Scan(&s.ID, &s.CreatedAt)
}

// RecentSnapshotExists reports whether the match has a snapshot captured
// within the window ending at the given instant
func (r *SnapshotRepository) RecentSnapshotExists(ctx context.Context, matchID int64, at time.Time, within time.Duration) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, recentSnapshotExists, matchID, at.Add(-within).UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent snapshots: %w", err)
	}
	return exists, nil
}

// CreateSnapshot inserts a snapshot unconditionally
func (r *SnapshotRepository) CreateSnapshot(ctx context.Context, s *models.OddsSnapshot) error {
	if err := insert(ctx, r.db.Pool, s); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	log.Debug().
		Int64("id", s.ID).
		Int64("match_id", s.MatchID).
		Str("bookmaker", s.Bookmaker).
		Msg("Snapshot created")

	return nil
}

// CreateSnapshotIfAbsent inserts the snapshot unless the match already has one
// captured within the window before it. The check and insert run in one
// transaction holding a per-match advisory lock, so concurrent deliveries for
// the same match serialise. It reports whether a row was inserted.
func (r *SnapshotRepository) CreateSnapshotIfAbsent(ctx context.Context, s *models.OddsSnapshot, within time.Duration) (bool, error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, s.MatchID); err != nil {
		return false, fmt.Errorf("failed to lock match %d: %w", s.MatchID, err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, recentSnapshotExists, s.MatchID, s.CapturedAt.Add(-within).UTC()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent snapshots: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := insert(ctx, tx, s); err != nil {
		return false, fmt.Errorf("failed to create snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	log.Debug().
		Int64("id", s.ID).
		Int64("match_id", s.MatchID).
		Str("bookmaker", s.Bookmaker).
		Time("captured_at", s.CapturedAt).
		Msg("Snapshot created")

	return true, nil
}

// ListSnapshots returns a match's snapshots, oldest first
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, matchID int64) ([]*models.OddsSnapshot, error) {
	query := `
		SELECT id, match_id, bookmaker, price_home, price_draw, price_away,
		       handicap_line, handicap_price_home, handicap_price_away,
		       interval_marker, captured_at, created_at
		FROM odds_snapshots
		WHERE match_id = $1
		ORDER BY captured_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.OddsSnapshot
	for rows.Next() {
		var s models.OddsSnapshot
		if err := rows.Scan(
			&s.ID, &s.MatchID, &s.Bookmaker, &s.PriceHome, &s.PriceDraw, &s.PriceAway,
			&s.HandicapLine, &s.HandicapPriceHome, &s.HandicapPriceAway,
			&s.IntervalMarker, &s.CapturedAt, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.CapturedAt = s.CapturedAt.UTC()
		snapshots = append(snapshots, &s)
	}

	return snapshots, rows.Err()
}

// DeleteSnapshot removes one snapshot
func (r *SnapshotRepository) DeleteSnapshot(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM odds_snapshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("snapshot not found: id=%d", id)
	}
	return nil
}
