package models

import (
	"database/sql"
	"time"
)

// Match is a fixture discovered from the odds provider
type Match struct {
	ID         int64     `db:"id"`
	ProviderID string    `db:"provider_id"`
	LeagueKey  string    `db:"league_key"`
	HomeTeam   string    `db:"home_team"`
	AwayTeam   string    `db:"away_team"`
	KickoffAt  time.Time `db:"kickoff_at"`

	// Final result, written once by the score backfill
	ResultHomeScore sql.NullInt32 `db:"result_home_score"`
	ResultAwayScore sql.NullInt32 `db:"result_away_score"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HasScore reports whether the final result has been recorded
func (m *Match) HasScore() bool {
	return m.ResultHomeScore.Valid && m.ResultAwayScore.Valid
}

// KickedOff reports whether kickoff is at or before now
func (m *Match) KickedOff(now time.Time) bool {
	return !m.KickoffAt.After(now)
}

// CompletionOverview summarises data completeness for kicked-off matches.
// A match is complete once it has CompleteSnapshotCount snapshots and a score.
type CompletionOverview struct {
	Before     time.Time `json:"before"`
	Total      int       `json:"total"`
	Complete   int       `json:"complete"`
	Incomplete int       `json:"incomplete"`
	Unscored   int       `json:"unscored"`
}

// CompleteSnapshotCount is the number of snapshots a fully collected match has
const CompleteSnapshotCount = 3
