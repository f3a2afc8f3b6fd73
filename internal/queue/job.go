package queue

import (
	"fmt"
	"time"

	"papp/ingestion/internal/models"

	"github.com/google/uuid"
)

// jobNamespace seeds deterministic job ids
var jobNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("papp/ingestion/snapshot-jobs"))

// Job is a delayed snapshot collection for one match. It carries only the
// references a worker needs; the match itself is reloaded on execution.
type Job struct {
	ID            string    `json:"id"`
	MatchID       int64     `json:"match_id"`
	ProviderID    string    `json:"provider_id"`
	League        string    `json:"league"`
	KickoffAt     time.Time `json:"kickoff_at"`
	RunAt         time.Time `json:"run_at"`
	OffsetMinutes int       `json:"offset_minutes"`
	Attempt       int       `json:"attempt"`
}

// JobID is stable for a (match, run instant) pair so re-enqueueing collapses
// into the same queue entry
func JobID(matchID int64, runAt time.Time) string {
	key := fmt.Sprintf("snapshot:%d:%d", matchID, runAt.UTC().Unix())
	return uuid.NewSHA1(jobNamespace, []byte(key)).String()
}

// NewSnapshotJob builds the job that collects a snapshot offset before kickoff
func NewSnapshotJob(m *models.Match, runAt time.Time, offset time.Duration) Job {
	return Job{
		ID:            JobID(m.ID, runAt),
		MatchID:       m.ID,
		ProviderID:    m.ProviderID,
		League:        m.LeagueKey,
		KickoffAt:     m.KickoffAt.UTC(),
		RunAt:         runAt.UTC(),
		OffsetMinutes: int(offset / time.Minute),
	}
}
