// Package memory is an in-process match repository with the same semantics
// as the Postgres repository, including the per-match atomic snapshot insert.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/models"
)

// Store holds matches and snapshots in memory
type Store struct {
	mu         sync.Mutex
	nextMatch  int64
	nextSnap   int64
	matches    map[int64]*models.Match
	byProvider map[string]int64
	snapshots  map[int64][]*models.OddsSnapshot
	now        func() time.Time
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		matches:    make(map[int64]*models.Match),
		byProvider: make(map[string]int64),
		snapshots:  make(map[int64][]*models.OddsSnapshot),
		now:        time.Now,
	}
}

func copyMatch(m *models.Match) *models.Match {
	c := *m
	return &c
}

// Create inserts a match; a duplicate provider id returns errs.ErrConflict
func (s *Store) Create(_ context.Context, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byProvider[m.ProviderID]; ok {
		return fmt.Errorf("match %s: %w", m.ProviderID, errs.ErrConflict)
	}

	s.nextMatch++
	m.ID = s.nextMatch
	m.KickoffAt = m.KickoffAt.UTC()
	m.CreatedAt = s.now().UTC()
	m.UpdatedAt = m.CreatedAt

	s.matches[m.ID] = copyMatch(m)
	s.byProvider[m.ProviderID] = m.ID
	return nil
}

// GetByID returns the match or an errs.ErrNotFound error
func (s *Store) GetByID(_ context.Context, id int64) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, errs.NotFound("match not found: id=%d", id)
	}
	return copyMatch(m), nil
}

// FindByProviderID returns nil when the provider id is unknown
func (s *Store) FindByProviderID(_ context.Context, providerID string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byProvider[providerID]
	if !ok {
		return nil, nil
	}
	return copyMatch(s.matches[id]), nil
}

func (s *Store) filter(keep func(*models.Match) bool) []*models.Match {
	var out []*models.Match
	for _, m := range s.matches {
		if keep(m) {
			out = append(out, copyMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].KickoffAt.Equal(out[j].KickoffAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].KickoffAt.Before(out[j].KickoffAt)
	})
	return out
}

// ListFutureMatches returns matches kicking off after now, earliest first
func (s *Store) ListFutureMatches(_ context.Context, now time.Time) ([]*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter(func(m *models.Match) bool { return m.KickoffAt.After(now) }), nil
}

// ListKickedOffWithoutScore returns a league's unscored matches kicked off before the instant
func (s *Store) ListKickedOffWithoutScore(_ context.Context, league string, kickedOffBefore time.Time) ([]*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter(func(m *models.Match) bool {
		return m.LeagueKey == league && m.KickoffAt.Before(kickedOffBefore) && !m.ResultHomeScore.Valid
	}), nil
}

// UpdateScores writes the result once; it returns nil if already scored
func (s *Store) UpdateScores(_ context.Context, id int64, home, away int) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok || m.ResultHomeScore.Valid {
		return nil, nil
	}
	m.ResultHomeScore.Int32, m.ResultHomeScore.Valid = int32(home), true
	m.ResultAwayScore.Int32, m.ResultAwayScore.Valid = int32(away), true
	m.UpdatedAt = s.now().UTC()
	return copyMatch(m), nil
}

// DeleteMatch removes a match and its snapshots
func (s *Store) DeleteMatch(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id int64) error {
	m, ok := s.matches[id]
	if !ok {
		return errs.NotFound("match not found: id=%d", id)
	}
	delete(s.byProvider, m.ProviderID)
	delete(s.matches, id)
	delete(s.snapshots, id)
	return nil
}

func (s *Store) recentLocked(matchID int64, since time.Time) bool {
	for _, snap := range s.snapshots[matchID] {
		if snap.CapturedAt.After(since) {
			return true
		}
	}
	return false
}

// RecentSnapshotExists reports whether a snapshot was captured within the window ending at at
func (s *Store) RecentSnapshotExists(_ context.Context, matchID int64, at time.Time, within time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recentLocked(matchID, at.Add(-within)), nil
}

func (s *Store) insertLocked(snap *models.OddsSnapshot) error {
	if _, ok := s.matches[snap.MatchID]; !ok {
		return fmt.Errorf("failed to create snapshot: match %d does not exist", snap.MatchID)
	}
	s.nextSnap++
	snap.ID = s.nextSnap
	snap.CapturedAt = snap.CapturedAt.UTC()
	snap.CreatedAt = s.now().UTC()

	c := *snap
	s.snapshots[snap.MatchID] = append(s.snapshots[snap.MatchID], &c)
	return nil
}

// CreateSnapshot inserts a snapshot unconditionally
func (s *Store) CreateSnapshot(_ context.Context, snap *models.OddsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(snap)
}

// CreateSnapshotIfAbsent inserts unless a snapshot exists within the window before snap
func (s *Store) CreateSnapshotIfAbsent(_ context.Context, snap *models.OddsSnapshot, within time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recentLocked(snap.MatchID, snap.CapturedAt.Add(-within)) {
		return false, nil
	}
	if err := s.insertLocked(snap); err != nil {
		return false, err
	}
	return true, nil
}

// ListSnapshots returns a match's snapshots, oldest first
func (s *Store) ListSnapshots(_ context.Context, matchID int64) ([]*models.OddsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.OddsSnapshot, 0, len(s.snapshots[matchID]))
	for _, snap := range s.snapshots[matchID] {
		c := *snap
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

// DeleteSnapshot removes one snapshot
func (s *Store) DeleteSnapshot(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for matchID, list := range s.snapshots {
		for i, snap := range list {
			if snap.ID == id {
				s.snapshots[matchID] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return errs.NotFound("snapshot not found: id=%d", id)
}

func (s *Store) completeLocked(m *models.Match) bool {
	return m.HasScore() && len(s.snapshots[m.ID]) >= models.CompleteSnapshotCount
}

// CompletionOverview counts matches kicked off before the instant by completeness
func (s *Store) CompletionOverview(_ context.Context, before time.Time) (models.CompletionOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	overview := models.CompletionOverview{Before: before.UTC()}
	for _, m := range s.matches {
		if !m.KickoffAt.Before(before) {
			continue
		}
		overview.Total++
		if s.completeLocked(m) {
			overview.Complete++
		}
		if !m.ResultHomeScore.Valid {
			overview.Unscored++
		}
	}
	overview.Incomplete = overview.Total - overview.Complete
	return overview, nil
}

// DeleteIncomplete removes kicked-off matches lacking a score or enough snapshots
func (s *Store) DeleteIncomplete(_ context.Context, before time.Time, minSnapshots int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, m := range s.matches {
		if !m.KickoffAt.Before(before) {
			continue
		}
		if m.ResultHomeScore.Valid && len(s.snapshots[id]) >= minSnapshots {
			continue
		}
		if err := s.deleteLocked(id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
