//go:build integration

package repository

import (
	"sync"
	"testing"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRepository_RecentSnapshotExists(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	m := newMatch("evt-recent-snap", time.Now().UTC().Add(time.Hour))
	require.NoError(t, db.Matches.Create(ctx, m))

	captured := time.Now().UTC().Add(-3 * time.Minute)
	s := models.NewSnapshot(m.ID, "pinnacle", models.H2HQuote{Home: 2.1, Draw: 3.2, Away: 3.4}, captured)
	require.NoError(t, db.Snapshots.CreateSnapshot(ctx, s))

	exists, err := db.Snapshots.RecentSnapshotExists(ctx, m.ID, time.Now().UTC(), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.Snapshots.RecentSnapshotExists(ctx, m.ID, time.Now().UTC(), 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSnapshotRepository_CreateIfAbsentIsAtomic(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	m := newMatch("evt-race", time.Now().UTC().Add(time.Hour))
	require.NoError(t, db.Matches.Create(ctx, m))

	captured := time.Now().UTC()
	var wg sync.WaitGroup
	created := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := models.NewSnapshot(m.ID, "pinnacle", models.H2HQuote{Home: 2.1, Draw: 3.2, Away: 3.4}, captured)
			ok, err := db.Snapshots.CreateSnapshotIfAbsent(ctx, s, 5*time.Minute)
			assert.NoError(t, err)
			created <- ok
		}()
	}
	wg.Wait()
	close(created)

	inserted := 0
	for ok := range created {
		if ok {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted, "Concurrent deliveries should insert exactly one snapshot")

	snapshots, err := db.Snapshots.ListSnapshots(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestSnapshotRepository_HandicapAndDelete(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	m := newMatch("evt-handicap", time.Now().UTC().Add(time.Hour))
	require.NoError(t, db.Matches.Create(ctx, m))

	s := models.NewSnapshot(m.ID, "pinnacle", models.H2HQuote{Home: 2.1, Draw: 3.2, Away: 3.4}, time.Now().UTC())
	s.ApplySpread(models.SpreadQuote{Line: -0.5, Home: 1.91, Away: 1.95})
	require.NoError(t, db.Snapshots.CreateSnapshot(ctx, s))

	list, err := db.Snapshots.ListSnapshots(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, -0.5, list[0].HandicapLine.Float64)
	assert.False(t, list[0].IntervalMarker.Valid)

	require.NoError(t, db.Snapshots.DeleteSnapshot(ctx, s.ID))
	err = db.Snapshots.DeleteSnapshot(ctx, s.ID)
	assert.True(t, errs.IsNotFound(err))
}
