package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"papp/ingestion/internal/errs"
	"papp/ingestion/internal/models"
	"papp/ingestion/internal/queue"
	"papp/ingestion/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

const epl = "soccer_epl"

type fakeProvider struct {
	mu        sync.Mutex
	events    map[string][]models.Event
	eventsErr map[string]error
	odds      map[string]*models.EventOdds
	oddsErr   error
	scores    map[string]*models.EventScore
	oddsCalls int
	markets   []models.MarketKind
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		events:    make(map[string][]models.Event),
		eventsErr: make(map[string]error),
		odds:      make(map[string]*models.EventOdds),
		scores:    make(map[string]*models.EventScore),
	}
}

func (p *fakeProvider) ListScheduledEvents(_ context.Context, league string) ([]models.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.eventsErr[league]; err != nil {
		return nil, err
	}
	return p.events[league], nil
}

func (p *fakeProvider) FetchOdds(_ context.Context, eventID, _ string, markets []models.MarketKind) (*models.EventOdds, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oddsCalls++
	p.markets = markets
	if p.oddsErr != nil {
		return nil, p.oddsErr
	}
	return p.odds[eventID], nil
}

func (p *fakeProvider) FetchScores(_ context.Context, eventID, _ string) (*models.EventScore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scores[eventID]
	if !ok {
		return nil, &errs.ProviderError{Op: "scores", StatusCode: 500, Err: fmt.Errorf("boom")}
	}
	return s, nil
}

func (p *fakeProvider) setOdds(eventID string, odds *models.EventOdds) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.odds[eventID] = odds
}

type scheduledCall struct {
	At  time.Time
	Job queue.Job
}

type recordingJobs struct {
	mu    sync.Mutex
	calls []scheduledCall
	err   error
}

func (r *recordingJobs) ScheduleAt(_ context.Context, at time.Time, job queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, scheduledCall{At: at, Job: job})
	return nil
}

func (r *recordingJobs) instants() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.At)
	}
	return out
}

type harness struct {
	svc      *Service
	store    *memory.Store
	provider *fakeProvider
	jobs     *recordingJobs
	clock    time.Time
}

func newHarness(t *testing.T, leagues ...string) *harness {
	t.Helper()
	if len(leagues) == 0 {
		leagues = []string{epl}
	}

	h := &harness{
		store:    memory.NewStore(),
		provider: newFakeProvider(),
		jobs:     &recordingJobs{},
		clock:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	h.svc = NewService(Config{
		Leagues:           leagues,
		LeagueConcurrency: 2,
		DedupWindow:       5 * time.Minute,
		StaleGrace:        2 * time.Minute,
		BackfillGrace:     110 * time.Minute,
		CollectHandicap:   true,
	}, Deps{
		Provider:    h.provider,
		Matches:     h.store,
		Snapshots:   h.store,
		Maintenance: h.store,
		Jobs:        h.jobs,
	})
	h.svc.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) at(hour, minute int) {
	h.clock = time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}

func (h *harness) seedMatch(t *testing.T, providerID string, kickoff time.Time) *models.Match {
	t.Helper()
	m := &models.Match{
		ProviderID: providerID,
		LeagueKey:  epl,
		HomeTeam:   "Arsenal",
		AwayTeam:   "Chelsea",
		KickoffAt:  kickoff,
	}
	require.NoError(t, h.store.Create(context.Background(), m))
	return m
}

func h2hMarket(home, draw, away float64) models.Market {
	return models.Market{
		Key: models.MarketH2H,
		Outcomes: []models.Outcome{
			{Name: "Arsenal", Price: home},
			{Name: "Chelsea", Price: away},
			{Name: models.DrawLabel, Price: draw},
		},
	}
}

func point(v float64) *float64 { return &v }

func spreadsMarket(line float64) models.Market {
	return models.Market{
		Key: models.MarketSpreads,
		Outcomes: []models.Outcome{
			{Name: "Arsenal", Price: 1.95, Point: point(line)},
			{Name: "Chelsea", Price: 1.90, Point: point(-line)},
		},
	}
}

func oddsFor(eventID string, markets ...models.Market) *models.EventOdds {
	return &models.EventOdds{
		ID:       eventID,
		HomeTeam: "Arsenal",
		AwayTeam: "Chelsea",
		Bookmakers: []models.Bookmaker{
			{Key: "pinnacle", Title: "Pinnacle", Markets: markets},
		},
	}
}

func kickoffAt(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.UTC)
}
