package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is an upcoming fixture as listed by the provider
type Event struct {
	ID           string    `json:"id" validate:"required"`
	SportKey     string    `json:"sport_key"`
	CommenceTime time.Time `json:"commence_time" validate:"required"`
	HomeTeam     string    `json:"home_team" validate:"required"`
	AwayTeam     string    `json:"away_team" validate:"required,nefield=HomeTeam"`
}

// ToMatch converts a provider event to a new Match for the given league
func (e Event) ToMatch(league string) *Match {
	return &Match{
		ProviderID: e.ID,
		LeagueKey:  league,
		HomeTeam:   e.HomeTeam,
		AwayTeam:   e.AwayTeam,
		KickoffAt:  e.CommenceTime.UTC(),
	}
}

// EventOdds is the odds payload for one event
type EventOdds struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	CommenceTime time.Time   `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []Bookmaker `json:"bookmakers"`
}

// Bookmaker holds one bookmaker's markets
type Bookmaker struct {
	Key        string    `json:"key"`
	Title      string    `json:"title"`
	LastUpdate time.Time `json:"last_update"`
	Markets    []Market  `json:"markets"`
}

// Market is a raw provider market
type Market struct {
	Key      MarketKind `json:"key"`
	Outcomes []Outcome  `json:"outcomes"`
}

// Outcome is one priced outcome within a market
type Outcome struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

// EventScore is the scores payload for one event
type EventScore struct {
	ID        string      `json:"id"`
	Completed bool        `json:"completed"`
	HomeTeam  string      `json:"home_team"`
	AwayTeam  string      `json:"away_team"`
	Scores    []TeamScore `json:"scores"`
}

// TeamScore is a team's score; the provider sends it as a string
type TeamScore struct {
	Name  string `json:"name"`
	Score string `json:"score"`
}

// FinalScore returns the home and away goals once the event is completed.
// ok is false when the result is not final or a team's score is missing.
func (s *EventScore) FinalScore(home, away string) (homeGoals, awayGoals int, ok bool, err error) {
	if s == nil || !s.Completed {
		return 0, 0, false, nil
	}

	var homeRaw, awayRaw *string
	for i := range s.Scores {
		switch s.Scores[i].Name {
		case home:
			homeRaw = &s.Scores[i].Score
		case away:
			awayRaw = &s.Scores[i].Score
		}
	}
	if homeRaw == nil || awayRaw == nil {
		return 0, 0, false, nil
	}

	homeGoals, err = parseGoals(*homeRaw)
	if err != nil {
		return 0, 0, false, fmt.Errorf("home score: %w", err)
	}
	awayGoals, err = parseGoals(*awayRaw)
	if err != nil {
		return 0, 0, false, fmt.Errorf("away score: %w", err)
	}

	return homeGoals, awayGoals, true, nil
}

func parseGoals(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid score %q", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative score %d", n)
	}
	return n, nil
}
