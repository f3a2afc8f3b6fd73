package models

import "fmt"

// MarketKind is the provider's market key
type MarketKind string

const (
	MarketH2H     MarketKind = "h2h"
	MarketSpreads MarketKind = "spreads"
)

// DrawLabel is the outcome name the provider uses for a draw
const DrawLabel = "Draw"

// Quote is an interpreted bookmaker market. It is one of H2HQuote,
// SpreadQuote or AbsentQuote.
type Quote interface {
	Kind() MarketKind
	quote()
}

// H2HQuote holds home/draw/away prices
type H2HQuote struct {
	Home float64
	Draw float64
	Away float64
}

// SpreadQuote holds a handicap line (from the home side) and both prices
type SpreadQuote struct {
	Line float64
	Home float64
	Away float64
}

// AbsentQuote means the bookmaker did not offer the market
type AbsentQuote struct {
	Market MarketKind
}

func (H2HQuote) Kind() MarketKind      { return MarketH2H }
func (SpreadQuote) Kind() MarketKind   { return MarketSpreads }
func (q AbsentQuote) Kind() MarketKind { return q.Market }

func (H2HQuote) quote()    {}
func (SpreadQuote) quote() {}
func (AbsentQuote) quote() {}

// Market returns the bookmaker's raw market of the given kind
func (b *Bookmaker) Market(kind MarketKind) (Market, bool) {
	for _, m := range b.Markets {
		if m.Key == kind {
			return m, true
		}
	}
	return Market{}, false
}

// Quote interprets the bookmaker's market of the given kind for a fixture.
// A missing market yields AbsentQuote; a market that is present but cannot
// be matched to the fixture yields an error.
func (b *Bookmaker) Quote(kind MarketKind, home, away string) (Quote, error) {
	m, ok := b.Market(kind)
	if !ok {
		return AbsentQuote{Market: kind}, nil
	}

	switch kind {
	case MarketH2H:
		return parseH2H(m, home, away)
	case MarketSpreads:
		return parseSpreads(m, home, away)
	default:
		return nil, fmt.Errorf("unsupported market %q", kind)
	}
}

func parseH2H(m Market, home, away string) (Quote, error) {
	if len(m.Outcomes) != 3 {
		return nil, fmt.Errorf("h2h market has %d outcomes, want 3", len(m.Outcomes))
	}

	var q H2HQuote
	seen := make(map[string]bool, 3)
	for _, o := range m.Outcomes {
		if seen[o.Name] {
			return nil, fmt.Errorf("h2h outcome %q repeated", o.Name)
		}
		seen[o.Name] = true
		if o.Price <= 0 {
			return nil, fmt.Errorf("h2h outcome %q has price %v", o.Name, o.Price)
		}

		switch o.Name {
		case home:
			q.Home = o.Price
		case away:
			q.Away = o.Price
		case DrawLabel:
			q.Draw = o.Price
		default:
			return nil, fmt.Errorf("h2h outcome %q matches neither %q, %q nor %q", o.Name, home, away, DrawLabel)
		}
	}

	return q, nil
}

func parseSpreads(m Market, home, away string) (Quote, error) {
	if len(m.Outcomes) != 2 {
		return nil, fmt.Errorf("spreads market has %d outcomes, want 2", len(m.Outcomes))
	}

	var (
		q                  SpreadQuote
		haveHome, haveAway bool
	)
	for _, o := range m.Outcomes {
		switch o.Name {
		case home:
			if o.Point == nil {
				return nil, fmt.Errorf("spreads outcome %q has no point", o.Name)
			}
			q.Line = *o.Point
			q.Home = o.Price
			haveHome = true
		case away:
			q.Away = o.Price
			haveAway = true
		}
	}
	if !haveHome || !haveAway {
		return nil, fmt.Errorf("spreads outcomes do not match %q and %q", home, away)
	}

	return q, nil
}
