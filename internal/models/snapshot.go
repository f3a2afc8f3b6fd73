package models

import (
	"database/sql"
	"time"
)

// OddsSnapshot is one point-in-time capture of a bookmaker's prices for a match
type OddsSnapshot struct {
	ID        int64  `db:"id"`
	MatchID   int64  `db:"match_id"`
	Bookmaker string `db:"bookmaker"`

	// Head-to-head decimal prices
	PriceHome float64 `db:"price_home"`
	PriceDraw float64 `db:"price_draw"`
	PriceAway float64 `db:"price_away"`

	// Handicap market, null when the bookmaker did not quote it
	HandicapLine      sql.NullFloat64 `db:"handicap_line"`
	HandicapPriceHome sql.NullFloat64 `db:"handicap_price_home"`
	HandicapPriceAway sql.NullFloat64 `db:"handicap_price_away"`

	// Minutes before kickoff the collecting job targeted (60, 20 or 5)
	IntervalMarker sql.NullInt32 `db:"interval_marker"`

	CapturedAt time.Time `db:"captured_at"`
	CreatedAt  time.Time `db:"created_at"`
}

// NewSnapshot builds a snapshot from a head-to-head quote
func NewSnapshot(matchID int64, bookmaker string, h2h H2HQuote, capturedAt time.Time) *OddsSnapshot {
	return &OddsSnapshot{
		MatchID:    matchID,
		Bookmaker:  bookmaker,
		PriceHome:  h2h.Home,
		PriceDraw:  h2h.Draw,
		PriceAway:  h2h.Away,
		CapturedAt: capturedAt.UTC(),
	}
}

// ApplySpread copies a handicap quote onto the snapshot
func (s *OddsSnapshot) ApplySpread(q SpreadQuote) {
	s.HandicapLine = sql.NullFloat64{Float64: q.Line, Valid: true}
	s.HandicapPriceHome = sql.NullFloat64{Float64: q.Home, Valid: true}
	s.HandicapPriceAway = sql.NullFloat64{Float64: q.Away, Valid: true}
}

// HasHandicap reports whether handicap data was captured
func (s *OddsSnapshot) HasHandicap() bool {
	return s.HandicapLine.Valid
}
