// Package stats derives study statistics from the card store and the history log.
//
// Every day boundary is a UTC calendar day.
package stats

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/conorfennell/memorymaster/internal/clock"
	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/history"
)

// CardSource is the read side of the card store.
type CardSource interface {
	GetDeck(ctx context.Context, id string) (*domain.Deck, error)
	ListDecks(ctx context.Context) ([]domain.Deck, error)
	ListCards(ctx context.Context, deckID string) ([]domain.Card, error)
}

// HistorySource is the read side of the history log.
type HistorySource interface {
	Query(ctx context.Context, f history.Filter) iter.Seq2[domain.StudyHistoryEntry, error]
}

// Range is a trailing window of days ending today.
type Range int

const (
	Week  Range = 7
	Month Range = 30
	Year  Range = 365
)

// ParseRange accepts "week", "month" or "year".
func ParseRange(s string) (Range, error) {
	switch s {
	case "week":
		return Week, nil
	case "month":
		return Month, nil
	case "year":
		return Year, nil
	}
	return 0, fmt.Errorf("unknown range %q (want week, month or year)", s)
}

// Days returns the window length.
func (r Range) Days() int { return int(r) }

// DeckStats summarises one deck.
type DeckStats struct {
	TotalCards        int     `json:"totalCards"`
	NewCards          int     `json:"newCards"`
	DueCards          int     `json:"dueCards"`
	MasteredCards     int     `json:"masteredCards"`
	TotalReviews      int     `json:"totalReviews"`
	Accuracy          float64 `json:"accuracy"` // percent, one decimal
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
}

// DayActivity is one bucket of DailyActivity.
type DayActivity struct {
	Day               time.Time `json:"day"` // midnight UTC
	Sessions          int       `json:"sessions"`
	Accuracy          float64   `json:"accuracy"`
	AvgResponseTimeMs float64   `json:"avgResponseTimeMs"`
}

// Engine computes statistics. It never writes.
type Engine struct {
	cards   CardSource
	history HistorySource
	clock   clock.Clock
}

// New returns an Engine.
func New(cards CardSource, hist HistorySource, clk clock.Clock) *Engine {
	return &Engine{cards: cards, history: hist, clock: clk}
}

// dayOf truncates t to midnight of its UTC calendar day.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (e *Engine) today() time.Time { return dayOf(e.clock.Now()) }

func round1(x float64) float64 { return math.Round(x*10) / 10 }

type tally struct {
	total, correct int
	responseMs     int64
}

func (t *tally) add(entry domain.StudyHistoryEntry) {
	t.total++
	if entry.WasCorrect {
		t.correct++
	}
	t.responseMs += entry.ResponseTimeMs
}

func (t tally) accuracy() float64 {
	if t.total == 0 {
		return 0
	}
	return round1(float64(t.correct) / float64(t.total) * 100)
}

func (t tally) avgResponse() float64 {
	if t.total == 0 {
		return 0
	}
	return math.Round(float64(t.responseMs) / float64(t.total))
}

// StudiedToday counts today's reviews. An empty deckID counts every deck.
func (e *Engine) StudiedToday(ctx context.Context, deckID string) (int, error) {
	today := e.today()
	n := 0
	for entry, err := range e.history.Query(ctx, history.Filter{DeckID: deckID, Since: today}) {
		if err != nil {
			return 0, err
		}
		if dayOf(entry.Timestamp).Equal(today) {
			n++
		}
	}
	return n, nil
}

// StudyStreak counts consecutive days with at least one review, ending today.
// It is zero when nothing has been reviewed today.
func (e *Engine) StudyStreak(ctx context.Context) (int, error) {
	days := make(map[time.Time]bool)
	for entry, err := range e.history.Query(ctx, history.Filter{}) {
		if err != nil {
			return 0, err
		}
		days[dayOf(entry.Timestamp)] = true
	}

	streak := 0
	for day := e.today(); days[day]; day = day.AddDate(0, 0, -1) {
		streak++
	}
	return streak, nil
}

// DeckStatistics summarises a deck's cards and its review history.
func (e *Engine) DeckStatistics(ctx context.Context, deckID string) (*DeckStats, error) {
	if _, err := e.cards.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}
	cards, err := e.cards.ListCards(ctx, deckID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	s := &DeckStats{TotalCards: len(cards)}
	for _, c := range cards {
		if c.IsNew {
			s.NewCards++
		}
		if c.IsDue(now) {
			s.DueCards++
		}
		if c.IsMastered() {
			s.MasteredCards++
		}
	}

	var t tally
	for entry, err := range e.history.Query(ctx, history.Filter{DeckID: deckID}) {
		if err != nil {
			return nil, err
		}
		t.add(entry)
	}
	s.TotalReviews = t.total
	s.Accuracy = t.accuracy()
	s.AvgResponseTimeMs = t.avgResponse()
	return s, nil
}

// DailyActivity buckets the trailing window by day, oldest first. Days without
// reviews are included with zero values.
func (e *Engine) DailyActivity(ctx context.Context, r Range, deckID string) ([]DayActivity, error) {
	n := r.Days()
	if n <= 0 {
		return nil, fmt.Errorf("invalid range of %d days", n)
	}
	today := e.today()
	start := today.AddDate(0, 0, -(n - 1))

	tallies := make(map[time.Time]*tally, n)
	for entry, err := range e.history.Query(ctx, history.Filter{DeckID: deckID, Since: start}) {
		if err != nil {
			return nil, err
		}
		day := dayOf(entry.Timestamp)
		if day.After(today) {
			continue
		}
		t, ok := tallies[day]
		if !ok {
			t = &tally{}
			tallies[day] = t
		}
		t.add(entry)
	}

	out := make([]DayActivity, 0, n)
	for day := start; !day.After(today); day = day.AddDate(0, 0, 1) {
		a := DayActivity{Day: day}
		if t, ok := tallies[day]; ok {
			a.Sessions = t.total
			a.Accuracy = t.accuracy()
			a.AvgResponseTimeMs = t.avgResponse()
		}
		out = append(out, a)
	}
	return out, nil
}

// Overview aggregates the window used by DailyActivity.
type Overview struct {
	TotalSessions     int     `json:"totalSessions"`
	Accuracy          float64 `json:"accuracy"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	Streak            int     `json:"streak"`
	StudiedToday      int     `json:"studiedToday"`
}

// Overview totals reviews in the trailing window and adds the streak and today's
// count. An empty deckID covers every deck; the streak always covers every deck.
func (e *Engine) Overview(ctx context.Context, r Range, deckID string) (*Overview, error) {
	n := r.Days()
	if n <= 0 {
		return nil, fmt.Errorf("invalid range of %d days", n)
	}
	today := e.today()
	start := today.AddDate(0, 0, -(n - 1))

	var t tally
	for entry, err := range e.history.Query(ctx, history.Filter{DeckID: deckID, Since: start}) {
		if err != nil {
			return nil, err
		}
		if dayOf(entry.Timestamp).After(today) {
			continue
		}
		t.add(entry)
	}
	o := &Overview{
		TotalSessions:     t.total,
		Accuracy:          t.accuracy(),
		AvgResponseTimeMs: t.avgResponse(),
	}

	var err error
	if o.Streak, err = e.StudyStreak(ctx); err != nil {
		return nil, err
	}
	if o.StudiedToday, err = e.StudiedToday(ctx, deckID); err != nil {
		return nil, err
	}
	return o, nil
}
