package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/memorymaster/internal/cardstore"
	"github.com/conorfennell/memorymaster/internal/clock"
	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/history"
	"github.com/conorfennell/memorymaster/internal/logger"
	"github.com/conorfennell/memorymaster/internal/storage"
	"github.com/conorfennell/memorymaster/internal/storage/sqlite"
)

// now is late in the UTC day so that "today" is unambiguous.
var now = time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store  *cardstore.Store
	log    *history.Log
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.Fixed(now)
	store := cardstore.New(db, clk, logger.Nop())
	log := history.New(db)
	return &fixture{store: store, log: log, engine: New(store, log, clk)}
}

func (f *fixture) review(t *testing.T, deckID string, q int, responseMs int64, at time.Time) {
	t.Helper()
	e := domain.StudyHistoryEntry{DeckID: deckID, CardID: "card", Quality: q, ResponseTimeMs: responseMs, Timestamp: at}
	if err := f.log.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func daysAgo(n int) time.Time {
	return now.AddDate(0, 0, -n)
}

func TestStudyStreak(t *testing.T) {
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		f := newFixture(t)
		if got, _ := f.engine.StudyStreak(ctx); got != 0 {
			t.Errorf("Expected 0, got %d", got)
		}
	})

	t.Run("zero without a review today", func(t *testing.T) {
		f := newFixture(t)
		for i := 1; i <= 365; i++ {
			f.review(t, "d", 4, 1000, daysAgo(i))
		}
		got, err := f.engine.StudyStreak(ctx)
		if err != nil {
			t.Fatalf("StudyStreak: %v", err)
		}
		if got != 0 {
			t.Errorf("Expected 0 when today has no entry, got %d", got)
		}
	})

	t.Run("consecutive days ending today", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 5; i++ {
			f.review(t, "d", 4, 1000, daysAgo(i))
			f.review(t, "d", 1, 1000, daysAgo(i).Add(-time.Hour))
		}
		if got, _ := f.engine.StudyStreak(ctx); got != 5 {
			t.Errorf("Expected 5, got %d", got)
		}
	})

	t.Run("gap resets", func(t *testing.T) {
		f := newFixture(t)
		for i := 2; i < 10; i++ {
			f.review(t, "d", 4, 1000, daysAgo(i))
		}
		f.review(t, "d", 4, 1000, now)
		if got, _ := f.engine.StudyStreak(ctx); got != 1 {
			t.Errorf("Expected 1 after a gap day, got %d", got)
		}
	})

	t.Run("longer than a year", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 400; i++ {
			f.review(t, "d", 4, 1000, daysAgo(i))
		}
		if got, _ := f.engine.StudyStreak(ctx); got != 400 {
			t.Errorf("Expected 400, got %d", got)
		}
	})
}

func TestStudiedTodayUsesUTCDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	midnight := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	f.review(t, "d1", 4, 1000, midnight)
	f.review(t, "d1", 4, 1000, midnight.Add(-time.Nanosecond)) // yesterday
	f.review(t, "d2", 4, 1000, now.Add(-time.Hour))
	// 22:00 on the 14th in UTC-3 is 01:00 on the 15th UTC.
	f.review(t, "d2", 4, 1000, time.Date(2024, 6, 14, 22, 0, 0, 0, time.FixedZone("UTC-3", -3*3600)))

	all, err := f.engine.StudiedToday(ctx, "")
	if err != nil {
		t.Fatalf("StudiedToday: %v", err)
	}
	if all != 3 {
		t.Errorf("Expected 3 reviews today, got %d", all)
	}
	if d1, _ := f.engine.StudiedToday(ctx, "d1"); d1 != 1 {
		t.Errorf("Expected 1 review today in d1, got %d", d1)
	}
}

func TestDeckStatistics(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown deck", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.engine.DeckStatistics(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("no history", func(t *testing.T) {
		f := newFixture(t)
		d, _ := f.store.CreateDeck(ctx, cardstore.DeckInput{Name: "D"})
		f.store.AddCard(ctx, d.ID, domain.Content{Front: "f", Back: "b"})

		s, err := f.engine.DeckStatistics(ctx, d.ID)
		if err != nil {
			t.Fatalf("DeckStatistics: %v", err)
		}
		if s.Accuracy != 0 || s.TotalReviews != 0 || s.AvgResponseTimeMs != 0 {
			t.Errorf("Expected zeroed review stats, got %+v", s)
		}
		if s.TotalCards != 1 || s.NewCards != 1 || s.DueCards != 1 {
			t.Errorf("Unexpected card counts %+v", s)
		}
	})

	t.Run("all correct", func(t *testing.T) {
		f := newFixture(t)
		d, _ := f.store.CreateDeck(ctx, cardstore.DeckInput{Name: "D"})
		f.review(t, d.ID, 3, 1000, daysAgo(1))
		f.review(t, d.ID, 5, 2000, now)
		f.review(t, "other", 0, 9000, now)

		s, err := f.engine.DeckStatistics(ctx, d.ID)
		if err != nil {
			t.Fatalf("DeckStatistics: %v", err)
		}
		if s.Accuracy != 100 || s.TotalReviews != 2 || s.AvgResponseTimeMs != 1500 {
			t.Errorf("Unexpected review stats %+v", s)
		}
	})

	t.Run("mastery and due", func(t *testing.T) {
		f := newFixture(t)
		d, _ := f.store.CreateDeck(ctx, cardstore.DeckInput{Name: "D"})

		apply := func(ef float64, reps int, due time.Time) {
			c, err := f.store.AddCard(ctx, d.ID, domain.Content{Front: "f", Back: "b"})
			if err != nil {
				t.Fatalf("AddCard: %v", err)
			}
			reviewed := daysAgo(3)
			next := domain.Schedule{EasinessFactor: ef, Interval: 10, Repetitions: reps, DueDate: due, LastReviewed: &reviewed}
			if _, err := f.store.ApplySchedule(ctx, *c, next, domain.CardStats{}, reviewed); err != nil {
				t.Fatalf("ApplySchedule: %v", err)
			}
		}
		apply(2.5, 3, now.AddDate(0, 0, 10)) // mastered
		apply(2.7, 5, now.Add(-time.Minute)) // mastered and due
		apply(2.4, 5, now.AddDate(0, 0, 2))  // easiness too low
		apply(2.6, 2, now.AddDate(0, 0, 2))  // too few repetitions
		f.store.AddCard(ctx, d.ID, domain.Content{Front: "f", Back: "b"})

		s, err := f.engine.DeckStatistics(ctx, d.ID)
		if err != nil {
			t.Fatalf("DeckStatistics: %v", err)
		}
		want := DeckStats{TotalCards: 5, NewCards: 1, DueCards: 2, MasteredCards: 2}
		if *s != want {
			t.Errorf("Expected %+v, got %+v", want, *s)
		}
	})

	t.Run("accuracy rounds to one decimal", func(t *testing.T) {
		f := newFixture(t)
		d, _ := f.store.CreateDeck(ctx, cardstore.DeckInput{Name: "D"})
		f.review(t, d.ID, 4, 1000, now)
		f.review(t, d.ID, 4, 1000, now)
		f.review(t, d.ID, 1, 1001, now)

		s, _ := f.engine.DeckStatistics(ctx, d.ID)
		if s.Accuracy != 66.7 {
			t.Errorf("Expected 66.7, got %v", s.Accuracy)
		}
		if s.AvgResponseTimeMs != 1000 {
			t.Errorf("Expected 1000, got %v", s.AvgResponseTimeMs)
		}
	})
}

func TestDailyActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.review(t, "d", 5, 1000, now)
	f.review(t, "d", 1, 3000, now.Add(-time.Hour))
	f.review(t, "d", 4, 500, daysAgo(6))
	f.review(t, "d", 4, 500, daysAgo(7)) // outside the week

	days, err := f.engine.DailyActivity(ctx, Week, "")
	if err != nil {
		t.Fatalf("DailyActivity: %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("Expected 7 buckets, got %d", len(days))
	}
	if first := days[0]; !first.Day.Equal(dayOf(daysAgo(6))) || first.Sessions != 1 || first.Accuracy != 100 {
		t.Errorf("Unexpected oldest bucket %+v", first)
	}
	for _, d := range days[1:6] {
		if d.Sessions != 0 || d.Accuracy != 0 || d.AvgResponseTimeMs != 0 {
			t.Errorf("Expected empty bucket for %v, got %+v", d.Day, d)
		}
	}
	last := days[6]
	if last.Sessions != 2 || last.Accuracy != 50 || last.AvgResponseTimeMs != 2000 {
		t.Errorf("Unexpected bucket for today %+v", last)
	}

	for _, r := range []Range{Month, Year} {
		got, err := f.engine.DailyActivity(ctx, r, "")
		if err != nil || len(got) != r.Days() {
			t.Errorf("Range %d: expected %d buckets, got %d (err %v)", r, r.Days(), len(got), err)
		}
	}
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.review(t, "d", 5, 1000, now)
	f.review(t, "d", 2, 2000, daysAgo(1))
	f.review(t, "d", 4, 3000, daysAgo(40))

	o, err := f.engine.Overview(ctx, Month, "")
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	want := Overview{TotalSessions: 2, Accuracy: 50, AvgResponseTimeMs: 1500, Streak: 2, StudiedToday: 1}
	if *o != want {
		t.Errorf("Expected %+v, got %+v", want, *o)
	}
}

func TestOverviewIgnoresFutureEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.review(t, "d", 5, 1000, now.AddDate(0, 0, 2))

	o, err := f.engine.Overview(ctx, Week, "")
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	days, err := f.engine.DailyActivity(ctx, Week, "")
	if err != nil {
		t.Fatalf("DailyActivity: %v", err)
	}
	total := 0
	for _, d := range days {
		total += d.Sessions
	}
	if o.TotalSessions != 0 || total != 0 {
		t.Errorf("Expected entries after today to be ignored, got overview %d and daily total %d", o.TotalSessions, total)
	}
}

func TestParseRange(t *testing.T) {
	for s, want := range map[string]Range{"week": Week, "month": Month, "year": Year} {
		if got, err := ParseRange(s); err != nil || got != want {
			t.Errorf("ParseRange(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseRange("decade"); err == nil {
		t.Error("Expected an error for an unknown range")
	}
}

func TestAchievements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, _ := f.store.CreateDeck(ctx, cardstore.DeckInput{Name: "Verbs"})
	c, _ := f.store.AddCard(ctx, d.ID, domain.Content{Front: "f", Back: "b"})
	reviewed := daysAgo(1)
	next := domain.Schedule{EasinessFactor: 2.6, Interval: 15, Repetitions: 3, DueDate: now.AddDate(0, 0, 14), LastReviewed: &reviewed}
	if _, err := f.store.ApplySchedule(ctx, *c, next, domain.CardStats{}, reviewed); err != nil {
		t.Fatalf("ApplySchedule: %v", err)
	}

	for i := 0; i < 100; i++ {
		f.review(t, d.ID, 5, 1000, daysAgo(i%8))
	}

	got, err := f.engine.Achievements(ctx)
	if err != nil {
		t.Fatalf("Achievements: %v", err)
	}
	keys := make(map[string]bool)
	for _, a := range got {
		keys[a.Key] = true
	}
	for _, k := range []string{"streak-7", "reviews-100", "accuracy-90", "mastery:" + d.ID} {
		if !keys[k] {
			t.Errorf("Expected achievement %s, got %v", k, got)
		}
	}
	for _, k := range []string{"streak-30", "reviews-500"} {
		if keys[k] {
			t.Errorf("Did not expect achievement %s", k)
		}
	}
}
