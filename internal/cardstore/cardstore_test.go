package cardstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/conorfennell/memorymaster/internal/clock"
	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/logger"
	"github.com/conorfennell/memorymaster/internal/storage"
	"github.com/conorfennell/memorymaster/internal/storage/sqlite"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, clock.Fixed(t0), logger.Nop())
}

func mustDeck(t *testing.T, s *Store, name string) *domain.Deck {
	t.Helper()
	d, err := s.CreateDeck(context.Background(), DeckInput{Name: name})
	if err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}
	return d
}

func mustCard(t *testing.T, s *Store, deckID, front string) *domain.Card {
	t.Helper()
	c, err := s.AddCard(context.Background(), deckID, domain.Content{Front: front, Back: "back of " + front})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	return c
}

func TestCreateDeckValidation(t *testing.T) {
	s := newStore(t)
	if _, err := s.CreateDeck(context.Background(), DeckInput{Name: "   "}); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("Expected ErrInvalidContent for blank name, got %v", err)
	}

	d := mustDeck(t, s, "  Spanish ")
	if d.Name != "Spanish" || d.ID == "" || !d.CreatedAt.Equal(t0) {
		t.Errorf("Unexpected deck: %+v", d)
	}
}

func TestAddCard(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := mustDeck(t, s, "D")

	c, err := s.AddCard(ctx, d.ID, domain.Content{Front: " Hola ", Back: "Hello", Tags: []string{"greeting", "", "greeting"}})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	if c.Front != "Hola" || len(c.Tags) != 1 {
		t.Errorf("Expected trimmed content and de-duplicated tags, got %+v", c.Content)
	}
	if !c.IsNew || c.Repetitions != 0 || c.LastReviewed != nil || c.Interval != 0 || c.EasinessFactor != 2.5 {
		t.Errorf("Unexpected initial schedule: %+v", c.Schedule)
	}
	if !c.DueDate.Equal(t0) {
		t.Errorf("Expected new card due immediately, got %v", c.DueDate)
	}

	testCases := []struct {
		name    string
		content domain.Content
	}{
		{name: "empty front", content: domain.Content{Back: "b"}},
		{name: "empty back", content: domain.Content{Front: "f"}},
		{name: "whitespace only", content: domain.Content{Front: " \n", Back: "\t"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.AddCard(ctx, d.ID, tc.content); !errors.Is(err, ErrInvalidContent) {
				t.Errorf("Expected ErrInvalidContent, got %v", err)
			}
		})
	}

	if _, err := s.AddCard(ctx, "missing", domain.Content{Front: "f", Back: "b"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown deck, got %v", err)
	}
}

func TestUpdateContentKeepsSchedule(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := mustDeck(t, s, "D")
	c := mustCard(t, s, d.ID, "Q")

	reviewed := t0.Add(time.Hour)
	next := domain.Schedule{EasinessFactor: 2.6, Interval: 1, Repetitions: 1, DueDate: reviewed.AddDate(0, 0, 1), LastReviewed: &reviewed}
	if _, err := s.ApplySchedule(ctx, *c, next, domain.CardStats{TotalReviews: 1, CorrectAnswers: 1}, reviewed); err != nil {
		t.Fatalf("ApplySchedule: %v", err)
	}

	updated, err := s.UpdateContent(ctx, d.ID, c.ID, domain.Content{Front: "Q2", Back: "A2"})
	if err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if updated.Front != "Q2" || updated.Repetitions != 1 || updated.IsNew {
		t.Errorf("Content edit disturbed the schedule: %+v", updated)
	}

	if _, err := s.UpdateContent(ctx, d.ID, "missing", domain.Content{Front: "f", Back: "b"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGetDueCards(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := mustDeck(t, s, "D")

	fresh := mustCard(t, s, d.ID, "fresh")
	dueSoon := mustCard(t, s, d.ID, "due-soon")
	overdue := mustCard(t, s, d.ID, "overdue")

	schedule := func(c *domain.Card, due time.Time) {
		reviewed := t0.Add(-48 * time.Hour)
		next := domain.Schedule{EasinessFactor: 2.5, Interval: 1, Repetitions: 1, DueDate: due, LastReviewed: &reviewed}
		if _, err := s.ApplySchedule(ctx, *c, next, domain.CardStats{TotalReviews: 1}, reviewed); err != nil {
			t.Fatalf("ApplySchedule: %v", err)
		}
	}
	schedule(dueSoon, t0.Add(24*time.Hour))
	schedule(overdue, t0.Add(-time.Hour))

	due, err := s.GetDueCards(ctx, d.ID, t0, false)
	if err != nil {
		t.Fatalf("GetDueCards: %v", err)
	}
	// The fresh card is due from the moment it is created.
	if ids := cardIDs(due); fmt.Sprint(ids) != fmt.Sprint([]string{fresh.ID, overdue.ID}) {
		t.Errorf("Unexpected due cards %v", ids)
	}

	later, _ := s.GetDueCards(ctx, d.ID, t0.Add(24*time.Hour), false)
	if len(later) != 3 {
		t.Errorf("Expected all 3 cards due a day later, got %d", len(later))
	}

	early, _ := s.GetDueCards(ctx, d.ID, t0.Add(-2*time.Hour), true)
	if len(early) != 1 || early[0].ID != fresh.ID {
		t.Errorf("Expected only the new card with includeNew before anything is due, got %v", cardIDs(early))
	}
}

func TestGetNewCards(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := mustDeck(t, s, "D")
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustCard(t, s, d.ID, fmt.Sprintf("card %d", i)).ID)
	}

	got, err := s.GetNewCards(ctx, d.ID, 3)
	if err != nil {
		t.Fatalf("GetNewCards: %v", err)
	}
	if fmt.Sprint(cardIDs(got)) != fmt.Sprint(ids[:3]) {
		t.Errorf("Expected first three cards in insertion order, got %v", cardIDs(got))
	}

	all, _ := s.GetNewCards(ctx, d.ID, 0)
	if len(all) != 5 {
		t.Errorf("Expected no cap with limit 0, got %d", len(all))
	}
}

func TestDeleteDeck(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := mustDeck(t, s, "D")
	mustCard(t, s, d.ID, "a")
	mustCard(t, s, d.ID, "b")

	if err := s.DeleteDeck(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDeck: %v", err)
	}

	due, err := s.GetDueCards(ctx, d.ID, t0, true)
	if err != nil || len(due) != 0 {
		t.Errorf("GetDueCards on deleted deck: expected empty, got %d (err %v)", len(due), err)
	}
	fresh, err := s.GetNewCards(ctx, d.ID, 10)
	if err != nil || len(fresh) != 0 {
		t.Errorf("GetNewCards on deleted deck: expected empty, got %d (err %v)", len(fresh), err)
	}
	if err := s.DeleteDeck(ctx, d.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Deleting twice: expected ErrNotFound, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	bad := domain.DefaultSettings()
	bad.SessionSize = 0
	if err := s.SaveSettings(ctx, bad); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("Expected ErrInvalidContent, got %v", err)
	}

	good := domain.DefaultSettings()
	good.DarkMode = true
	if err := s.SaveSettings(ctx, good); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if got, _ := s.GetSettings(ctx); !got.DarkMode {
		t.Error("Expected dark mode to be persisted")
	}
}

func TestSeed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	decks, err := s.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(decks) != 2 {
		t.Fatalf("Expected 2 sample decks, got %d", len(decks))
	}
	cards, _ := s.ListCards(ctx, decks[0].ID)
	if len(cards) != 20 {
		t.Errorf("Expected 20 cards in the first sample deck, got %d", len(cards))
	}

	again, err := s.Seed(ctx)
	if err != nil || again != nil {
		t.Errorf("Expected seeding a non-empty store to do nothing, got %v, %v", again, err)
	}
}

func cardIDs(cards []domain.Card) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}
