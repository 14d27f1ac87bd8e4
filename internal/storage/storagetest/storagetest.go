// Package storagetest holds the behaviour every storage.Backend must share.
// Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/storage"
)

var t0 = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

// Run exercises a fresh backend returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Backend) {
	t.Run("deck round trip", func(t *testing.T) { testDeckRoundTrip(t, open(t)) })
	t.Run("missing records", func(t *testing.T) { testMissing(t, open(t)) })
	t.Run("card insertion order", func(t *testing.T) { testCardOrder(t, open(t)) })
	t.Run("card update", func(t *testing.T) { testCardUpdate(t, open(t)) })
	t.Run("delete deck cascades", func(t *testing.T) { testDeleteDeck(t, open(t)) })
	t.Run("history ordering", func(t *testing.T) { testHistoryOrdering(t, open(t)) })
	t.Run("history filter", func(t *testing.T) { testHistoryFilter(t, open(t)) })
	t.Run("history paging", func(t *testing.T) { testHistoryPaging(t, open(t)) })
	t.Run("settings", func(t *testing.T) { testSettings(t, open(t)) })
}

func mustDeck(t *testing.T, b storage.Backend, id string) *domain.Deck {
	t.Helper()
	d := &domain.Deck{
		ID:          id,
		Name:        "Deck " + id,
		Description: "desc",
		Tags:        []string{"lang"},
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
	if err := b.CreateDeck(context.Background(), d); err != nil {
		t.Fatalf("CreateDeck(%s): %v", id, err)
	}
	return d
}

func mustCard(t *testing.T, b storage.Backend, deckID, id string) *domain.Card {
	t.Helper()
	c := &domain.Card{
		ID:        id,
		DeckID:    deckID,
		Content:   domain.Content{Front: "front " + id, Back: "back " + id, Tags: []string{"a", "b"}},
		Schedule:  domain.NewSchedule(t0),
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	if err := b.CreateCard(context.Background(), c); err != nil {
		t.Fatalf("CreateCard(%s): %v", id, err)
	}
	return c
}

func collect(t *testing.T, b storage.Backend, f storage.HistoryFilter) []domain.StudyHistoryEntry {
	t.Helper()
	var out []domain.StudyHistoryEntry
	for e, err := range b.QueryHistory(context.Background(), f) {
		if err != nil {
			t.Fatalf("QueryHistory: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func testDeckRoundTrip(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustDeck(t, b, "d1")
	mustDeck(t, b, "d2")
	mustDeck(t, b, "a3")

	got, err := b.GetDeck(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDeck: %v", err)
	}
	if got.Name != "Deck d1" || got.Description != "desc" || len(got.Tags) != 1 || !got.CreatedAt.Equal(t0) {
		t.Errorf("Unexpected deck: %+v", got)
	}

	got.Name = "Renamed"
	got.UpdatedAt = t0.Add(time.Hour)
	if err := b.UpdateDeck(ctx, got); err != nil {
		t.Fatalf("UpdateDeck: %v", err)
	}
	again, _ := b.GetDeck(ctx, "d1")
	if again.Name != "Renamed" {
		t.Errorf("Expected renamed deck, got %q", again.Name)
	}

	decks, err := b.ListDecks(ctx)
	if err != nil {
		t.Fatalf("ListDecks: %v", err)
	}
	// Same creation time for all three: only insertion order can rank them.
	if len(decks) != 3 || decks[0].ID != "d1" || decks[1].ID != "d2" || decks[2].ID != "a3" {
		t.Fatalf("Expected decks d1, d2, a3 in insertion order, got %+v", decks)
	}
}

func testMissing(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	if _, err := b.GetDeck(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetDeck: expected ErrNotFound, got %v", err)
	}
	if err := b.UpdateDeck(ctx, &domain.Deck{ID: "nope", Name: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateDeck: expected ErrNotFound, got %v", err)
	}
	if err := b.DeleteDeck(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteDeck: expected ErrNotFound, got %v", err)
	}
	if _, err := b.GetCard(ctx, "nope", "c"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCard: expected ErrNotFound, got %v", err)
	}

	card := &domain.Card{ID: "c", DeckID: "nope", Content: domain.Content{Front: "f", Back: "b"}, Schedule: domain.NewSchedule(t0)}
	if err := b.CreateCard(ctx, card); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CreateCard on missing deck: expected ErrNotFound, got %v", err)
	}
	if err := b.UpdateCard(ctx, card); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateCard: expected ErrNotFound, got %v", err)
	}
	if err := b.DeleteCard(ctx, "nope", "c"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteCard: expected ErrNotFound, got %v", err)
	}

	cards, err := b.ListCards(ctx, "nope")
	if err != nil || len(cards) != 0 {
		t.Errorf("ListCards on missing deck: expected empty, got %d cards, err %v", len(cards), err)
	}
}

func testCardOrder(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustDeck(t, b, "d1")
	ids := []string{"z", "a", "m", "b"}
	for _, id := range ids {
		mustCard(t, b, "d1", id)
	}

	cards, err := b.ListCards(ctx, "d1")
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != len(ids) {
		t.Fatalf("Expected %d cards, got %d", len(ids), len(cards))
	}
	for i, c := range cards {
		if c.ID != ids[i] {
			t.Errorf("Position %d: expected %s, got %s", i, ids[i], c.ID)
		}
	}

	if err := b.DeleteCard(ctx, "d1", "a"); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	cards, _ = b.ListCards(ctx, "d1")
	if len(cards) != 3 || cards[0].ID != "z" || cards[1].ID != "m" {
		t.Errorf("Unexpected cards after delete: %+v", cards)
	}
}

func testCardUpdate(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustDeck(t, b, "d1")
	c := mustCard(t, b, "d1", "c1")

	got, err := b.GetCard(ctx, "d1", "c1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if !got.IsNew || got.LastReviewed != nil || got.EasinessFactor != domain.DefaultEasinessFactor {
		t.Errorf("Unexpected fresh card state: %+v", got.Schedule)
	}
	if len(got.Tags) != 2 || got.Front != c.Front {
		t.Errorf("Unexpected fresh card content: %+v", got.Content)
	}

	reviewed := t0.Add(90 * time.Minute)
	got.Schedule = domain.Schedule{
		EasinessFactor: 2.6,
		Interval:       6,
		Repetitions:    2,
		DueDate:        reviewed.AddDate(0, 0, 6),
		LastReviewed:   &reviewed,
	}
	got.Stats = domain.CardStats{TotalReviews: 2, CorrectAnswers: 2, AvgResponseTimeMs: 1500.5}
	got.UpdatedAt = reviewed
	if err := b.UpdateCard(ctx, got); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}

	again, err := b.GetCard(ctx, "d1", "c1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if again.IsNew || again.Repetitions != 2 || again.Interval != 6 || again.EasinessFactor != 2.6 {
		t.Errorf("Schedule not persisted: %+v", again.Schedule)
	}
	if again.LastReviewed == nil || !again.LastReviewed.Equal(reviewed) {
		t.Errorf("Expected last reviewed %v, got %v", reviewed, again.LastReviewed)
	}
	if !again.DueDate.Equal(reviewed.AddDate(0, 0, 6)) || again.DueDate.Location() != time.UTC {
		t.Errorf("Unexpected due date %v", again.DueDate)
	}
	if again.Stats != got.Stats {
		t.Errorf("Expected stats %+v, got %+v", got.Stats, again.Stats)
	}
}

func testDeleteDeck(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustDeck(t, b, "d1")
	mustDeck(t, b, "d2")
	for i := 0; i < 5; i++ {
		mustCard(t, b, "d1", fmt.Sprintf("c%d", i))
	}
	mustCard(t, b, "d2", "keep")

	if err := b.DeleteDeck(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDeck: %v", err)
	}

	if _, err := b.GetDeck(ctx, "d1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected deleted deck to be gone, got %v", err)
	}
	cards, err := b.ListCards(ctx, "d1")
	if err != nil || len(cards) != 0 {
		t.Errorf("Expected no cards for deleted deck, got %d (err %v)", len(cards), err)
	}
	if _, err := b.GetCard(ctx, "d1", "c0"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected cascaded card to be gone, got %v", err)
	}

	other, _ := b.ListCards(ctx, "d2")
	if len(other) != 1 {
		t.Errorf("Expected other deck untouched, got %d cards", len(other))
	}
	decks, _ := b.ListDecks(ctx)
	if len(decks) != 1 || decks[0].ID != "d2" {
		t.Errorf("Unexpected decks after delete: %+v", decks)
	}
}

func entry(deck, card string, q int, at time.Time) domain.StudyHistoryEntry {
	return domain.StudyHistoryEntry{
		DeckID:         deck,
		CardID:         card,
		Quality:        q,
		ResponseTimeMs: int64(1000 + q),
		Timestamp:      at,
		WasCorrect:     q >= 3,
	}
}

func testHistoryOrdering(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	appends := []domain.StudyHistoryEntry{
		entry("d1", "late", 4, t0.Add(2*time.Hour)),
		entry("d1", "tie-first", 5, t0.Add(time.Hour)),
		entry("d2", "early", 1, t0),
		entry("d1", "tie-second", 3, t0.Add(time.Hour)),
	}
	for _, e := range appends {
		if err := b.AppendHistory(ctx, e); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	got := collect(t, b, storage.HistoryFilter{})
	want := []string{"early", "tie-first", "tie-second", "late"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.CardID != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], e.CardID)
		}
	}
	if got[0].WasCorrect || !got[3].WasCorrect || got[3].ResponseTimeMs != 1004 {
		t.Errorf("Entry fields not preserved: %+v", got)
	}

	// The sequence is restartable.
	if again := collect(t, b, storage.HistoryFilter{}); len(again) != len(got) {
		t.Errorf("Second iteration yielded %d entries, expected %d", len(again), len(got))
	}

	// Early exit does not break later queries.
	for range b.QueryHistory(ctx, storage.HistoryFilter{}) {
		break
	}
	if again := collect(t, b, storage.HistoryFilter{}); len(again) != len(got) {
		t.Errorf("Iteration after early exit yielded %d entries", len(again))
	}
}

func testHistoryFilter(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		deck := "d1"
		if i%2 == 1 {
			deck = "d2"
		}
		if err := b.AppendHistory(ctx, entry(deck, fmt.Sprintf("c%d", i), 4, t0.AddDate(0, 0, i))); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	if got := collect(t, b, storage.HistoryFilter{DeckID: "d2"}); len(got) != 3 {
		t.Errorf("Deck filter: expected 3 entries, got %d", len(got))
	}
	since := t0.AddDate(0, 0, 3)
	got := collect(t, b, storage.HistoryFilter{Since: since})
	if len(got) != 3 || got[0].CardID != "c3" {
		t.Errorf("Since filter: expected c3..c5, got %+v", got)
	}
	if got := collect(t, b, storage.HistoryFilter{DeckID: "d1", Since: since}); len(got) != 1 || got[0].CardID != "c4" {
		t.Errorf("Combined filter: expected only c4, got %+v", got)
	}
}

func testHistoryPaging(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	const n = 600
	for i := 0; i < n; i++ {
		// Several entries share each timestamp.
		at := t0.Add(time.Duration(i/3) * time.Second)
		if err := b.AppendHistory(ctx, entry("d1", fmt.Sprintf("c%04d", i), 4, at)); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	got := collect(t, b, storage.HistoryFilter{DeckID: "d1"})
	if len(got) != n {
		t.Fatalf("Expected %d entries, got %d", n, len(got))
	}
	for i, e := range got {
		if want := fmt.Sprintf("c%04d", i); e.CardID != want {
			t.Fatalf("Position %d: expected %s, got %s", i, want, e.CardID)
		}
	}
}

func testSettings(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	got, err := b.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got != domain.DefaultSettings() {
		t.Errorf("Expected defaults before save, got %+v", got)
	}

	want := domain.Settings{
		MaxNewCardsPerSession:    5,
		MaxReviewCardsPerSession: 40,
		SessionSize:              25,
		EasyBonus:                1.5,
		IntervalModifier:         0.9,
		DarkMode:                 true,
	}
	if err := b.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if got, _ := b.GetSettings(ctx); got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}
