package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/sm2"
	"github.com/conorfennell/memorymaster/internal/storage/sqlite"
)

func TestAppendAndQuery(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	defer db.Close()
	log := New(db)
	ctx := context.Background()

	local := time.FixedZone("UTC-5", -5*60*60)
	base := time.Date(2024, 1, 1, 20, 0, 0, 0, local)
	for i, q := range []int{4, 2, 3} {
		e := domain.StudyHistoryEntry{DeckID: "d1", CardID: "c", Quality: q, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := Collect(log.Query(ctx, Filter{DeckID: "d1"}))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	wantCorrect := []bool{true, false, true}
	for i, e := range entries {
		if e.WasCorrect != wantCorrect[i] {
			t.Errorf("Entry %d: expected WasCorrect=%v", i, wantCorrect[i])
		}
		if e.Timestamp.Location() != time.UTC {
			t.Errorf("Entry %d: expected UTC timestamp, got %v", i, e.Timestamp.Location())
		}
	}
	// 20:00 at UTC-5 is already the next UTC day.
	if d := entries[0].Timestamp.Day(); d != 2 {
		t.Errorf("Expected entry on January 2nd UTC, got day %d", d)
	}

	since, err := Collect(log.Query(ctx, Filter{Since: base.Add(90 * time.Second)}))
	if err != nil || len(since) != 1 {
		t.Errorf("Expected 1 entry since 20:01:30, got %d (err %v)", len(since), err)
	}
}

func TestAppendRejectsInvalidQuality(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	defer db.Close()
	log := New(db)
	ctx := context.Background()

	for _, q := range []int{-1, 6, 9} {
		e := domain.StudyHistoryEntry{DeckID: "d1", CardID: "c", Quality: q, Timestamp: time.Now()}
		if err := log.Append(ctx, e); !errors.Is(err, sm2.ErrInvalidQuality) {
			t.Errorf("quality %d: expected ErrInvalidQuality, got %v", q, err)
		}
	}

	entries, err := Collect(log.Query(ctx, Filter{}))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected rejected entries not to be stored, got %+v", entries)
	}
}
