package sm2

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/conorfennell/memorymaster/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func newSchedule() domain.Schedule {
	return domain.NewSchedule(t0)
}

func mustNext(t *testing.T, s domain.Schedule, q Quality, now time.Time) domain.Schedule {
	t.Helper()
	next, err := NextState(s, q, now)
	if err != nil {
		t.Fatalf("NextState(%v): %v", q, err)
	}
	return next
}

func TestNextStateIncorrect(t *testing.T) {
	for _, q := range []Quality{Blackout, Wrong, WrongFamiliar} {
		t.Run(q.String(), func(t *testing.T) {
			start := domain.Schedule{EasinessFactor: 2.5, Interval: 15, Repetitions: 4}
			next := mustNext(t, start, q, t0)

			if next.Repetitions != 0 {
				t.Errorf("Expected repetitions to reset to 0, got %d", next.Repetitions)
			}
			if next.Interval != 1 {
				t.Errorf("Expected interval 1, got %d", next.Interval)
			}
			if next.EasinessFactor > start.EasinessFactor {
				t.Errorf("Expected easiness not to grow, got %.2f", next.EasinessFactor)
			}
			if next.EasinessFactor < MinEasinessFactor {
				t.Errorf("Easiness %.2f fell below the floor", next.EasinessFactor)
			}
		})
	}
}

func TestEasinessFloor(t *testing.T) {
	s := domain.Schedule{EasinessFactor: 1.4}
	for i := 0; i < 5; i++ {
		s = mustNext(t, s, Blackout, t0)
	}
	if s.EasinessFactor != MinEasinessFactor {
		t.Errorf("Expected easiness to settle at %.1f, got %.2f", MinEasinessFactor, s.EasinessFactor)
	}
}

func TestNextStateCorrectProgression(t *testing.T) {
	s := newSchedule()

	first := mustNext(t, s, CorrectHesitant, t0)
	if first.Interval != 1 || first.Repetitions != 1 {
		t.Fatalf("First correct review: expected interval 1 / reps 1, got %d / %d", first.Interval, first.Repetitions)
	}

	second := mustNext(t, first, CorrectHesitant, t0.AddDate(0, 0, 1))
	if second.Interval != 6 || second.Repetitions != 2 {
		t.Fatalf("Second correct review: expected interval 6 / reps 2, got %d / %d", second.Interval, second.Repetitions)
	}

	prev := second
	for i := 0; i < 4; i++ {
		next := mustNext(t, prev, Perfect, t0)
		want := int(math.Round(float64(prev.Interval) * prev.EasinessFactor))
		if next.Interval != want {
			t.Errorf("Review %d: expected interval %d, got %d", i+3, want, next.Interval)
		}
		if next.Repetitions != prev.Repetitions+1 {
			t.Errorf("Review %d: expected repetitions %d, got %d", i+3, prev.Repetitions+1, next.Repetitions)
		}
		prev = next
	}
}

func TestQualityThreeIsCorrect(t *testing.T) {
	next := mustNext(t, newSchedule(), CorrectHard, t0)
	if next.Repetitions != 1 {
		t.Errorf("Quality 3 must follow the correct branch, got repetitions %d", next.Repetitions)
	}

	failed := mustNext(t, next, WrongFamiliar, t0)
	if failed.Repetitions != 0 {
		t.Errorf("Quality 2 must follow the incorrect branch, got repetitions %d", failed.Repetitions)
	}
}

func TestEasinessFixedPoint(t *testing.T) {
	if got := NextEasiness(2.5, CorrectHesitant); got != 2.5 {
		t.Errorf("Expected quality 4 to keep easiness at 2.5, got %v", got)
	}
	if got := NextEasiness(2.5, Perfect); got != 2.6 {
		t.Errorf("Expected quality 5 to raise easiness to 2.6, got %v", got)
	}
	if got := NextEasiness(2.5, CorrectHard); got != 2.36 {
		t.Errorf("Expected quality 3 to lower easiness to 2.36, got %v", got)
	}
}

func TestNextStateDates(t *testing.T) {
	next := mustNext(t, newSchedule(), CorrectHesitant, t0)

	wantDue := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	if !next.DueDate.Equal(wantDue) {
		t.Errorf("Expected due date %v, got %v", wantDue, next.DueDate)
	}
	if next.LastReviewed == nil || !next.LastReviewed.Equal(t0) {
		t.Errorf("Expected last reviewed %v, got %v", t0, next.LastReviewed)
	}
	if next.IsNew {
		t.Error("Expected card to no longer be new")
	}
}

func TestInvalidQuality(t *testing.T) {
	for _, v := range []int{-1, 6, 42} {
		if _, err := NextState(newSchedule(), Quality(v), t0); !errors.Is(err, ErrInvalidQuality) {
			t.Errorf("NextState(%d): expected ErrInvalidQuality, got %v", v, err)
		}
		if _, err := ParseQuality(v); !errors.Is(err, ErrInvalidQuality) {
			t.Errorf("ParseQuality(%d): expected ErrInvalidQuality, got %v", v, err)
		}
	}

	q, err := ParseQuality(5)
	if err != nil || q != Perfect {
		t.Errorf("ParseQuality(5) = %v, %v", q, err)
	}
}

func TestNextStateDoesNotMutateInput(t *testing.T) {
	start := newSchedule()
	_ = mustNext(t, start, Perfect, t0)
	if !start.IsNew || start.Repetitions != 0 || start.LastReviewed != nil {
		t.Errorf("Input schedule was modified: %+v", start)
	}
}
