// Package sm2 implements the SM-2 spaced-repetition scheduling rule.
package sm2

import (
	"math"
	"time"

	"github.com/conorfennell/memorymaster/internal/domain"
)

const (
	// MinEasinessFactor is the floor applied after every review.
	MinEasinessFactor = 1.3

	firstInterval  = 1
	secondInterval = 6
)

// NextState computes the schedule that follows reviewing a card with quality q at
// now. The input is not modified. Only EasinessFactor, Interval and Repetitions of
// the input are consulted.
func NextState(state domain.Schedule, q Quality, now time.Time) (domain.Schedule, error) {
	if !q.IsValid() {
		return domain.Schedule{}, ErrInvalidQuality
	}
	now = now.UTC()

	interval := state.Interval
	repetitions := state.Repetitions

	if q.IsCorrect() {
		repetitions++
		switch repetitions {
		case 1:
			interval = firstInterval
		case 2:
			interval = secondInterval
		default:
			interval = int(math.Round(float64(state.Interval) * state.EasinessFactor))
		}
	} else {
		repetitions = 0
		interval = firstInterval
	}

	reviewed := now
	return domain.Schedule{
		EasinessFactor: NextEasiness(state.EasinessFactor, q),
		Interval:       interval,
		Repetitions:    repetitions,
		DueDate:        now.AddDate(0, 0, interval),
		LastReviewed:   &reviewed,
		IsNew:          false,
	}, nil
}

// NextEasiness applies the SM-2 easiness update for quality q.
// EF' = EF + (0.1 - (5-q) * (0.08 + (5-q)*0.02)), floored at 1.3 and kept to two
// decimals.
func NextEasiness(ef float64, q Quality) float64 {
	d := float64(5 - q)
	next := ef + (0.1 - d*(0.08+d*0.02))
	next = math.Max(MinEasinessFactor, next)
	return math.Round(next*100) / 100
}
