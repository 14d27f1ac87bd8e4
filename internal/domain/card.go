package domain

import "time"

// DefaultEasinessFactor is the easiness a card starts with.
const DefaultEasinessFactor = 2.5

// Content is the user-facing side of a card: what is shown and what is expected.
// Images are opaque payloads (typically data URLs) and are never inspected.
type Content struct {
	Front      string   `json:"front" validate:"required"`
	Back       string   `json:"back" validate:"required"`
	Tags       []string `json:"tags,omitempty"`
	FrontImage string   `json:"frontImage,omitempty"`
	BackImage  string   `json:"backImage,omitempty"`
}

// Schedule is the SM-2 scheduling state of a card.
type Schedule struct {
	EasinessFactor float64    `json:"easinessFactor"`
	Interval       int        `json:"interval"` // days
	Repetitions    int        `json:"repetitions"`
	DueDate        time.Time  `json:"dueDate"`
	LastReviewed   *time.Time `json:"lastReviewed"` // nil before the first review
	IsNew          bool       `json:"isNew"`
}

// NewSchedule returns the schedule of a card that has never been reviewed.
// It is due immediately.
func NewSchedule(now time.Time) Schedule {
	return Schedule{
		EasinessFactor: DefaultEasinessFactor,
		DueDate:        now.UTC(),
		IsNew:          true,
	}
}

// CardStats holds lifetime review counters for a card.
type CardStats struct {
	TotalReviews      int     `json:"totalReviews"`
	CorrectAnswers    int     `json:"correctAnswers"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
}

// Record folds one answered review into the counters. The response time average
// is a running mean over all reviews.
func (s CardStats) Record(correct bool, responseTimeMs int64) CardStats {
	out := s
	if s.TotalReviews == 0 {
		out.AvgResponseTimeMs = float64(responseTimeMs)
	} else {
		total := s.AvgResponseTimeMs*float64(s.TotalReviews) + float64(responseTimeMs)
		out.AvgResponseTimeMs = total / float64(s.TotalReviews+1)
	}
	out.TotalReviews++
	if correct {
		out.CorrectAnswers++
	}
	return out
}

// Card is a single flashcard owned by a deck.
type Card struct {
	ID     string `json:"id"`
	DeckID string `json:"deckId"`
	Content
	Schedule
	Stats     CardStats `json:"stats"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsDue reports whether the card's next review is at or before now.
func (c Card) IsDue(now time.Time) bool {
	return !c.DueDate.After(now)
}

// IsMastered reports whether the card counts as mastered in deck statistics.
func (c Card) IsMastered() bool {
	return !c.IsNew && c.Repetitions >= 3 && c.EasinessFactor >= 2.5
}
