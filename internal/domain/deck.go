package domain

import "time"

// Deck is a named collection of cards. A deck exclusively owns its cards.
type Deck struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StudyHistoryEntry records a single answered card. Entries are immutable once
// appended.
type StudyHistoryEntry struct {
	DeckID         string    `json:"deckId"`
	CardID         string    `json:"cardId"`
	Quality        int       `json:"quality"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	Timestamp      time.Time `json:"timestamp"`
	WasCorrect     bool      `json:"wasCorrect"`
}

// Settings are the process-wide study preferences.
// EasyBonus and IntervalModifier are kept for the user but do not alter scheduling.
type Settings struct {
	MaxNewCardsPerSession    int     `json:"maxNewCardsPerSession" yaml:"max_new_cards_per_session" validate:"gte=0"`
	MaxReviewCardsPerSession int     `json:"maxReviewCardsPerSession" yaml:"max_review_cards_per_session" validate:"gte=0"`
	SessionSize              int     `json:"sessionSize" yaml:"session_size" validate:"gte=1"`
	EasyBonus                float64 `json:"easyBonus" yaml:"easy_bonus" validate:"gte=1"`
	IntervalModifier         float64 `json:"intervalModifier" yaml:"interval_modifier" validate:"gt=0"`
	DarkMode                 bool    `json:"darkMode" yaml:"dark_mode"`
}

// DefaultSettings returns the settings used until the user changes them.
func DefaultSettings() Settings {
	return Settings{
		MaxNewCardsPerSession:    20,
		MaxReviewCardsPerSession: 100,
		SessionSize:              50,
		EasyBonus:                1.3,
		IntervalModifier:         1.0,
	}
}
