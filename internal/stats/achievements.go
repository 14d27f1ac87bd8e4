package stats

import (
	"context"
	"fmt"

	"github.com/conorfennell/memorymaster/internal/history"
)

// Achievement is a milestone the user has reached.
type Achievement struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

const (
	recentWindow      = 50
	recentMinimum     = 20
	recentAccuracyMin = 90.0
	deckMasteryMin    = 80.0
)

// Achievements lists every milestone currently earned.
func (e *Engine) Achievements(ctx context.Context) ([]Achievement, error) {
	var out []Achievement

	streak, err := e.StudyStreak(ctx)
	if err != nil {
		return nil, err
	}
	if streak >= 7 {
		out = append(out, Achievement{Key: "streak-7", Title: "One week of dedication", Description: fmt.Sprintf("%d consecutive days of study", streak)})
	}
	if streak >= 30 {
		out = append(out, Achievement{Key: "streak-30", Title: "Master of consistency", Description: fmt.Sprintf("a %d day streak", streak)})
	}

	var (
		total  int
		recent []bool // outcomes of the last recentWindow reviews
	)
	for entry, err := range e.history.Query(ctx, history.Filter{}) {
		if err != nil {
			return nil, err
		}
		total++
		recent = append(recent, entry.WasCorrect)
		if len(recent) > recentWindow {
			recent = recent[1:]
		}
	}
	if total >= 100 {
		out = append(out, Achievement{Key: "reviews-100", Title: "Centurion", Description: "100 reviews completed"})
	}
	if total >= 500 {
		out = append(out, Achievement{Key: "reviews-500", Title: "Tireless", Description: "500 reviews completed"})
	}
	if len(recent) >= recentMinimum {
		correct := 0
		for _, ok := range recent {
			if ok {
				correct++
			}
		}
		acc := float64(correct) / float64(len(recent)) * 100
		if acc >= recentAccuracyMin {
			out = append(out, Achievement{Key: "accuracy-90", Title: "Expert precision", Description: fmt.Sprintf("%.1f%% accuracy over the last %d reviews", acc, len(recent))})
		}
	}

	decks, err := e.cards.ListDecks(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range decks {
		ds, err := e.DeckStatistics(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if ds.TotalCards == 0 {
			continue
		}
		mastery := float64(ds.MasteredCards) / float64(ds.TotalCards) * 100
		if mastery >= deckMasteryMin {
			out = append(out, Achievement{Key: "mastery:" + d.ID, Title: "Master of " + d.Name, Description: fmt.Sprintf("%.0f%% of the deck mastered", mastery)})
		}
	}
	return out, nil
}
