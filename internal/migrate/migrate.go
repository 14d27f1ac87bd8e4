// Package migrate copies a whole study store from one backend to another, for
// example from the local sqlite file to a shared Redis server.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/conorfennell/memorymaster/internal/logger"
	"github.com/conorfennell/memorymaster/internal/storage"
)

// ErrDestinationNotEmpty is returned when the target backend already holds decks.
var ErrDestinationNotEmpty = errors.New("migrate: destination already has decks")

// Counts reports what was copied.
type Counts struct {
	Decks   int
	Cards   int
	History int
}

// Run copies settings, decks, cards and history from one backend to another.
// IDs, insertion order and scheduling state are preserved. A failure part way
// leaves whatever was already copied in the destination.
func Run(ctx context.Context, from, to storage.Backend, log *logger.Logger) (*Counts, error) {
	existing, err := to.ListDecks(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w (%d decks)", ErrDestinationNotEmpty, len(existing))
	}

	settings, err := from.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := to.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("writing settings: %w", err)
	}

	counts := &Counts{}
	decks, err := from.ListDecks(ctx)
	if err != nil {
		return counts, err
	}
	for _, d := range decks {
		if err := to.CreateDeck(ctx, &d); err != nil {
			return counts, fmt.Errorf("copying deck %s: %w", d.ID, err)
		}
		counts.Decks++

		cards, err := from.ListCards(ctx, d.ID)
		if err != nil {
			return counts, err
		}
		for _, c := range cards {
			if err := to.CreateCard(ctx, &c); err != nil {
				return counts, fmt.Errorf("copying card %s: %w", c.ID, err)
			}
			counts.Cards++
		}
		log.Debug("deck copied", "deck_id", d.ID, "cards", len(cards))
	}

	for entry, err := range from.QueryHistory(ctx, storage.HistoryFilter{}) {
		if err != nil {
			return counts, err
		}
		if err := to.AppendHistory(ctx, entry); err != nil {
			return counts, fmt.Errorf("copying history: %w", err)
		}
		counts.History++
	}

	log.Info("migration complete", "decks", counts.Decks, "cards", counts.Cards, "history", counts.History)
	return counts, nil
}
