// Package storage defines the persistence contract shared by every backend.
package storage

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/conorfennell/memorymaster/internal/domain"
)

var (
	// ErrNotFound is returned when a deck or card id cannot be resolved.
	ErrNotFound = errors.New("storage: not found")
	// ErrPersistence wraps every failure of the underlying store.
	ErrPersistence = errors.New("storage: persistence failure")
)

// HistoryFilter narrows a history query. Zero values match everything.
type HistoryFilter struct {
	DeckID string
	Since  time.Time // inclusive
}

// Matches reports whether e passes the filter.
func (f HistoryFilter) Matches(e domain.StudyHistoryEntry) bool {
	if f.DeckID != "" && e.DeckID != f.DeckID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Backend is implemented by the local SQL store and the remote document store.
//
// Decks and cards are returned in insertion order. Listing the cards of an
// unknown deck yields an empty slice. Every timestamp crossing this interface is UTC.
type Backend interface {
	CreateDeck(ctx context.Context, deck *domain.Deck) error
	GetDeck(ctx context.Context, id string) (*domain.Deck, error)
	ListDecks(ctx context.Context) ([]domain.Deck, error)
	UpdateDeck(ctx context.Context, deck *domain.Deck) error
	// DeleteDeck removes the deck and all of its cards in one atomic step.
	DeleteDeck(ctx context.Context, id string) error

	CreateCard(ctx context.Context, card *domain.Card) error
	GetCard(ctx context.Context, deckID, cardID string) (*domain.Card, error)
	ListCards(ctx context.Context, deckID string) ([]domain.Card, error)
	UpdateCard(ctx context.Context, card *domain.Card) error
	DeleteCard(ctx context.Context, deckID, cardID string) error

	AppendHistory(ctx context.Context, entry domain.StudyHistoryEntry) error
	// QueryHistory yields matching entries by timestamp, ties in insertion order.
	// Each iteration re-reads the store.
	QueryHistory(ctx context.Context, filter HistoryFilter) iter.Seq2[domain.StudyHistoryEntry, error]

	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error

	Close() error
}
