// Package cardstore manages decks and their cards on top of any storage backend.
package cardstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/conorfennell/memorymaster/internal/clock"
	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/logger"
	"github.com/conorfennell/memorymaster/internal/storage"
)

// ErrInvalidContent is returned when a card or deck fails validation.
var ErrInvalidContent = errors.New("cardstore: invalid content")

// DeckInput is the user-editable part of a deck.
type DeckInput struct {
	Name        string   `validate:"required"`
	Description string
	Tags        []string
}

// Store is the card store. It holds no state of its own beyond its collaborators.
type Store struct {
	backend  storage.Backend
	clock    clock.Clock
	log      *logger.Logger
	validate *validator.Validate
	newID    func() string
}

// New creates a Store over the given backend.
func New(backend storage.Backend, clk clock.Clock, log *logger.Logger) *Store {
	return &Store{
		backend:  backend,
		clock:    clk,
		log:      log.With("component", "cardstore"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		newID:    func() string { return uuid.NewString() },
	}
}

func (s *Store) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return nil
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func normalizeContent(c domain.Content) domain.Content {
	c.Front = strings.TrimSpace(c.Front)
	c.Back = strings.TrimSpace(c.Back)
	c.Tags = normalizeTags(c.Tags)
	return c
}

// CreateDeck creates an empty deck.
func (s *Store) CreateDeck(ctx context.Context, in DeckInput) (*domain.Deck, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	d := &domain.Deck{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
		Tags:        normalizeTags(in.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.backend.CreateDeck(ctx, d); err != nil {
		return nil, err
	}
	s.log.Debug("deck created", "deck_id", d.ID, "name", d.Name)
	return d, nil
}

// GetDeck returns a deck or an error wrapping storage.ErrNotFound.
func (s *Store) GetDeck(ctx context.Context, id string) (*domain.Deck, error) {
	return s.backend.GetDeck(ctx, id)
}

// ListDecks returns every deck in insertion order.
func (s *Store) ListDecks(ctx context.Context) ([]domain.Deck, error) {
	return s.backend.ListDecks(ctx)
}

// UpdateDeck replaces a deck's name, description and tags.
func (s *Store) UpdateDeck(ctx context.Context, id string, in DeckInput) (*domain.Deck, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return nil, err
	}
	d, err := s.backend.GetDeck(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Name = in.Name
	d.Description = in.Description
	d.Tags = normalizeTags(in.Tags)
	d.UpdatedAt = s.clock.Now()
	if err := s.backend.UpdateDeck(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDeck removes a deck together with all of its cards. It cannot be undone.
func (s *Store) DeleteDeck(ctx context.Context, id string) error {
	if err := s.backend.DeleteDeck(ctx, id); err != nil {
		return err
	}
	s.log.Info("deck deleted", "deck_id", id)
	return nil
}

// AddCard creates a new, never-reviewed card in a deck. Front and back must be
// non-empty; nothing else about the content is checked.
func (s *Store) AddCard(ctx context.Context, deckID string, content domain.Content) (*domain.Card, error) {
	content = normalizeContent(content)
	if err := s.check(content); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	c := &domain.Card{
		ID:        s.newID(),
		DeckID:    deckID,
		Content:   content,
		Schedule:  domain.NewSchedule(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.CreateCard(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCard returns a card or an error wrapping storage.ErrNotFound.
func (s *Store) GetCard(ctx context.Context, deckID, cardID string) (*domain.Card, error) {
	return s.backend.GetCard(ctx, deckID, cardID)
}

// ListCards returns a deck's cards in insertion order.
func (s *Store) ListCards(ctx context.Context, deckID string) ([]domain.Card, error) {
	return s.backend.ListCards(ctx, deckID)
}

// UpdateContent edits a card's content. Scheduling state is left untouched.
func (s *Store) UpdateContent(ctx context.Context, deckID, cardID string, content domain.Content) (*domain.Card, error) {
	content = normalizeContent(content)
	if err := s.check(content); err != nil {
		return nil, err
	}
	c, err := s.backend.GetCard(ctx, deckID, cardID)
	if err != nil {
		return nil, err
	}
	c.Content = content
	c.UpdatedAt = s.clock.Now()
	if err := s.backend.UpdateCard(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplySchedule persists the scheduler's output and the updated counters for a
// card. It is the only path that writes scheduling fields.
func (s *Store) ApplySchedule(ctx context.Context, card domain.Card, next domain.Schedule, stats domain.CardStats, at time.Time) (*domain.Card, error) {
	card.Schedule = next
	card.Stats = stats
	card.UpdatedAt = at.UTC()
	if err := s.backend.UpdateCard(ctx, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// DeleteCard removes one card.
func (s *Store) DeleteCard(ctx context.Context, deckID, cardID string) error {
	return s.backend.DeleteCard(ctx, deckID, cardID)
}

// GetDueCards returns the deck's cards due at or before now, in insertion order.
// With includeNew, never-reviewed cards are added as well. An unknown deck yields
// no cards.
func (s *Store) GetDueCards(ctx context.Context, deckID string, now time.Time, includeNew bool) ([]domain.Card, error) {
	cards, err := s.backend.ListCards(ctx, deckID)
	if err != nil {
		return nil, err
	}
	due := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		if c.IsDue(now) || (includeNew && c.IsNew) {
			due = append(due, c)
		}
	}
	return due, nil
}

// GetNewCards returns up to limit never-reviewed cards in insertion order.
// A limit of zero or less means no limit.
func (s *Store) GetNewCards(ctx context.Context, deckID string, limit int) ([]domain.Card, error) {
	cards, err := s.backend.ListCards(ctx, deckID)
	if err != nil {
		return nil, err
	}
	var fresh []domain.Card
	for _, c := range cards {
		if limit > 0 && len(fresh) == limit {
			break
		}
		if c.IsNew {
			fresh = append(fresh, c)
		}
	}
	return fresh, nil
}

// GetSettings returns the persisted study settings.
func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.backend.GetSettings(ctx)
}

// SaveSettings validates and persists study settings.
func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if err := s.check(settings); err != nil {
		return err
	}
	return s.backend.SaveSettings(ctx, settings)
}
