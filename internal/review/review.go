// Package review ties the scheduler, the card store and the history log into
// the single operation a study session performs per answered card.
package review

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/conorfennell/memorymaster/internal/cardstore"
	"github.com/conorfennell/memorymaster/internal/clock"
	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/history"
	"github.com/conorfennell/memorymaster/internal/logger"
	"github.com/conorfennell/memorymaster/internal/sm2"
)

// ErrHistoryNotRecorded means the card was rescheduled but its history entry
// could not be written.
var ErrHistoryNotRecorded = errors.New("review: history entry not recorded")

// Result is the outcome of one review.
type Result struct {
	Card   *domain.Card
	Entry  domain.StudyHistoryEntry
	Logged bool
}

// Service runs reviews and assembles study sessions.
type Service struct {
	cards   *cardstore.Store
	history *history.Log
	clock   clock.Clock
	log     *logger.Logger
	rand    *rand.Rand
}

// Option configures a Service.
type Option func(*Service)

// WithRand sets the source used to shuffle sessions.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rand = r }
}

// New returns a Service.
func New(cards *cardstore.Store, hist *history.Log, clk clock.Clock, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		cards:   cards,
		history: hist,
		clock:   clk,
		log:     log.With("component", "review"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Review grades one card. The card is rescheduled first and the history entry
// appended second. A failed card write appends nothing. A failed append leaves
// the card rescheduled, and the returned error wraps ErrHistoryNotRecorded.
func (s *Service) Review(ctx context.Context, deckID, cardID string, quality int, responseTime time.Duration) (*Result, error) {
	q, err := sm2.ParseQuality(quality)
	if err != nil {
		return nil, err
	}
	card, err := s.cards.GetCard(ctx, deckID, cardID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next, err := sm2.NextState(card.Schedule, q, now)
	if err != nil {
		return nil, err
	}
	responseMs := responseTime.Milliseconds()
	stats := card.Stats.Record(q.IsCorrect(), responseMs)

	updated, err := s.cards.ApplySchedule(ctx, *card, next, stats, now)
	if err != nil {
		return nil, fmt.Errorf("saving card %s: %w", cardID, err)
	}

	entry := domain.StudyHistoryEntry{
		DeckID:         deckID,
		CardID:         cardID,
		Quality:        quality,
		ResponseTimeMs: responseMs,
		Timestamp:      now,
		WasCorrect:     q.IsCorrect(),
	}
	res := &Result{Card: updated, Entry: entry}
	if err := s.history.Append(ctx, entry); err != nil {
		s.log.Warn("history append failed", "deck_id", deckID, "card_id", cardID, "error", err)
		return res, fmt.Errorf("%w: %w", ErrHistoryNotRecorded, err)
	}
	res.Logged = true

	s.log.Debug("card reviewed",
		"deck_id", deckID,
		"card_id", cardID,
		"quality", quality,
		"interval", updated.Interval,
		"due", updated.DueDate,
	)
	return res, nil
}

// BuildSession picks the cards for one study session: due reviews up to
// MaxReviewCardsPerSession and new cards up to MaxNewCardsPerSession, shuffled
// and cut to SessionSize.
func (s *Service) BuildSession(ctx context.Context, deckID string, settings domain.Settings) ([]domain.Card, error) {
	now := s.clock.Now()
	due, err := s.cards.GetDueCards(ctx, deckID, now, false)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var session []domain.Card
	reviews := 0
	for _, c := range due {
		if c.IsNew || reviews == settings.MaxReviewCardsPerSession {
			continue
		}
		seen[c.ID] = true
		session = append(session, c)
		reviews++
	}

	if settings.MaxNewCardsPerSession > 0 {
		fresh, err := s.cards.GetNewCards(ctx, deckID, settings.MaxNewCardsPerSession)
		if err != nil {
			return nil, err
		}
		for _, c := range fresh {
			if !seen[c.ID] {
				seen[c.ID] = true
				session = append(session, c)
			}
		}
	}

	s.rand.Shuffle(len(session), func(i, j int) { session[i], session[j] = session[j], session[i] })
	if settings.SessionSize > 0 && len(session) > settings.SessionSize {
		session = session[:settings.SessionSize]
	}
	return session, nil
}
