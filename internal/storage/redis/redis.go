// Package redis is the remote storage backend. Decks, cards and settings are JSON
// documents; concurrent writers to the same document are last-write-wins.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/storage"
)

const historyPageSize = 256

// Options configures the connection to the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // namespace for every key, e.g. "memorymaster:"
}

// Store keeps decks, cards, history and settings in Redis.
//
// Key layout, relative to the prefix:
//
//	decks                    list of deck ids in insertion order
//	deck:<id>                deck document
//	deck:<id>:cards          list of card ids in insertion order
//	card:<deck>:<card>       card document
//	history                  sorted set of all entries scored by timestamp
//	history:deck:<id>        the same, per deck
//	history:seq              insertion counter used to break timestamp ties
//	settings                 settings document
type Store struct {
	rdb    *goredis.Client
	prefix string
}

var _ storage.Backend = (*Store)(nil)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", storage.ErrPersistence, err)
	}
	return New(rdb, opts.Prefix), nil
}

// New wraps an existing client.
func New(rdb *goredis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func fail(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{storage.ErrPersistence}, args...)...)
}

func (s *Store) decksKey() string              { return s.prefix + "decks" }
func (s *Store) deckKey(id string) string      { return s.prefix + "deck:" + id }
func (s *Store) deckCardsKey(id string) string { return s.prefix + "deck:" + id + ":cards" }
func (s *Store) cardKey(deckID, cardID string) string {
	return s.prefix + "card:" + deckID + ":" + cardID
}
func (s *Store) historyKey(deckID string) string {
	if deckID == "" {
		return s.prefix + "history"
	}
	return s.prefix + "history:deck:" + deckID
}
func (s *Store) historySeqKey() string { return s.prefix + "history:seq" }
func (s *Store) settingsKey() string   { return s.prefix + "settings" }

func score(t time.Time) float64 { return float64(t.UTC().UnixMicro()) }

// CreateDeck stores a new deck document.
func (s *Store) CreateDeck(ctx context.Context, d *domain.Deck) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fail("failed to encode deck %s: %w", d.ID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.deckKey(d.ID), raw, 0)
		pipe.RPush(ctx, s.decksKey(), d.ID)
		return nil
	})
	if err != nil {
		return fail("failed to insert deck %s: %w", d.ID, err)
	}
	return nil
}

// GetDeck loads a deck document.
func (s *Store) GetDeck(ctx context.Context, id string) (*domain.Deck, error) {
	raw, err := s.rdb.Get(ctx, s.deckKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("deck %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fail("failed to find deck %s: %w", id, err)
	}
	return decodeDeck(raw)
}

func decodeDeck(raw []byte) (*domain.Deck, error) {
	var d domain.Deck
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fail("failed to decode deck: %w", err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

// ListDecks returns all decks in insertion order.
func (s *Store) ListDecks(ctx context.Context) ([]domain.Deck, error) {
	ids, err := s.rdb.LRange(ctx, s.decksKey(), 0, -1).Result()
	if err != nil {
		return nil, fail("failed to list decks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.deckKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fail("failed to load decks: %w", err)
	}

	decks := make([]domain.Deck, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		d, err := decodeDeck([]byte(str))
		if err != nil {
			return nil, err
		}
		decks = append(decks, *d)
	}
	return decks, nil
}

// UpdateDeck overwrites an existing deck document.
func (s *Store) UpdateDeck(ctx context.Context, d *domain.Deck) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fail("failed to encode deck %s: %w", d.ID, err)
	}
	ok, err := s.rdb.SetXX(ctx, s.deckKey(d.ID), raw, 0).Result()
	if err != nil {
		return fail("failed to update deck %s: %w", d.ID, err)
	}
	if !ok {
		return fmt.Errorf("deck %s: %w", d.ID, storage.ErrNotFound)
	}
	return nil
}

// DeleteDeck removes the deck, its card list and every card document in one
// MULTI/EXEC, guarded by WATCH so a concurrent card insert aborts the delete.
func (s *Store) DeleteDeck(ctx context.Context, id string) error {
	deckKey, cardsKey := s.deckKey(id), s.deckCardsKey(id)

	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, deckKey).Result()
		if err != nil {
			return fail("failed to check deck %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("deck %s: %w", id, storage.ErrNotFound)
		}
		cardIDs, err := tx.LRange(ctx, cardsKey, 0, -1).Result()
		if err != nil {
			return fail("failed to list cards of deck %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			keys := []string{deckKey, cardsKey}
			for _, cid := range cardIDs {
				keys = append(keys, s.cardKey(id, cid))
			}
			pipe.Del(ctx, keys...)
			pipe.LRem(ctx, s.decksKey(), 0, id)
			return nil
		})
		if err != nil {
			return fail("failed to delete deck %s: %w", id, err)
		}
		return nil
	}, deckKey, cardsKey)

	if errors.Is(err, goredis.TxFailedErr) {
		return fail("deck %s changed during delete: %w", id, err)
	}
	return err
}

// CreateCard stores a new card and appends it to its deck's card list.
func (s *Store) CreateCard(ctx context.Context, c *domain.Card) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fail("failed to encode card %s: %w", c.ID, err)
	}
	deckKey := s.deckKey(c.DeckID)

	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, deckKey).Result()
		if err != nil {
			return fail("failed to check deck %s: %w", c.DeckID, err)
		}
		if n == 0 {
			return fmt.Errorf("deck %s: %w", c.DeckID, storage.ErrNotFound)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.cardKey(c.DeckID, c.ID), raw, 0)
			pipe.RPush(ctx, s.deckCardsKey(c.DeckID), c.ID)
			return nil
		})
		if err != nil {
			return fail("failed to insert card %s: %w", c.ID, err)
		}
		return nil
	}, deckKey)

	if errors.Is(err, goredis.TxFailedErr) {
		return fail("deck %s changed during card insert: %w", c.DeckID, err)
	}
	return err
}

func decodeCard(raw []byte) (*domain.Card, error) {
	var c domain.Card
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fail("failed to decode card: %w", err)
	}
	c.DueDate = c.DueDate.UTC()
	if c.LastReviewed != nil {
		lr := c.LastReviewed.UTC()
		c.LastReviewed = &lr
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// GetCard loads a card document.
func (s *Store) GetCard(ctx context.Context, deckID, cardID string) (*domain.Card, error) {
	raw, err := s.rdb.Get(ctx, s.cardKey(deckID, cardID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("card %s in deck %s: %w", cardID, deckID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fail("failed to find card %s: %w", cardID, err)
	}
	return decodeCard(raw)
}

// ListCards returns the deck's cards in insertion order.
func (s *Store) ListCards(ctx context.Context, deckID string) ([]domain.Card, error) {
	ids, err := s.rdb.LRange(ctx, s.deckCardsKey(deckID), 0, -1).Result()
	if err != nil {
		return nil, fail("failed to get cards for deck %s: %w", deckID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.cardKey(deckID, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fail("failed to load cards for deck %s: %w", deckID, err)
	}

	cards := make([]domain.Card, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		c, err := decodeCard([]byte(str))
		if err != nil {
			return nil, err
		}
		cards = append(cards, *c)
	}
	return cards, nil
}

// UpdateCard overwrites an existing card document.
func (s *Store) UpdateCard(ctx context.Context, c *domain.Card) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fail("failed to encode card %s: %w", c.ID, err)
	}
	ok, err := s.rdb.SetXX(ctx, s.cardKey(c.DeckID, c.ID), raw, 0).Result()
	if err != nil {
		return fail("failed to update card %s: %w", c.ID, err)
	}
	if !ok {
		return fmt.Errorf("card %s in deck %s: %w", c.ID, c.DeckID, storage.ErrNotFound)
	}
	return nil
}

// DeleteCard removes a card document and its entry in the deck's card list.
func (s *Store) DeleteCard(ctx context.Context, deckID, cardID string) error {
	var del *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.cardKey(deckID, cardID))
		pipe.LRem(ctx, s.deckCardsKey(deckID), 0, cardID)
		return nil
	})
	if err != nil {
		return fail("failed to delete card %s: %w", cardID, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("card %s in deck %s: %w", cardID, deckID, storage.ErrNotFound)
	}
	return nil
}

// AppendHistory adds the entry to the global and per-deck history sets.
func (s *Store) AppendHistory(ctx context.Context, e domain.StudyHistoryEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fail("failed to encode history for card %s: %w", e.CardID, err)
	}
	seq, err := s.rdb.Incr(ctx, s.historySeqKey()).Result()
	if err != nil {
		return fail("failed to allocate history sequence: %w", err)
	}
	member := fmt.Sprintf("%020d|%s", seq, raw)
	z := goredis.Z{Score: score(e.Timestamp), Member: member}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, s.historyKey(""), z)
		pipe.ZAdd(ctx, s.historyKey(e.DeckID), z)
		return nil
	})
	if err != nil {
		return fail("failed to append history for card %s: %w", e.CardID, err)
	}
	return nil
}

// QueryHistory walks the history sorted set in pages. Members sharing a score are
// ordered by their zero-padded sequence prefix, which is insertion order.
func (s *Store) QueryHistory(ctx context.Context, f storage.HistoryFilter) iter.Seq2[domain.StudyHistoryEntry, error] {
	return func(yield func(domain.StudyHistoryEntry, error) bool) {
		lower := "-inf"
		if !f.Since.IsZero() {
			lower = strconv.FormatInt(f.Since.UTC().UnixMicro(), 10)
		}
		key := s.historyKey(f.DeckID)

		for offset := int64(0); ; offset += historyPageSize {
			members, err := s.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
				Min:    lower,
				Max:    "+inf",
				Offset: offset,
				Count:  historyPageSize,
			}).Result()
			if err != nil {
				yield(domain.StudyHistoryEntry{}, fail("failed to query history: %w", err))
				return
			}
			for _, m := range members {
				e, err := decodeHistory(m)
				if err != nil {
					yield(domain.StudyHistoryEntry{}, err)
					return
				}
				if !yield(e, nil) {
					return
				}
			}
			if len(members) < historyPageSize {
				return
			}
		}
	}
}

func decodeHistory(member string) (domain.StudyHistoryEntry, error) {
	var e domain.StudyHistoryEntry
	_, raw, ok := strings.Cut(member, "|")
	if !ok {
		return e, fail("malformed history member %q", member)
	}
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return e, fail("failed to decode history entry: %w", err)
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

// GetSettings returns the stored settings, or the defaults if none were saved.
func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	raw, err := s.rdb.Get(ctx, s.settingsKey()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fail("failed to read settings: %w", err)
	}
	var settings domain.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.Settings{}, fail("failed to decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings replaces the settings document.
func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fail("failed to encode settings: %w", err)
	}
	if err := s.rdb.Set(ctx, s.settingsKey(), raw, 0).Err(); err != nil {
		return fail("failed to save settings: %w", err)
	}
	return nil
}
