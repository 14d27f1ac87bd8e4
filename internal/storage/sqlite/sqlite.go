// Package sqlite is the local storage backend, an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/storage"
)

// historyPageSize bounds how many history rows are held in memory while a query
// is being iterated.
const historyPageSize = 256

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

var _ storage.Backend = (*DB)(nil)

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", storage.ErrPersistence, err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:" databases
	// coherent across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to connect to database: %w", storage.ErrPersistence, err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to apply schema: %w", storage.ErrPersistence, err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func fail(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{storage.ErrPersistence}, args...)...)
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(raw string) ([]string, error) {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateDeck inserts a new deck.
func (db *DB) CreateDeck(ctx context.Context, d *domain.Deck) error {
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return fail("failed to encode tags for deck %s: %w", d.ID, err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO decks (id, name, description, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.Name, d.Description, tags, toMicros(d.CreatedAt), toMicros(d.UpdatedAt))
	if err != nil {
		return fail("failed to insert deck %s: %w", d.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeck(row rowScanner) (*domain.Deck, error) {
	var (
		d                domain.Deck
		tags             string
		created, updated int64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &tags, &created, &updated); err != nil {
		return nil, err
	}
	t, err := decodeTags(tags)
	if err != nil {
		return nil, err
	}
	d.Tags = t
	d.CreatedAt = fromMicros(created)
	d.UpdatedAt = fromMicros(updated)
	return &d, nil
}

// GetDeck retrieves a deck by id.
func (db *DB) GetDeck(ctx context.Context, id string) (*domain.Deck, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, description, tags, created_at, updated_at
		FROM decks WHERE id = ?
	`, id)
	d, err := scanDeck(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deck %s: %w", id, storage.ErrNotFound)
		}
		return nil, fail("failed to find deck %s: %w", id, err)
	}
	return d, nil
}

// ListDecks retrieves all decks in insertion order.
func (db *DB) ListDecks(ctx context.Context) ([]domain.Deck, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, description, tags, created_at, updated_at
		FROM decks ORDER BY rowid
	`)
	if err != nil {
		return nil, fail("failed to list decks: %w", err)
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, fail("failed to scan deck row: %w", err)
		}
		decks = append(decks, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("failed to list decks: %w", err)
	}
	return decks, nil
}

// UpdateDeck overwrites a deck's metadata.
func (db *DB) UpdateDeck(ctx context.Context, d *domain.Deck) error {
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return fail("failed to encode tags for deck %s: %w", d.ID, err)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE decks
		SET name = ?, description = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`, d.Name, d.Description, tags, toMicros(d.UpdatedAt), d.ID)
	if err != nil {
		return fail("failed to update deck %s: %w", d.ID, err)
	}
	return expectOne(res, fmt.Sprintf("deck %s", d.ID))
}

// DeleteDeck removes a deck and its cards in a single transaction.
func (db *DB) DeleteDeck(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fail("failed to begin delete of deck %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE deck_id = ?`, id); err != nil {
		return fail("failed to delete cards of deck %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id)
	if err != nil {
		return fail("failed to delete deck %s: %w", id, err)
	}
	if err := expectOne(res, fmt.Sprintf("deck %s", id)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fail("failed to commit delete of deck %s: %w", id, err)
	}
	return nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fail("failed to read affected rows for %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

const cardColumns = `id, deck_id, front, back, front_image, back_image, tags,
	easiness, interval_days, repetitions, due_date, last_reviewed, is_new,
	total_reviews, correct_answers, avg_response_ms, created_at, updated_at`

// CreateCard inserts a new card. The owning deck must exist.
func (db *DB) CreateCard(ctx context.Context, c *domain.Card) error {
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return fail("failed to encode tags for card %s: %w", c.ID, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fail("failed to begin insert of card %s: %w", c.ID, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM decks WHERE id = ?`, c.DeckID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("deck %s: %w", c.DeckID, storage.ErrNotFound)
	}
	if err != nil {
		return fail("failed to check deck %s: %w", c.DeckID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.DeckID, c.Front, c.Back, c.FrontImage, c.BackImage, tags,
		c.EasinessFactor, c.Interval, c.Repetitions, toMicros(c.DueDate), lastReviewed(c.LastReviewed), boolToInt(c.IsNew),
		c.Stats.TotalReviews, c.Stats.CorrectAnswers, c.Stats.AvgResponseTimeMs,
		toMicros(c.CreatedAt), toMicros(c.UpdatedAt),
	)
	if err != nil {
		return fail("failed to insert card %s: %w", c.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fail("failed to commit card %s: %w", c.ID, err)
	}
	return nil
}

func lastReviewed(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func scanCard(row rowScanner) (*domain.Card, error) {
	var (
		c                domain.Card
		tags             string
		due              int64
		reviewed         sql.NullInt64
		isNew            int
		created, updated int64
	)
	err := row.Scan(
		&c.ID, &c.DeckID, &c.Front, &c.Back, &c.FrontImage, &c.BackImage, &tags,
		&c.EasinessFactor, &c.Interval, &c.Repetitions, &due, &reviewed, &isNew,
		&c.Stats.TotalReviews, &c.Stats.CorrectAnswers, &c.Stats.AvgResponseTimeMs,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	t, err := decodeTags(tags)
	if err != nil {
		return nil, err
	}
	c.Tags = t
	c.DueDate = fromMicros(due)
	if reviewed.Valid {
		lr := fromMicros(reviewed.Int64)
		c.LastReviewed = &lr
	}
	c.IsNew = isNew != 0
	c.CreatedAt = fromMicros(created)
	c.UpdatedAt = fromMicros(updated)
	return &c, nil
}

// GetCard retrieves a card of a deck.
func (db *DB) GetCard(ctx context.Context, deckID, cardID string) (*domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE deck_id = ? AND id = ?
	`, deckID, cardID)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %s in deck %s: %w", cardID, deckID, storage.ErrNotFound)
		}
		return nil, fail("failed to find card %s: %w", cardID, err)
	}
	return c, nil
}

// ListCards retrieves the cards of a deck in insertion order.
func (db *DB) ListCards(ctx context.Context, deckID string) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE deck_id = ? ORDER BY seq
	`, deckID)
	if err != nil {
		return nil, fail("failed to get cards for deck %s: %w", deckID, err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fail("failed to scan card row for deck %s: %w", deckID, err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("failed to get cards for deck %s: %w", deckID, err)
	}
	return cards, nil
}

// UpdateCard overwrites a card's content, schedule and counters.
func (db *DB) UpdateCard(ctx context.Context, c *domain.Card) error {
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return fail("failed to encode tags for card %s: %w", c.ID, err)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards
		SET front = ?, back = ?, front_image = ?, back_image = ?, tags = ?,
			easiness = ?, interval_days = ?, repetitions = ?, due_date = ?, last_reviewed = ?, is_new = ?,
			total_reviews = ?, correct_answers = ?, avg_response_ms = ?, updated_at = ?
		WHERE deck_id = ? AND id = ?
	`,
		c.Front, c.Back, c.FrontImage, c.BackImage, tags,
		c.EasinessFactor, c.Interval, c.Repetitions, toMicros(c.DueDate), lastReviewed(c.LastReviewed), boolToInt(c.IsNew),
		c.Stats.TotalReviews, c.Stats.CorrectAnswers, c.Stats.AvgResponseTimeMs, toMicros(c.UpdatedAt),
		c.DeckID, c.ID,
	)
	if err != nil {
		return fail("failed to update card %s: %w", c.ID, err)
	}
	return expectOne(res, fmt.Sprintf("card %s in deck %s", c.ID, c.DeckID))
}

// DeleteCard removes a card from a deck.
func (db *DB) DeleteCard(ctx context.Context, deckID, cardID string) error {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM cards
		WHERE deck_id = ? AND id = ?
	`, deckID, cardID)
	if err != nil {
		return fail("failed to delete card %s: %w", cardID, err)
	}
	return expectOne(res, fmt.Sprintf("card %s in deck %s", cardID, deckID))
}

// AppendHistory records a review event.
func (db *DB) AppendHistory(ctx context.Context, e domain.StudyHistoryEntry) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO study_history (deck_id, card_id, quality, response_ms, reviewed_at, was_correct)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.DeckID, e.CardID, e.Quality, e.ResponseTimeMs, toMicros(e.Timestamp), boolToInt(e.WasCorrect))
	if err != nil {
		return fail("failed to append history for card %s: %w", e.CardID, err)
	}
	return nil
}

// QueryHistory pages through matching entries with a (reviewed_at, seq) cursor so
// no connection is held while the caller consumes a page.
func (db *DB) QueryHistory(ctx context.Context, f storage.HistoryFilter) iter.Seq2[domain.StudyHistoryEntry, error] {
	return func(yield func(domain.StudyHistoryEntry, error) bool) {
		var since int64 = -1 << 62
		if !f.Since.IsZero() {
			since = toMicros(f.Since)
		}
		cursorAt, cursorSeq := since, int64(-1)

		for {
			page, err := db.historyPage(ctx, f.DeckID, since, cursorAt, cursorSeq)
			if err != nil {
				yield(domain.StudyHistoryEntry{}, err)
				return
			}
			for _, r := range page {
				if !yield(r.entry, nil) {
					return
				}
				cursorAt, cursorSeq = toMicros(r.entry.Timestamp), r.seq
			}
			if len(page) < historyPageSize {
				return
			}
		}
	}
}

type historyRow struct {
	seq   int64
	entry domain.StudyHistoryEntry
}

func (db *DB) historyPage(ctx context.Context, deckID string, since, afterAt, afterSeq int64) ([]historyRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, deck_id, card_id, quality, response_ms, reviewed_at, was_correct
		FROM study_history
		WHERE (? = '' OR deck_id = ?)
		  AND reviewed_at >= ?
		  AND (reviewed_at > ? OR (reviewed_at = ? AND seq > ?))
		ORDER BY reviewed_at, seq
		LIMIT ?
	`, deckID, deckID, since, afterAt, afterAt, afterSeq, historyPageSize)
	if err != nil {
		return nil, fail("failed to query history: %w", err)
	}
	defer rows.Close()

	page := make([]historyRow, 0, historyPageSize)
	for rows.Next() {
		var (
			r       historyRow
			at      int64
			correct int
		)
		if err := rows.Scan(&r.seq, &r.entry.DeckID, &r.entry.CardID, &r.entry.Quality,
			&r.entry.ResponseTimeMs, &at, &correct); err != nil {
			return nil, fail("failed to scan history row: %w", err)
		}
		r.entry.Timestamp = fromMicros(at)
		r.entry.WasCorrect = correct != 0
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("failed to query history: %w", err)
	}
	return page, nil
}

// GetSettings returns the stored settings, or the defaults if none were saved.
func (db *DB) GetSettings(ctx context.Context) (domain.Settings, error) {
	var (
		s    domain.Settings
		dark int
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT max_new_cards, max_review_cards, session_size, easy_bonus, interval_modifier, dark_mode
		FROM settings WHERE id = 1
	`).Scan(&s.MaxNewCardsPerSession, &s.MaxReviewCardsPerSession, &s.SessionSize,
		&s.EasyBonus, &s.IntervalModifier, &dark)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fail("failed to read settings: %w", err)
	}
	s.DarkMode = dark != 0
	return s, nil
}

// SaveSettings replaces the stored settings.
func (db *DB) SaveSettings(ctx context.Context, s domain.Settings) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (id, max_new_cards, max_review_cards, session_size, easy_bonus, interval_modifier, dark_mode)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			max_new_cards = excluded.max_new_cards,
			max_review_cards = excluded.max_review_cards,
			session_size = excluded.session_size,
			easy_bonus = excluded.easy_bonus,
			interval_modifier = excluded.interval_modifier,
			dark_mode = excluded.dark_mode
	`, s.MaxNewCardsPerSession, s.MaxReviewCardsPerSession, s.SessionSize,
		s.EasyBonus, s.IntervalModifier, boolToInt(s.DarkMode))
	if err != nil {
		return fail("failed to save settings: %w", err)
	}
	return nil
}
