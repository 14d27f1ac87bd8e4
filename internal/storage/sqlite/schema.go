package sqlite

// Timestamps are stored as integer microseconds since the Unix epoch (UTC).
const schema = `
PRAGMA foreign_keys = ON;

-- The 'decks' table stores deck metadata. Cards reference it and are removed with it.
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- The 'cards' table stores card content, SM-2 state and lifetime counters.
-- seq preserves insertion order within a deck.
CREATE TABLE IF NOT EXISTS cards (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    deck_id TEXT NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    front_image TEXT NOT NULL DEFAULT '',
    back_image TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    easiness REAL NOT NULL,
    interval_days INTEGER NOT NULL,
    repetitions INTEGER NOT NULL,
    due_date INTEGER NOT NULL,
    last_reviewed INTEGER,
    is_new INTEGER NOT NULL,
    total_reviews INTEGER NOT NULL DEFAULT 0,
    correct_answers INTEGER NOT NULL DEFAULT 0,
    avg_response_ms REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    UNIQUE(deck_id, id),
    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_cards_deck_due ON cards(deck_id, due_date);

-- The 'study_history' table is append-only. It outlives deleted decks.
CREATE TABLE IF NOT EXISTS study_history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    deck_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    quality INTEGER NOT NULL,
    response_ms INTEGER NOT NULL,
    reviewed_at INTEGER NOT NULL,
    was_correct INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_time ON study_history(reviewed_at, seq);
CREATE INDEX IF NOT EXISTS idx_history_deck ON study_history(deck_id, reviewed_at, seq);

-- The 'settings' table holds a single row of user preferences.
CREATE TABLE IF NOT EXISTS settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    max_new_cards INTEGER NOT NULL,
    max_review_cards INTEGER NOT NULL,
    session_size INTEGER NOT NULL,
    easy_bonus REAL NOT NULL,
    interval_modifier REAL NOT NULL,
    dark_mode INTEGER NOT NULL
);
`
