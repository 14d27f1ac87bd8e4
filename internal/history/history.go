// Package history is the append-only study log that statistics are derived from.
package history

import (
	"context"
	"iter"

	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/sm2"
	"github.com/conorfennell/memorymaster/internal/storage"
)

// Filter narrows a query. The zero value matches every entry.
type Filter = storage.HistoryFilter

// Log appends and queries review events.
type Log struct {
	backend storage.Backend
}

// New returns a Log over the given backend.
func New(backend storage.Backend) *Log {
	return &Log{backend: backend}
}

// Append records one answered card. WasCorrect is derived from the quality,
// which must lie in 0..5.
func (l *Log) Append(ctx context.Context, e domain.StudyHistoryEntry) error {
	q, err := sm2.ParseQuality(e.Quality)
	if err != nil {
		return err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.WasCorrect = q.IsCorrect()
	return l.backend.AppendHistory(ctx, e)
}

// Query returns the matching entries ordered by timestamp, ties in insertion
// order. Nothing is read until the sequence is ranged over, and every range
// starts from the beginning.
func (l *Log) Query(ctx context.Context, f Filter) iter.Seq2[domain.StudyHistoryEntry, error] {
	return l.backend.QueryHistory(ctx, f)
}

// Collect materialises a query.
func Collect(seq iter.Seq2[domain.StudyHistoryEntry, error]) ([]domain.StudyHistoryEntry, error) {
	var out []domain.StudyHistoryEntry
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
