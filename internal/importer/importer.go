// Package importer adds cards to a deck from markdown files in a local
// directory or a git repository.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/memorymaster/internal/cardstore"
	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/gitsource"
	"github.com/conorfennell/memorymaster/internal/knol"
	"github.com/conorfennell/memorymaster/internal/logger"
	"github.com/conorfennell/memorymaster/internal/parser"
)

const parseConcurrency = 4

// Report summarises one import.
type Report struct {
	Files   int
	Parsed  int
	Added   int
	Skipped int // already in the deck, or repeated within the source
	Errors  []error
}

// Importer reconciles markdown sources into decks. Cards are only ever added:
// removing a card from the source leaves it, and its schedule, in the deck.
type Importer struct {
	cards    *cardstore.Store
	git      *gitsource.Syncer
	cacheDir string
	log      *logger.Logger
}

// New returns an Importer. Git sources are checked out below cacheDir.
func New(cards *cardstore.Store, git *gitsource.Syncer, cacheDir string, log *logger.Logger) *Importer {
	return &Importer{
		cards:    cards,
		git:      git,
		cacheDir: cacheDir,
		log:      log.With("component", "importer"),
	}
}

// Run imports every .md file under source into the deck. source is a local
// directory or a git URL; a git source is cloned or pulled first.
func (im *Importer) Run(ctx context.Context, deckID, source string) (*Report, error) {
	if _, err := im.cards.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}

	dir := source
	if gitsource.IsRemote(source) {
		path, err := gitsource.LocalPath(im.cacheDir, source)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		if err := im.git.Sync(ctx, source, path); err != nil {
			return nil, err
		}
		dir = path
	}

	existing, err := im.cards.ListCards(ctx, deckID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[knol.Hash(c.Content)] = true
	}

	files, err := markdownFiles(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("importing from %s: %w", source, err)
	}

	// Parse in parallel, add in walk order so insertion order is stable.
	parsed := make([][]domain.Content, len(files))
	parseErrs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i], parseErrs[i] = parser.ParseFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Files: len(files)}
	for i, path := range files {
		if parseErrs[i] != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErrs[i]))
			continue
		}
		for _, content := range parsed[i] {
			report.Parsed++
			hash := knol.Hash(content)
			if known[hash] {
				report.Skipped++
				continue
			}
			card, err := im.cards.AddCard(ctx, deckID, content)
			if errors.Is(err, cardstore.ErrInvalidContent) {
				report.Errors = append(report.Errors, fmt.Errorf("%s: card %q: %w", path, content.Front, err))
				continue
			}
			if err != nil {
				return report, err
			}
			known[hash] = true
			report.Added++
			im.log.Debug("card imported", "deck_id", deckID, "card_id", card.ID, "file", path)
		}
	}

	im.log.Info("import complete",
		"deck_id", deckID,
		"source", source,
		"files", report.Files,
		"parsed", report.Parsed,
		"added", report.Added,
		"skipped", report.Skipped,
		"errors", len(report.Errors),
	)
	return report, nil
}

// markdownFiles lists the .md files under dir in lexical order, skipping
// hidden directories such as .git.
func markdownFiles(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
