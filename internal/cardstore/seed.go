package cardstore

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/conorfennell/memorymaster/internal/domain"
)

//go:embed samples.yaml
var samplesYAML []byte

type sampleSet struct {
	Decks []sampleDeck `yaml:"decks"`
}

type sampleDeck struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Tags        []string    `yaml:"tags"`
	Cards       [][2]string `yaml:"cards"` // front, back
}

func loadSamples() ([]sampleDeck, error) {
	var set sampleSet
	if err := yaml.Unmarshal(samplesYAML, &set); err != nil {
		return nil, fmt.Errorf("decoding sample decks: %w", err)
	}
	return set.Decks, nil
}

// Seed creates the demonstration decks when the store holds no decks at all.
// It returns the decks it created, or nil if the store was not empty.
func (s *Store) Seed(ctx context.Context) ([]domain.Deck, error) {
	existing, err := s.backend.ListDecks(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}

	samples, err := loadSamples()
	if err != nil {
		return nil, err
	}

	var created []domain.Deck
	for _, sd := range samples {
		d, err := s.CreateDeck(ctx, DeckInput{Name: sd.Name, Description: sd.Description})
		if err != nil {
			return created, fmt.Errorf("seeding deck %q: %w", sd.Name, err)
		}
		for _, fb := range sd.Cards {
			content := domain.Content{Front: fb[0], Back: fb[1], Tags: sd.Tags}
			if _, err := s.AddCard(ctx, d.ID, content); err != nil {
				return created, fmt.Errorf("seeding deck %q: %w", sd.Name, err)
			}
		}
		created = append(created, *d)
	}
	s.log.Info("sample decks created", "decks", len(created))
	return created, nil
}
