package knol

import (
	"testing"

	"github.com/conorfennell/memorymaster/internal/domain"
)

func TestNormalize(t *testing.T) {
	card := domain.Content{
		Front: "  What is HTMX? \r\n",
		Back:  "A library for\r\nAJAX.",
		Tags:  []string{"web"},
	}
	expected := "what is htmx?\na library for\najax."
	if normalized := Normalize(card); normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestHash(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		// Hash for "q\na"
		expectedHash := "27d2d5c8276a1f606af38834a9294ae5d3bfc6c5097c03e3fdd6e8c5c37e2ba7"
		if hash := Hash(domain.Content{Front: "Q", Back: "A"}); hash != expectedHash {
			t.Errorf("Expected hash '%s', but got '%s'", expectedHash, hash)
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		card1 := domain.Content{Front: "  what is go? ", Back: "A programming language."}
		card2 := domain.Content{Front: "What Is Go?", Back: "A programming language.", Tags: []string{"go"}}
		if Hash(card1) != Hash(card2) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("different cards have different hashes", func(t *testing.T) {
		testCases := []struct{ a, b domain.Content }{
			{domain.Content{Front: "Card 1"}, domain.Content{Front: "Card 2"}},
			{domain.Content{Front: "ab", Back: "c"}, domain.Content{Front: "a", Back: "bc"}},
			{domain.Content{Front: "x", Back: "y"}, domain.Content{Front: "y", Back: "x"}},
		}
		for _, tc := range testCases {
			if Hash(tc.a) == Hash(tc.b) {
				t.Errorf("Expected %+v and %+v to hash differently", tc.a, tc.b)
			}
		}
	})
}
