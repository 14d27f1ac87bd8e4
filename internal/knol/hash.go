// Package knol identifies card content independently of formatting, so the
// same card imported twice is recognised.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/memorymaster/internal/domain"
)

func normalizePart(part string) string {
	p := strings.ToLower(part)
	p = strings.ReplaceAll(p, "\r\n", "\n")
	return strings.TrimSpace(p)
}

// Normalize joins the cleaned front and back of a card. Tags and images do
// not take part: retagging a card does not make it a different card.
func Normalize(c domain.Content) string {
	// The newline keeps "ab"+"c" distinct from "a"+"bc".
	return normalizePart(c.Front) + "\n" + normalizePart(c.Back)
}

// Hash returns the SHA-256 of the normalized content as a hex string.
func Hash(c domain.Content) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(Normalize(c))))
}
