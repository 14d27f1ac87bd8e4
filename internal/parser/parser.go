// Package parser reads flashcards out of markdown files.
//
// A card starts with a "Q:" line (the front) followed by an "A:" line (the
// back) and an optional "T:" line of comma-separated tags. Front and back may
// continue over several lines. A card ends at the next "Q:" or at a "---" line.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/memorymaster/internal/domain"
)

const (
	frontPrefix = "Q:"
	backPrefix  = "A:"
	tagsPrefix  = "T:"
	separator   = "---"
)

type state int

const (
	seeking state = iota
	readingFront
	readingBack
	readingTags
)

// ParseFile reads a file from the given path and extracts all cards.
func ParseFile(path string) ([]domain.Content, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func stripPrefix(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}

// Parse reads from an io.Reader and extracts all cards. Blocks without a
// front are ignored; a missing back is kept so the caller can report it.
func Parse(r io.Reader) ([]domain.Content, error) {
	scanner := bufio.NewScanner(r)
	var cards []domain.Content
	var current domain.Content
	var block []string
	st := seeking

	flush := func() {
		if len(block) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(block, "\n"))
		switch st {
		case readingFront:
			current.Front = text
		case readingBack:
			current.Back = text
		case readingTags:
			current.Tags = append(current.Tags, splitTags(text)...)
		}
		block = nil
	}

	finishCard := func() {
		flush()
		if current.Front != "" {
			cards = append(cards, current)
		}
		current = domain.Content{}
		st = seeking
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.TrimSpace(line) == separator:
			finishCard()
		case strings.HasPrefix(line, frontPrefix):
			// A new front always starts a new card.
			finishCard()
			st = readingFront
			block = append(block, stripPrefix(line, frontPrefix))
		case strings.HasPrefix(line, backPrefix):
			flush()
			st = readingBack
			block = append(block, stripPrefix(line, backPrefix))
		case strings.HasPrefix(line, tagsPrefix):
			flush()
			st = readingTags
			block = append(block, stripPrefix(line, tagsPrefix))
		case st == readingTags:
			// Tags are a single line; anything after belongs to no field.
			flush()
			st = seeking
		case st != seeking:
			block = append(block, line)
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cards, nil
}
