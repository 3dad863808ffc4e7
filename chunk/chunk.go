// Package chunk splits extracted text into bounded, overlapping segments.
//
// Segmentation is greedy and counted in characters (runes): every chunk but
// the last holds exactly MaxCharacters runes and consecutive chunks share
// Overlap runes.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/kreuzberg/kerr"
)

// Options configures Split.
type Options struct {
	MaxCharacters int
	Overlap       int
	// Trim strips leading and trailing whitespace from the whole text before
	// splitting. Chunk boundaries are never adjusted.
	Trim bool
}

// Chunk is one segment of the input text.
type Chunk struct {
	Text        string `json:"text"`
	Index       int    `json:"index"`
	ByteStart   int    `json:"byte_start"`
	ByteEnd     int    `json:"byte_end"`
	TokenCount  int    `json:"token_count"`
	OverlapPrev int    `json:"overlap_prev"` // runes shared with the previous chunk
}

// Validate checks a (max, overlap) pair. It fails when max is not positive,
// overlap is negative, or overlap is not strictly smaller than max.
func Validate(maxCharacters, overlap int) error {
	if maxCharacters <= 0 {
		return kerr.Validation("chunking: max_characters must be > 0, got %d", maxCharacters)
	}
	if overlap < 0 {
		return kerr.Validation("chunking: overlap must be >= 0, got %d", overlap)
	}
	if overlap >= maxCharacters {
		return kerr.Validation("chunking: overlap (%d) must be less than max_characters (%d)", overlap, maxCharacters)
	}
	return nil
}

// Split segments text. It returns nil for empty text and an error for
// invalid options; no work is done before validation.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := Validate(opts.MaxCharacters, opts.Overlap); err != nil {
		return nil, err
	}
	if opts.Trim {
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return nil, nil
	}

	// offsets[i] is the byte offset of rune i; offsets[n] == len(text).
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	n := len(offsets)
	offsets = append(offsets, len(text))

	step := opts.MaxCharacters - opts.Overlap
	var chunks []Chunk
	for start := 0; ; start += step {
		end := min(start+opts.MaxCharacters, n)
		s := text[offsets[start]:offsets[end]]
		c := Chunk{
			Text:       s,
			Index:      len(chunks),
			ByteStart:  offsets[start],
			ByteEnd:    offsets[end],
			TokenCount: CountTokens(s),
		}
		if start > 0 {
			c.OverlapPrev = opts.Overlap
		}
		chunks = append(chunks, c)
		if end == n {
			break
		}
	}
	return chunks, nil
}

// CountTokens counts whitespace-separated tokens.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
