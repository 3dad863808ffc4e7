package chunk

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hazyhaar/kreuzberg/kerr"
)

func TestSplit_ShortText(t *testing.T) {
	text := "Hello world this is a short text."
	chunks, err := Split(text, Options{MaxCharacters: 512, Overlap: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("split short: got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("text: got %q, want %q", chunks[0].Text, text)
	}
	if chunks[0].OverlapPrev != 0 {
		t.Errorf("overlap: got %d, want 0", chunks[0].OverlapPrev)
	}
	if chunks[0].TokenCount != 7 {
		t.Errorf("token count: got %d, want 7", chunks[0].TokenCount)
	}
}

func TestSplit_Empty(t *testing.T) {
	chunks, err := Split("", Options{MaxCharacters: 10})
	if err != nil {
		t.Fatal(err)
	}
	if chunks != nil {
		t.Errorf("split empty: got %v, want nil", chunks)
	}

	chunks, _ = Split("   \n ", Options{MaxCharacters: 10, Trim: true})
	if chunks != nil {
		t.Errorf("split blank with trim: got %v, want nil", chunks)
	}
}

// WHAT: every chunk but the last has exactly MaxCharacters runes and
// neighbours share exactly Overlap runes.
func TestSplit_Invariant(t *testing.T) {
	text := strings.Repeat("Kreuzberg extrait du texte. Ünïcödé → ok. ", 40)
	tests := []struct{ max, overlap int }{
		{1, 0}, {7, 3}, {50, 0}, {50, 49}, {100, 20}, {1000, 200}, {5000, 10},
	}
	for _, tt := range tests {
		chunks, err := Split(text, Options{MaxCharacters: tt.max, Overlap: tt.overlap})
		if err != nil {
			t.Fatalf("(%d,%d): %v", tt.max, tt.overlap, err)
		}
		for i, c := range chunks {
			n := utf8.RuneCountInString(c.Text)
			if i < len(chunks)-1 && n != tt.max {
				t.Fatalf("(%d,%d) chunk[%d]: %d runes, want %d", tt.max, tt.overlap, i, n, tt.max)
			}
			if i == len(chunks)-1 && (n == 0 || n > tt.max) {
				t.Fatalf("(%d,%d) last chunk: %d runes", tt.max, tt.overlap, n)
			}
			if c.Index != i {
				t.Errorf("chunk[%d]: index=%d", i, c.Index)
			}
			if text[c.ByteStart:c.ByteEnd] != c.Text {
				t.Fatalf("(%d,%d) chunk[%d]: byte range does not match text", tt.max, tt.overlap, i)
			}
			if i > 0 {
				prev := []rune(chunks[i-1].Text)
				cur := []rune(c.Text)
				if tt.overlap > 0 && string(prev[len(prev)-tt.overlap:]) != string(cur[:tt.overlap]) {
					t.Fatalf("(%d,%d) chunk[%d]: overlap mismatch", tt.max, tt.overlap, i)
				}
			}
		}
		// Reassembling without the overlaps yields the input.
		var sb strings.Builder
		for i, c := range chunks {
			r := []rune(c.Text)
			if i > 0 {
				r = r[tt.overlap:]
			}
			sb.WriteString(string(r))
		}
		if sb.String() != text {
			t.Fatalf("(%d,%d): reassembled text differs", tt.max, tt.overlap)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		max, overlap int
		ok           bool
		mention      string
	}{
		{1000, 200, true, ""},
		{1000, 0, true, ""},
		{1000, 1000, false, "overlap"},
		{100, 100, false, "overlap"},
		{100, 150, false, "overlap"},
		{100, -1, false, "overlap"},
		{0, 0, false, "max_characters"},
		{-5, 0, false, "max_characters"},
	}
	for _, tt := range tests {
		err := Validate(tt.max, tt.overlap)
		if tt.ok {
			if err != nil {
				t.Errorf("Validate(%d,%d): %v", tt.max, tt.overlap, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("Validate(%d,%d): expected error", tt.max, tt.overlap)
			continue
		}
		if !errors.Is(err, kerr.ErrValidation) {
			t.Errorf("Validate(%d,%d): not a validation error: %v", tt.max, tt.overlap, err)
		}
		if !strings.Contains(err.Error(), tt.mention) {
			t.Errorf("Validate(%d,%d): %q does not mention %q", tt.max, tt.overlap, err, tt.mention)
		}
	}
}

func TestSplit_RejectsBeforeWork(t *testing.T) {
	chunks, err := Split("some text", Options{MaxCharacters: 10, Overlap: 10})
	if err == nil || chunks != nil {
		t.Fatalf("expected validation failure, got %v, %v", chunks, err)
	}
}

func TestCountTokens(t *testing.T) {
	if got := CountTokens("one two three four five"); got != 5 {
		t.Errorf("CountTokens: got %d, want 5", got)
	}
}
