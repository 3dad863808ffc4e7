package extractors

import (
	"regexp"
	"strings"
	"unicode"
)

// PrintableRatio returns the share of printable runes in text. Private-use
// runes, U+FFFD and control characters other than whitespace count as
// garbage. Empty text scores 1.
func PrintableRatio(text string) float64 {
	if text == "" {
		return 1.0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	case r == unicode.ReplacementChar:
		return true
	case r < 0x0020 && r != '\n' && r != '\r' && r != '\t':
		return true
	}
	return false
}

// WordlikeRatio returns the share of whitespace-separated tokens that are
// between 2 and 15 runes long.
func WordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		if n := len([]rune(f)); n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

var visualRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(voir|cf\.?|see|refer\s+to)\s+(la\s+)?(figure|fig\.?|tableau|table|sch[eé]ma|schema|image|illustration|graphique|graph|diagramme|diagram)\s*\d`),
	regexp.MustCompile(`(?i)(figure|fig\.?|tableau|table)\s+\d+`),
}

// VisualRefs counts references to figures, tables and diagrams.
func VisualRefs(text string) int {
	count := 0
	for _, pat := range visualRefPatterns {
		count += len(pat.FindAllString(text, -1))
	}
	return count
}
