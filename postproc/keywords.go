package postproc

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/plugin"
)

// Keyword is a ranked key phrase.
type Keyword struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Keywords extracts key phrases with RAKE: candidate phrases are the runs
// of words between stopwords and punctuation, a word scores degree over
// frequency, a phrase scores the sum of its words. Scores are scaled so the
// best phrase is 1.
type Keywords struct{}

func (Keywords) Name() string        { return "keywords" }
func (Keywords) Priority() int       { return 0 }
func (Keywords) Stage() plugin.Stage { return plugin.StageLate }

func (Keywords) ShouldProcess(_ *document.Result, cfg *config.ExtractionConfig) bool {
	return cfg != nil && cfg.Keywords != nil && cfg.Keywords.MaxKeywords > 0
}

func (Keywords) Process(ctx context.Context, res *document.Result, cfg *config.ExtractionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kc := cfg.Keywords
	lang := kc.Language
	if len(res.DetectedLanguages) > 0 {
		lang = res.DetectedLanguages[0].Code
	}
	kws := ExtractKeywords(res.Content, kc.MaxKeywords, kc.MinScore, lang)
	if len(kws) == 0 {
		return nil
	}
	texts := make([]string, len(kws))
	for i, k := range kws {
		texts[i] = k.Text
	}
	setMeta(res, document.MetaKeywords, texts)
	return nil
}

// maxPhraseWords bounds candidate phrase length.
const maxPhraseWords = 4

// ExtractKeywords returns at most limit phrases scoring at least minScore,
// best first. Ties are broken alphabetically.
func ExtractKeywords(text string, limit int, minScore float64, lang string) []Keyword {
	stop := stopwordsFor(lang)
	phrases := candidatePhrases(text, stop)
	if len(phrases) == 0 {
		return nil
	}

	freq := map[string]float64{}
	degree := map[string]float64{}
	for _, p := range phrases {
		for _, w := range p {
			freq[w]++
			degree[w] += float64(len(p))
		}
	}

	scores := map[string]float64{}
	for _, p := range phrases {
		var s float64
		for _, w := range p {
			s += degree[w] / freq[w]
		}
		key := strings.Join(p, " ")
		scores[key] = max(scores[key], s)
	}

	best := 0.0
	for _, s := range scores {
		best = max(best, s)
	}
	out := make([]Keyword, 0, len(scores))
	for k, s := range scores {
		norm := math.Round(s/best*1000) / 1000
		if norm < minScore {
			continue
		}
		out = append(out, Keyword{Text: k, Score: norm})
	}
	slices.SortFunc(out, func(a, b Keyword) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Text, b.Text)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func candidatePhrases(text string, stop map[string]bool) [][]string {
	var (
		phrases [][]string
		current []string
	)
	flush := func() {
		if len(current) > 0 && len(current) <= maxPhraseWords {
			phrases = append(phrases, current)
		}
		current = nil
	}

	var word strings.Builder
	endWord := func(boundary bool) {
		if word.Len() > 0 {
			w := strings.ToLower(word.String())
			word.Reset()
			if stop[w] || utf8.RuneCountInString(w) < 2 || isNumber(w) {
				flush()
			} else {
				current = append(current, w)
			}
		}
		if boundary {
			flush()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'':
			word.WriteRune(r)
		case unicode.IsSpace(r):
			endWord(false)
		default:
			endWord(true)
		}
	}
	endWord(true)
	return phrases
}

func isNumber(w string) bool {
	return strings.IndexFunc(w, func(r rune) bool { return !unicode.IsDigit(r) && r != '-' }) < 0
}
