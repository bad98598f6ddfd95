package summarize

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/visionscript/capture-service/internal/models"
)

var sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"but": true, "by": true, "for": true, "from": true, "has": true, "have": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "were": true, "will": true, "with": true,
}

// LocalProvider is an extractive frequency summarizer that needs no network
type LocalProvider struct{}

// NewLocalProvider creates a local provider
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Summarize keeps the highest scoring sentences in their original order
func (p *LocalProvider) Summarize(ctx context.Context, req models.SummaryRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sentences := splitSentences(req.Text)
	if len(sentences) == 0 {
		return "", ErrEmptyText
	}

	keep := sentenceBudget(len(sentences), req.Length)
	picked := rankSentences(sentences)[:keep]
	sort.Ints(picked)

	out := make([]string, len(picked))
	for i, idx := range picked {
		out[i] = sentences[idx]
	}

	if req.Type == "bullets" {
		for i := range out {
			out[i] = "• " + out[i]
		}
		return strings.Join(out, "\n"), nil
	}
	return strings.Join(out, " "), nil
}

func splitSentences(text string) []string {
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func sentenceBudget(total int, length string) int {
	var ratio float64
	switch length {
	case "short":
		ratio = 0.2
	case "long":
		ratio = 0.5
	default:
		ratio = 0.35
	}
	keep := int(float64(total)*ratio + 0.5)
	if keep < 1 {
		keep = 1
	}
	if keep > total {
		keep = total
	}
	return keep
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// rankSentences returns sentence indexes ordered by descending score, ties
// broken by position
func rankSentences(sentences []string) []int {
	freq := map[string]int{}
	for _, s := range sentences {
		for _, w := range words(s) {
			if !stopWords[w] {
				freq[w]++
			}
		}
	}

	scores := make([]float64, len(sentences))
	for i, s := range sentences {
		ws := words(s)
		if len(ws) == 0 {
			continue
		}
		total := 0
		for _, w := range ws {
			total += freq[w]
		}
		scores[i] = float64(total) / float64(len(ws))
	}

	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}
