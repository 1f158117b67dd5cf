package enrichment

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

const defaultMaxKeywords = 10

var (
	positiveTerms = []string{"growth", "success", "excellent", "great", "positive", "improve"}
	negativeTerms = []string{"decline", "failure", "poor", "bad", "negative", "worse"}
)

// KeywordExtractor derives keywords and a lexicon sentiment from text that
// earlier capabilities or the uploader already attached to the asset.
type KeywordExtractor struct {
	maxKeywords int
}

func NewKeywordExtractor(maxKeywords int) *KeywordExtractor {
	if maxKeywords <= 0 {
		maxKeywords = defaultMaxKeywords
	}
	return &KeywordExtractor{maxKeywords: maxKeywords}
}

func (k *KeywordExtractor) Name() string { return domain.CapabilityKeywordExtraction }

func (k *KeywordExtractor) Apply(ctx context.Context, in domain.EnrichmentInput) (domain.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source := sourceText(in)
	keywords := k.rank(source)
	for _, ocr := range in.Asset.Metadata.StringList("ocr_results") {
		if len(keywords) >= k.maxKeywords {
			break
		}
		keywords = appendUnique(keywords, strings.ToLower(strings.TrimSpace(ocr)))
	}

	out := domain.Metadata{"auto_keywords": keywords}
	if source != "" {
		out["auto_sentiment"] = lexiconSentiment(source)
	}
	return out, nil
}

// sourceText prefers freshly extracted text, then uploader-provided fields.
func sourceText(in domain.EnrichmentInput) string {
	for _, candidate := range []string{
		in.Fragment.String("extracted_text"),
		in.Asset.Metadata.String("transcript"),
		in.Asset.Metadata.String("description"),
	} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

// rank orders words longer than four letters by frequency, then by first
// appearance.
func (k *KeywordExtractor) rank(text string) []string {
	type term struct {
		word  string
		count int
		first int
	}
	terms := map[string]*term{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for i, w := range words {
		w = strings.Trim(w, "-")
		if len([]rune(w)) <= 4 {
			continue
		}
		if t, ok := terms[w]; ok {
			t.count++
			continue
		}
		terms[w] = &term{word: w, count: 1, first: i}
	}

	ranked := make([]*term, 0, len(terms))
	for _, t := range terms {
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})

	out := make([]string, 0, k.maxKeywords)
	for _, t := range ranked {
		if len(out) == k.maxKeywords {
			break
		}
		out = append(out, t.word)
	}
	return out
}

func lexiconSentiment(text string) domain.Metadata {
	lower := strings.ToLower(text)
	positive, negative := 0, 0
	for _, t := range positiveTerms {
		if strings.Contains(lower, t) {
			positive++
		}
	}
	for _, t := range negativeTerms {
		if strings.Contains(lower, t) {
			negative++
		}
	}

	overall := "NEUTRAL"
	switch {
	case positive > negative:
		overall = "POSITIVE"
	case negative > positive:
		overall = "NEGATIVE"
	}
	score := 0.0
	if positive+negative > 0 {
		score = float64(positive-negative) / float64(positive+negative)
	}
	return domain.Metadata{
		"overall":                 overall,
		"score":                   score,
		"positive_keywords_found": positive,
		"negative_keywords_found": negative,
	}
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
