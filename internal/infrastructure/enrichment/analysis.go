package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

const maxPromptSnippet = 4000

// AIAnalysis asks a language model for a summary, keywords, topics and
// sentiment. Its output keys are prefixed with ai_ so they never clobber
// user-edited fields of the same name.
type AIAnalysis struct {
	generator ports.TextGenerator
}

func NewAIAnalysis(generator ports.TextGenerator) *AIAnalysis {
	return &AIAnalysis{generator: generator}
}

func (a *AIAnalysis) Name() string { return domain.CapabilityAIAnalysis }

type analysisResponse struct {
	Summary   string   `json:"summary"`
	Keywords  []string `json:"keywords"`
	Topics    []string `json:"topics"`
	Sentiment string   `json:"sentiment"`
}

func (a *AIAnalysis) Apply(ctx context.Context, in domain.EnrichmentInput) (domain.Metadata, error) {
	if a.generator == nil {
		return nil, fmt.Errorf("ai analysis: no text generator configured")
	}

	raw, err := a.generator.GenerateJSONFromPrompt(ctx, buildAnalysisPrompt(in))
	if err != nil {
		return nil, err
	}

	var resp analysisResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse analysis json: %w", err)
	}

	sentiment := strings.ToUpper(strings.TrimSpace(resp.Sentiment))
	switch sentiment {
	case "POSITIVE", "NEGATIVE", "NEUTRAL":
	default:
		sentiment = "NEUTRAL"
	}

	return domain.Metadata{
		"ai_summary":   strings.TrimSpace(resp.Summary),
		"ai_keywords":  cleanList(resp.Keywords),
		"ai_topics":    cleanList(resp.Topics),
		"ai_sentiment": sentiment,
	}, nil
}

func buildAnalysisPrompt(in domain.EnrichmentInput) string {
	var b strings.Builder
	b.WriteString(`You are a media archivist.
Return strict JSON object with keys:
summary (string, at most 3 sentences), keywords (array of strings), topics (array of strings),
sentiment (one of POSITIVE, NEGATIVE, NEUTRAL).
No markdown, no extra keys.

`)
	fmt.Fprintf(&b, "Filename: %s\nAsset type: %s\n", in.Asset.Filename, in.Asset.AssetType)
	for _, key := range []string{"title", "description", "category"} {
		if v := in.Asset.Metadata.String(key); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(key[:1])+key[1:], v)
		}
	}

	text := sourceText(in)
	if text != "" {
		b.WriteString("\nContent:\n")
		b.WriteString(truncateRunes(text, maxPromptSnippet))
	}
	return b.String()
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = appendUnique(out, strings.TrimSpace(v))
	}
	return out
}
