package enrichment

import (
	"bufio"
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

// Probe reports technical properties of the raw content.
type Probe struct{}

func NewProbe() *Probe { return &Probe{} }

func (Probe) Name() string { return domain.CapabilityMediaProbe }

func (Probe) Apply(ctx context.Context, in domain.EnrichmentInput) (domain.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := in.Content
	detected := http.DetectContentType(content)
	out := domain.Metadata{
		"probe_mime_type":  detected,
		"probe_size_bytes": len(content),
	}

	switch {
	case strings.HasPrefix(detected, "image/"):
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(content)); err == nil {
			out["probe_image_width"] = cfg.Width
			out["probe_image_height"] = cfg.Height
			out["probe_image_format"] = format
		}
	case strings.HasPrefix(detected, "text/") || (in.Asset.AssetType == domain.AssetTypeText && utf8.Valid(content)):
		lines, words := countText(content)
		out["probe_text_lines"] = lines
		out["probe_text_words"] = words
	}
	return out, nil
}

func countText(content []byte) (lines, words int) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines++
		words += len(bytes.Fields(scanner.Bytes()))
	}
	return lines, words
}
