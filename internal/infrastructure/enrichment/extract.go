package enrichment

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

const defaultPreviewRunes = 4000

// TextExtractor pulls readable text out of plain text, PDF and XLSX content.
// Media without a text layer yields an empty fragment.
type TextExtractor struct {
	previewRunes int
}

func NewTextExtractor(previewRunes int) *TextExtractor {
	if previewRunes <= 0 {
		previewRunes = defaultPreviewRunes
	}
	return &TextExtractor{previewRunes: previewRunes}
}

func (e *TextExtractor) Name() string { return domain.CapabilityTextExtraction }

func (e *TextExtractor) Apply(ctx context.Context, in domain.EnrichmentInput) (domain.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, text, err := e.extract(in.Asset, in.Content)
	if err != nil {
		return nil, err
	}
	if format == "" {
		return domain.Metadata{}, nil
	}

	text = strings.TrimSpace(text)
	return domain.Metadata{
		"extracted_format":     format,
		"extracted_text":       truncateRunes(text, e.previewRunes),
		"extracted_characters": utf8.RuneCountInString(text),
		"extracted_words":      len(strings.Fields(text)),
		"extracted_truncated":  utf8.RuneCountInString(text) > e.previewRunes,
	}, nil
}

func (e *TextExtractor) extract(asset domain.Asset, content []byte) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(asset.Filename))
	switch {
	case ext == ".pdf" || asset.MimeType == "application/pdf":
		text, err := extractPDF(content)
		return "pdf", text, err
	case ext == ".xlsx" || asset.MimeType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		text, err := extractXLSX(content)
		return "xlsx", text, err
	case asset.AssetType == domain.AssetTypeText || strings.HasPrefix(asset.MimeType, "text/"):
		if !utf8.Valid(content) {
			return "", "", fmt.Errorf("unsupported binary text encoding: %s", asset.Filename)
		}
		return "plain", string(content), nil
	default:
		return "", "", nil
	}
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func extractXLSX(content []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer func() {
		_ = book.Close()
	}()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
