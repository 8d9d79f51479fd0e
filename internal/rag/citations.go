package rag

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/archive-agent/backend/internal/knowledge"
	"github.com/archive-agent/backend/internal/storage/models"
)

const (
	titlePlaceholder  = "Historical Archive Document"
	sourcePlaceholder = "Archives"
	pagePlaceholder   = "N/A"
	defaultConfidence = 0.8

	titleLimit   = 100
	excerptLimit = 200
)

// ExtractCitations builds one Citation per grounded citation. Missing fields
// at any level fall back to placeholders.
func ExtractCitations(citations []knowledge.Citation) []models.Citation {
	out := make([]models.Citation, 0, len(citations))
	for _, c := range citations {
		var ref knowledge.RetrievedReference
		if len(c.RetrievedReferences) > 0 {
			ref = c.RetrievedReferences[0]
		}

		out = append(out, models.Citation{
			Title:      citationTitle(c.GeneratedResponsePart),
			Source:     citationSource(ref.Location),
			Page:       citationPage(ref.Metadata),
			Confidence: citationConfidence(ref.Metadata),
			Excerpt:    citationExcerpt(ref.Content),
		})
	}
	return out
}

func citationTitle(part *knowledge.ResponsePart) string {
	if part == nil || part.TextResponsePart == nil {
		return titlePlaceholder
	}
	text := strings.TrimSpace(part.TextResponsePart.Text)
	if text == "" {
		return titlePlaceholder
	}
	return ellipsize(text, titleLimit)
}

func citationSource(loc *knowledge.ReferenceLocation) string {
	if loc == nil || strings.TrimSpace(loc.URI) == "" {
		return sourcePlaceholder
	}
	return loc.URI
}

func citationPage(metadata map[string]any) string {
	v, ok := metadata[knowledge.MetadataPage]
	if !ok || v == nil {
		return pagePlaceholder
	}
	switch p := v.(type) {
	case string:
		if strings.TrimSpace(p) == "" {
			return pagePlaceholder
		}
		return p
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	default:
		return fmt.Sprint(p)
	}
}

func citationConfidence(metadata map[string]any) float64 {
	var score float64
	switch v := metadata[knowledge.MetadataScore].(type) {
	case float64:
		score = v
	case float32:
		score = float64(v)
	case int:
		score = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return defaultConfidence
		}
		score = parsed
	default:
		return defaultConfidence
	}
	if math.IsNaN(score) {
		return defaultConfidence
	}
	return math.Max(0, math.Min(1, score))
}

func citationExcerpt(content *knowledge.ReferenceContent) string {
	if content == nil || strings.TrimSpace(content.Text) == "" {
		return ""
	}
	return ellipsize(strings.TrimSpace(content.Text), excerptLimit)
}

// ellipsize keeps the first n runes of s and marks the cut with "...".
func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
