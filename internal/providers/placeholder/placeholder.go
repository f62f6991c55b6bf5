// Package placeholder produces static stand-in image references used when
// every real provider tier has failed. The URLs embed the truncated prompt
// so a merchant can still tell which scene a slot was meant to hold.
package placeholder

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/printloom/api/internal/domain"
)

// ProviderTag marks results produced by this tier.
const ProviderTag = "fallback-placeholder"

const (
	baseURL        = "https://placehold.co"
	maxPromptChars = 48
)

// ImageURL returns a placeholder image reference for the prompt and shape.
func ImageURL(prompt string, shape domain.ImageShape) string {
	return fmt.Sprintf("%s/%s/e2e8f0/475569/png?text=%s",
		baseURL, dimensions(shape), url.QueryEscape(TruncatePrompt(prompt)))
}

// Result wraps ImageURL in the waterfall's result type.
func Result(prompt string, shape domain.ImageShape) domain.GenerationResult {
	return domain.GenerationResult{
		ImageURL: ImageURL(prompt, shape),
		Provider: ProviderTag,
		Message:  "all providers unavailable, served placeholder",
	}
}

// TruncatePrompt shortens the prompt for use as overlay text.
func TruncatePrompt(prompt string) string {
	trimmed := strings.Join(strings.Fields(prompt), " ")
	if trimmed == "" {
		return "design"
	}
	if len(trimmed) <= maxPromptChars {
		return trimmed
	}
	cut := trimmed[:maxPromptChars]
	if idx := strings.LastIndex(cut, " "); idx > maxPromptChars/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func dimensions(shape domain.ImageShape) string {
	switch shape {
	case domain.ImageShapePortrait, domain.ImageShapeTallPortrait:
		return "1024x1536"
	case domain.ImageShapeLandscape, domain.ImageShapeWideLandscape:
		return "1536x1024"
	default:
		return "1024x1024"
	}
}
