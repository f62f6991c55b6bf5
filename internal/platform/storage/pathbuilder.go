package storage

import (
	"fmt"
	"strings"
)

// ObjectPath composes the canonical storage path for a design asset.
// Layout: designs/<shop>/<designID>/<assetID>.<ext>
func ObjectPath(shopDomain, designID, assetID, contentType string) string {
	return fmt.Sprintf("designs/%s/%s/%s.%s",
		sanitizeSegment(shopDomain),
		sanitizeSegment(designID),
		sanitizeSegment(assetID),
		extensionFor(contentType),
	)
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

func sanitizeSegment(segment string) string {
	trimmed := strings.TrimSpace(strings.ToLower(segment))
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "unknown"
	}
	return out
}
