package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/providers/openai"
)

const (
	maxTitleLength  = 60
	defaultCategory = "apparel"
)

// ListingCopyProvider generates structured listing copy.
type ListingCopyProvider interface {
	Configured() bool
	GenerateListingCopy(ctx context.Context, concept, category string) (openai.RawListingCopy, error)
}

// CopyServiceDeps wires the provider and ambient collaborators.
type CopyServiceDeps struct {
	Provider ListingCopyProvider
	Metrics  MetricsSink
	Logger   *zap.Logger
}

type copyService struct {
	provider  ListingCopyProvider
	metrics   MetricsSink
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
	stripper  *bluemonday.Policy
}

// NewCopyService builds the listing copy generator. The provider may be
// unconfigured; the deterministic fallback then serves every request.
func NewCopyService(deps CopyServiceDeps) (CopyService, error) {
	if deps.Provider == nil {
		return nil, errors.New("copy service requires a provider")
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetricsSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &copyService{
		provider:  deps.Provider,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		sanitizer: bluemonday.UGCPolicy(),
		stripper:  bluemonday.StrictPolicy(),
	}, nil
}

// GenerateListingCopy produces title, description, and tags. Any provider
// failure degrades to the deterministic fallback; this method never fails.
func (s *copyService) GenerateListingCopy(ctx context.Context, concept, category string) (domain.ListingCopy, error) {
	concept = strings.TrimSpace(concept)
	category = strings.TrimSpace(category)
	if category == "" {
		category = defaultCategory
	}

	if s.provider.Configured() {
		raw, err := s.provider.GenerateListingCopy(ctx, concept, category)
		if err == nil {
			s.metrics.RecordCall(ctx, "openai", "copy", "listing")
			return s.normalize(raw, category), nil
		}
		s.logger.Warn("copy: provider failed, using fallback", zap.Error(err))
	}

	return s.fallback(concept, category), nil
}

func (s *copyService) normalize(raw openai.RawListingCopy, category string) domain.ListingCopy {
	title := strings.TrimSpace(raw.Title)
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength])
	}

	html := s.sanitizer.Sanitize(raw.Description)
	text := strings.TrimSpace(s.stripper.Sanitize(raw.Description))

	tags := make([]string, 0, len(raw.Tags)+1)
	seen := make(map[string]struct{})
	for _, tag := range append(raw.Tags, category) {
		cleaned := strings.ToLower(strings.TrimSpace(tag))
		if cleaned == "" {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		tags = append(tags, cleaned)
	}

	return domain.ListingCopy{
		Title:           title,
		DescriptionHTML: html,
		DescriptionText: text,
		Tags:            tags,
		Provider:        "openai",
	}
}

// fallback synthesises copy from the raw concept. It is fully
// deterministic so an unconfigured environment behaves reproducibly.
func (s *copyService) fallback(concept, category string) domain.ListingCopy {
	title := concept
	if title == "" {
		title = "Custom " + titleCase(category)
	}
	if len(title) > maxTitleLength {
		cut := title[:maxTitleLength]
		if idx := strings.LastIndex(cut, " "); idx > maxTitleLength/2 {
			cut = cut[:idx]
		}
		title = strings.TrimSpace(cut)
	}

	text := fmt.Sprintf("%s. Printed on demand on a premium %s. Designed from the concept: %s.",
		title, category, concept)
	if concept == "" {
		text = fmt.Sprintf("%s. Printed on demand on a premium %s.", title, category)
	}

	return domain.ListingCopy{
		Title:           title,
		DescriptionHTML: "<p>" + text + "</p>",
		DescriptionText: text,
		Tags:            []string{"custom", "print-on-demand", strings.ToLower(category)},
		Provider:        "fallback-copy",
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
