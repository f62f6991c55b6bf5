package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/poll"
	"github.com/printloom/api/internal/platform/storage"
	"github.com/printloom/api/internal/providers/printful"
)

// ErrMissingArtwork is returned when a mockup is requested without artwork.
var ErrMissingArtwork = errors.New("mockup: artwork url is required")

const (
	mockupPollInterval = 2 * time.Second
	mockupPollDeadline = 60 * time.Second
)

// catalogProducts maps product categories onto default catalog product ids.
var catalogProducts = map[string]int64{
	"t-shirt": 71,
	"mug":     19,
	"poster":  1,
	"hoodie":  146,
}

// MockupProvider is the catalog-backed render pipeline.
type MockupProvider interface {
	Configured() bool
	FetchPrintfiles(ctx context.Context, productID int64) (printful.Printfiles, error)
	CreateTask(ctx context.Context, productID int64, pf printful.Printfiles, imageURL string) (string, error)
	CheckTask(ctx context.Context, taskKey string) (poll.Observation[[]string], error)
}

// MockupServiceDeps wires the catalog provider, the waterfall fallback, and
// the persister used to host artwork the provider cannot fetch.
type MockupServiceDeps struct {
	Provider   MockupProvider
	Generation GenerationService
	Persister  AssetPersister
	Metrics    MetricsSink
	Logger     *zap.Logger

	// PollInterval and PollDeadline bound the render task polling; zero
	// values take the defaults.
	PollInterval time.Duration
	PollDeadline time.Duration
}

type mockupService struct {
	provider     MockupProvider
	generation   GenerationService
	persister    AssetPersister
	metrics      MetricsSink
	logger       *zap.Logger
	pollInterval time.Duration
	pollDeadline time.Duration
}

// NewMockupService validates dependencies and builds the resolver.
func NewMockupService(deps MockupServiceDeps) (MockupService, error) {
	if deps.Provider == nil {
		return nil, errors.New("mockup service requires a catalog provider")
	}
	if deps.Generation == nil {
		return nil, errors.New("mockup service requires a generation service")
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetricsSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = mockupPollInterval
	}
	if deps.PollDeadline <= 0 {
		deps.PollDeadline = mockupPollDeadline
	}
	return &mockupService{
		provider:     deps.Provider,
		generation:   deps.Generation,
		persister:    deps.Persister,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		pollInterval: deps.PollInterval,
		pollDeadline: deps.PollDeadline,
	}, nil
}

// ResolveMockup prefers the catalog provider and falls back to the
// generation waterfall only when the catalog path fails.
func (s *mockupService) ResolveMockup(ctx context.Context, cmd ResolveMockupCommand) (domain.GenerationResult, error) {
	if strings.TrimSpace(cmd.ArtworkURL) == "" {
		return domain.GenerationResult{}, ErrMissingArtwork
	}

	if s.provider.Configured() {
		result, err := s.renderCatalogMockup(ctx, cmd)
		if err == nil {
			s.metrics.RecordCall(ctx, "printful", "mockup-generator", "render")
			return result, nil
		}
		s.logger.Warn("mockup: catalog provider failed, falling back to generation",
			zap.String("designId", cmd.DesignID), zap.Error(err))
	}

	return s.generation.GenerateImage(ctx, GenerateImageCommand{
		Prompt:       compositionPrompt(cmd.Category),
		ReferenceURL: cmd.ArtworkURL,
		Shape:        domain.ImageShapeSquare,
	})
}

func (s *mockupService) renderCatalogMockup(ctx context.Context, cmd ResolveMockupCommand) (domain.GenerationResult, error) {
	productID := cmd.CatalogProductID
	if productID == 0 {
		mapped, ok := catalogProducts[strings.ToLower(strings.TrimSpace(cmd.Category))]
		if !ok {
			return domain.GenerationResult{}, fmt.Errorf("mockup: category %q has no catalog product", cmd.Category)
		}
		productID = mapped
	}

	artworkURL, err := s.ensureAddressable(ctx, cmd)
	if err != nil {
		return domain.GenerationResult{}, err
	}

	pf, err := s.provider.FetchPrintfiles(ctx, productID)
	if err != nil {
		return domain.GenerationResult{}, err
	}

	taskKey, err := s.provider.CreateTask(ctx, productID, pf, artworkURL)
	if err != nil {
		return domain.GenerationResult{}, err
	}

	urls, err := poll.Until(ctx, s.pollInterval, s.pollDeadline,
		func(ctx context.Context) (poll.Observation[[]string], error) {
			return s.provider.CheckTask(ctx, taskKey)
		})
	if err != nil {
		return domain.GenerationResult{}, err
	}
	if len(urls) == 0 {
		return domain.GenerationResult{}, errors.New("mockup: render task completed without images")
	}

	return domain.GenerationResult{
		ImageURL: urls[0],
		Provider: "printful",
		Message:  fmt.Sprintf("rendered catalog mockup for product %d", productID),
	}, nil
}

// ensureAddressable re-hosts artwork the catalog provider cannot fetch
// (data URIs, emulator-local references) on the public assets bucket.
func (s *mockupService) ensureAddressable(ctx context.Context, cmd ResolveMockupCommand) (string, error) {
	url := strings.TrimSpace(cmd.ArtworkURL)
	if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
		return url, nil
	}
	if s.persister == nil {
		return "", fmt.Errorf("mockup: artwork %q is not externally addressable", truncateURL(url))
	}

	objectPath := storage.ObjectPath(cmd.ShopDomain, cmd.DesignID, "mockup-source", "image/png")
	persisted, err := s.persister.Persist(ctx, url, objectPath)
	if err != nil {
		return "", fmt.Errorf("mockup: host artwork: %w", err)
	}
	return persisted.PublicURL, nil
}

func compositionPrompt(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		category = "product"
	}
	return fmt.Sprintf(
		"Product photo of a %s featuring the supplied artwork. Reproduce the artwork exactly as given, "+
			"without added effects, recoloring, or distortion. Neutral studio background, soft lighting.",
		category)
}

func truncateURL(url string) string {
	if len(url) <= 64 {
		return url
	}
	return url[:64] + "…"
}
