package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/printloom/api/internal/platform/config"
	"github.com/printloom/api/internal/platform/retryhttp"
	"github.com/printloom/api/internal/providers/shopify"
	"github.com/printloom/api/internal/repositories"
)

// ErrMissingShopDomain is returned when a publish carries no tenant key.
var ErrMissingShopDomain = errors.New("publish: shop domain is required")

// CommercePublisher is the per-shop protocol client created for each publish.
type CommercePublisher interface {
	CreateProductGraphQL(ctx context.Context, input shopify.ProductInput) (shopify.Product, error)
	CreateProductREST(ctx context.Context, input shopify.ProductInput) (shopify.Product, error)
	AttachImage(ctx context.Context, productID, imageURL string) error
}

// PublisherFactory builds a CommercePublisher for a resolved credential.
type PublisherFactory func(shopDomain, token string) (CommercePublisher, error)

// PublishServiceDeps wires credential resolution and the commerce client.
type PublishServiceDeps struct {
	Credentials repositories.CredentialRepository
	Config      config.ShopifyConfig
	Factory     PublisherFactory
	Metrics     MetricsSink
	Logger      *zap.Logger
}

type publishService struct {
	credentials repositories.CredentialRepository
	cfg         config.ShopifyConfig
	factory     PublisherFactory
	metrics     MetricsSink
	logger      *zap.Logger
}

// NewPublishService validates dependencies and builds the orchestrator.
// When no factory is supplied, real clients ride on the retrying transport.
func NewPublishService(deps PublishServiceDeps) (PublishService, error) {
	if deps.Credentials == nil {
		return nil, errors.New("publish service requires a credential repository")
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetricsSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Factory == nil {
		cfg := deps.Config
		logger := deps.Logger
		deps.Factory = func(shopDomain, token string) (CommercePublisher, error) {
			transport := retryhttp.New(nil,
				retryhttp.WithMaxRetries(cfg.MaxRetries),
				retryhttp.WithBaseDelay(cfg.RetryBaseDelay),
				retryhttp.WithLogger(logger),
			)
			return shopify.NewClient(shopDomain, token, cfg.APIVersion, transport.Client(0))
		}
	}
	return &publishService{
		credentials: deps.Credentials,
		cfg:         deps.Config,
		factory:     deps.Factory,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}, nil
}

// Publish creates the catalog product for the tenant. It must be called at
// most once per design; the pipeline owns the duplicate guard.
func (s *publishService) Publish(ctx context.Context, cmd PublishCommand) (PublishOutcome, error) {
	shopDomain := strings.TrimSpace(cmd.ShopDomain)
	if shopDomain == "" {
		return PublishOutcome{}, ErrMissingShopDomain
	}

	token := s.resolveToken(ctx, shopDomain)
	if token == "" {
		// No credential anywhere: hand back a deterministic mock id so an
		// unconfigured environment still completes the pipeline.
		outcome := mockOutcome(shopDomain, cmd.Title)
		s.logger.Info("publish: no credential configured, returning mock product",
			zap.String("shopDomain", shopDomain), zap.String("productId", outcome.ProductID))
		return outcome, nil
	}

	client, err := s.factory(shopDomain, token)
	if err != nil {
		return PublishOutcome{}, fmt.Errorf("publish: build client: %w", err)
	}

	input := shopify.ProductInput{
		Title:           cmd.Title,
		DescriptionHTML: cmd.DescriptionHTML,
		Tags:            cmd.Tags,
		ImageURLs:       cmd.ImageURLs,
		Published:       cmd.PublishImmediately,
	}

	product, err := client.CreateProductGraphQL(ctx, input)
	if err != nil {
		s.logger.Warn("publish: graphql create failed, using legacy endpoint",
			zap.String("shopDomain", shopDomain), zap.Error(err))
		product, err = client.CreateProductREST(ctx, input)
		if err != nil {
			return PublishOutcome{}, fmt.Errorf("publish: create product: %w", err)
		}
		s.metrics.RecordCall(ctx, "shopify", "rest", "productCreate")
		return PublishOutcome{ProductID: product.ID, AdminURL: product.AdminURL}, nil
	}
	s.metrics.RecordCall(ctx, "shopify", "graphql", "productCreate")

	// The mutation cannot carry images; attach them one by one, tolerating
	// individual failures so a bad image cannot unpublish the product.
	for _, imageURL := range cmd.ImageURLs {
		if strings.TrimSpace(imageURL) == "" {
			continue
		}
		if err := client.AttachImage(ctx, product.ID, imageURL); err != nil {
			s.logger.Warn("publish: image attach failed",
				zap.String("productId", product.ID),
				zap.String("imageUrl", imageURL),
				zap.Error(err))
		}
	}

	return PublishOutcome{ProductID: product.ID, AdminURL: product.AdminURL}, nil
}

// resolveToken prefers the per-shop stored credential over the global token.
func (s *publishService) resolveToken(ctx context.Context, shopDomain string) string {
	credential, err := s.credentials.Get(ctx, shopDomain)
	if err == nil && strings.TrimSpace(credential.AccessToken) != "" {
		return strings.TrimSpace(credential.AccessToken)
	}
	if err != nil && !repositories.IsNotFound(err) {
		s.logger.Warn("publish: credential lookup failed, trying global token",
			zap.String("shopDomain", shopDomain), zap.Error(err))
	}
	return strings.TrimSpace(s.cfg.GlobalAccessToken)
}

func mockOutcome(shopDomain, title string) PublishOutcome {
	sum := sha256.Sum256([]byte(shopDomain + "\x00" + title))
	id := "mock-" + hex.EncodeToString(sum[:6])
	return PublishOutcome{
		ProductID: id,
		AdminURL:  fmt.Sprintf("https://%s/admin/products/%s", shopDomain, id),
		Mocked:    true,
	}
}
