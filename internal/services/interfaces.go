// Package services contains the orchestration layer: the provider
// waterfall, mockup resolution, listing copy, commerce publish, and the
// finalize pipeline. Services accept interfaces and return plain domain
// values; nothing framework-specific crosses this boundary.
package services

import (
	"context"
	"time"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/jobs"
	"github.com/printloom/api/internal/platform/storage"
)

// Clock supplies the current time; injectable for deterministic tests.
type Clock func() time.Time

// IDGenerator mints identifiers for new records.
type IDGenerator func() string

// MetricsSink records one provider call for cost tracking. Implementations
// must be safe for concurrent use.
type MetricsSink interface {
	RecordCall(ctx context.Context, provider, model, operation string)
}

// NoopMetricsSink discards all recordings.
type NoopMetricsSink struct{}

// RecordCall implements MetricsSink.
func (NoopMetricsSink) RecordCall(context.Context, string, string, string) {}

// EventPublisher emits pipeline analytics events.
type EventPublisher interface {
	PublishPipelineEvent(ctx context.Context, event jobs.PipelineEvent) (string, error)
}

// AssetPersister copies remote provider images into durable storage.
type AssetPersister interface {
	Persist(ctx context.Context, sourceURL, objectPath string) (storage.Persisted, error)
	PublicURL(objectPath string) string
}

// GenerateImageCommand describes one waterfall image request.
type GenerateImageCommand struct {
	Prompt       string
	ReferenceURL string
	Shape        domain.ImageShape
}

// GenerationService runs the provider waterfall for a single image.
type GenerationService interface {
	GenerateImage(ctx context.Context, cmd GenerateImageCommand) (domain.GenerationResult, error)
}

// ResolveMockupCommand describes a mockup request for isolated artwork.
type ResolveMockupCommand struct {
	ArtworkURL       string
	Category         string
	CatalogProductID int64
	// PersistRef names the design/asset used when the artwork must be
	// re-hosted before the catalog provider can fetch it.
	ShopDomain string
	DesignID   string
}

// MockupService turns isolated artwork into a product photo.
type MockupService interface {
	ResolveMockup(ctx context.Context, cmd ResolveMockupCommand) (domain.GenerationResult, error)
}

// CopyService produces listing copy with a deterministic offline fallback.
type CopyService interface {
	GenerateListingCopy(ctx context.Context, concept, category string) (domain.ListingCopy, error)
}

// PublishCommand carries everything needed to create the catalog product.
type PublishCommand struct {
	ShopDomain         string
	Title              string
	DescriptionHTML    string
	Tags               []string
	ImageURLs          []string
	PublishImmediately bool
}

// PublishOutcome identifies the created (or mocked) product.
type PublishOutcome struct {
	ProductID string
	AdminURL  string
	Mocked    bool
}

// PublishService creates the catalog product. It carries no duplicate
// detection; the pipeline guards against double publish.
type PublishService interface {
	Publish(ctx context.Context, cmd PublishCommand) (PublishOutcome, error)
}

// FinalizeCommand starts a finalize run for a design.
type FinalizeCommand struct {
	DesignID           string
	ScenePrompts       []string
	PublishImmediately bool
}

// FinalizeResult aggregates the outcome of one finalize run.
type FinalizeResult struct {
	DesignID         string
	Status           domain.DesignStatus
	LifestyleImages  []domain.GenerationResult
	TransparentURL   string
	Copy             domain.ListingCopy
	ProductID        string
	AdminURL         string
	AlreadyPublished bool
	PublishError     string
	Provider         string
	Message          string
}

// PipelineService sequences the finalize steps and the publish retry.
type PipelineService interface {
	Finalize(ctx context.Context, cmd FinalizeCommand) (FinalizeResult, error)
	RetryPublish(ctx context.Context, designID string) (PublishOutcome, error)
	ExtractArtwork(ctx context.Context, designID string) (domain.GenerationResult, error)
}

// GeneratePreviewCommand creates a design and its base artwork.
type GeneratePreviewCommand struct {
	ShopDomain string
	Concept    string
	Category   string
	Prompt     string
	Shape      domain.ImageShape
}

// ReviseArtworkCommand generates a replacement artwork revision.
type ReviseArtworkCommand struct {
	DesignID string
	Prompt   string
	Shape    domain.ImageShape
}

// DesignService owns design CRUD plus the preview, revision, and mockup
// operations that run ahead of finalize.
type DesignService interface {
	GeneratePreview(ctx context.Context, cmd GeneratePreviewCommand) (domain.Design, domain.DesignAsset, error)
	ReviseArtwork(ctx context.Context, cmd ReviseArtworkCommand) (domain.Design, domain.DesignAsset, error)
	GenerateMockup(ctx context.Context, designID string) (domain.Design, domain.DesignAsset, error)
	GetDesign(ctx context.Context, designID string) (domain.Design, error)
	ListDesigns(ctx context.Context, shopDomain string, pager domain.Pagination) (domain.CursorPage[domain.Design], error)
}
