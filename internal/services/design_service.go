package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/storage"
	"github.com/printloom/api/internal/repositories"
)

var (
	// ErrMissingShop is returned when a design operation lacks the tenant key.
	ErrMissingShop = errors.New("design: shop domain is required")
	// ErrMissingConcept is returned when neither a concept nor a prompt is given.
	ErrMissingConcept = errors.New("design: concept or prompt is required")
	// ErrMissingRevisionPrompt is returned when a revision carries no prompt.
	ErrMissingRevisionPrompt = errors.New("design: revision prompt is required")
	// ErrDesignDeleted is returned for operations on a deleted design.
	ErrDesignDeleted = errors.New("design: design is deleted")
	// ErrNoArtwork is returned when a mockup is requested before any artwork exists.
	ErrNoArtwork = errors.New("design: design has no artwork")
)

// DesignServiceDeps wires the repositories and the generation services.
type DesignServiceDeps struct {
	Designs    repositories.DesignRepository
	Assets     repositories.AssetRepository
	Generation GenerationService
	Mockup     MockupService
	Persister  AssetPersister
	Clock      Clock
	IDs        IDGenerator
	Logger     *zap.Logger
}

type designService struct {
	designs    repositories.DesignRepository
	assets     repositories.AssetRepository
	generation GenerationService
	mockup     MockupService
	persister  AssetPersister
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
}

// NewDesignService validates dependencies and builds the service.
func NewDesignService(deps DesignServiceDeps) (DesignService, error) {
	if deps.Designs == nil || deps.Assets == nil {
		return nil, errors.New("design service requires design and asset repositories")
	}
	if deps.Generation == nil {
		return nil, errors.New("design service requires a generation service")
	}
	if deps.Mockup == nil {
		return nil, errors.New("design service requires a mockup service")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDs == nil {
		return nil, errors.New("design service requires an id generator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &designService{
		designs:    deps.Designs,
		assets:     deps.Assets,
		generation: deps.Generation,
		mockup:     deps.Mockup,
		persister:  deps.Persister,
		clock:      deps.Clock,
		ids:        deps.IDs,
		logger:     deps.Logger,
	}, nil
}

// GeneratePreview creates a design record and its base artwork.
func (s *designService) GeneratePreview(ctx context.Context, cmd GeneratePreviewCommand) (domain.Design, domain.DesignAsset, error) {
	shopDomain := strings.TrimSpace(cmd.ShopDomain)
	if shopDomain == "" {
		return domain.Design{}, domain.DesignAsset{}, ErrMissingShop
	}
	concept := strings.TrimSpace(cmd.Concept)
	prompt := strings.TrimSpace(cmd.Prompt)
	if concept == "" && prompt == "" {
		return domain.Design{}, domain.DesignAsset{}, ErrMissingConcept
	}
	if prompt == "" {
		prompt = artworkPrompt(concept, cmd.Category)
	}
	shape := cmd.Shape
	if shape == "" {
		shape = domain.ImageShapeSquare
	}

	result, err := s.generation.GenerateImage(ctx, GenerateImageCommand{Prompt: prompt, Shape: shape})
	if err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: generate preview: %w", err)
	}

	now := s.clock()
	design := domain.Design{
		ID:            "dsg_" + s.ids(),
		ShopDomain:    shopDomain,
		Concept:       concept,
		Category:      strings.TrimSpace(cmd.Category),
		Status:        domain.DesignStatusPreviewReady,
		ArtworkPrompt: prompt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	asset := domain.DesignAsset{
		ID:         "ast_" + s.ids(),
		DesignID:   design.ID,
		ShopDomain: shopDomain,
		Kind:       domain.AssetKindArtwork,
		Role:       domain.AssetRoleBase,
		URL:        result.ImageURL,
		Prompt:     prompt,
		Provider:   result.Provider,
		CreatedAt:  now,
	}
	design.CurrentAssetID = asset.ID

	s.stageInlineAsset(ctx, &asset)
	if err := s.designs.Create(ctx, design); err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: store design: %w", err)
	}
	if err := s.assets.Create(ctx, asset); err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: store asset: %w", err)
	}
	s.persistAsset(ctx, &asset)

	return design, asset, nil
}

// ReviseArtwork generates a replacement artwork revision. History is
// append-only; the design's current artwork moves to the new asset.
func (s *designService) ReviseArtwork(ctx context.Context, cmd ReviseArtworkCommand) (domain.Design, domain.DesignAsset, error) {
	prompt := strings.TrimSpace(cmd.Prompt)
	if prompt == "" {
		return domain.Design{}, domain.DesignAsset{}, ErrMissingRevisionPrompt
	}

	design, err := s.designs.Get(ctx, cmd.DesignID)
	if err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: load design: %w", err)
	}
	if !design.CanRevise() {
		return domain.Design{}, domain.DesignAsset{}, ErrDesignDeleted
	}
	if design.Status == domain.DesignStatusFinalized || design.Status == domain.DesignStatusPublished {
		// Not blocked today; the published product keeps its old images.
		s.logger.Warn("design: revising a finalized design",
			zap.String("designId", design.ID), zap.String("status", string(design.Status)))
	}

	referenceURL := s.currentArtworkURL(ctx, design)
	shape := cmd.Shape
	if shape == "" {
		shape = domain.ImageShapeSquare
	}

	result, err := s.generation.GenerateImage(ctx, GenerateImageCommand{
		Prompt:       prompt,
		ReferenceURL: referenceURL,
		Shape:        shape,
	})
	if err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: revise artwork: %w", err)
	}

	now := s.clock()
	asset := domain.DesignAsset{
		ID:         "ast_" + s.ids(),
		DesignID:   design.ID,
		ShopDomain: design.ShopDomain,
		Kind:       domain.AssetKindArtwork,
		Role:       domain.AssetRoleRevision,
		URL:        result.ImageURL,
		Prompt:     prompt,
		Provider:   result.Provider,
		CreatedAt:  now,
	}
	s.stageInlineAsset(ctx, &asset)
	if err := s.assets.Create(ctx, asset); err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: store asset: %w", err)
	}
	s.persistAsset(ctx, &asset)

	design.Revision++
	design.Status = domain.DesignStatusPreviewReady
	design.ArtworkPrompt = prompt
	design.CurrentAssetID = asset.ID
	design.UpdatedAt = now
	if err := s.designs.Update(ctx, design); err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: store design: %w", err)
	}

	return design, asset, nil
}

// GenerateMockup renders the current artwork onto a product photo.
func (s *designService) GenerateMockup(ctx context.Context, designID string) (domain.Design, domain.DesignAsset, error) {
	design, err := s.designs.Get(ctx, designID)
	if err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: load design: %w", err)
	}
	artworkURL := s.currentArtworkURL(ctx, design)
	if artworkURL == "" {
		return domain.Design{}, domain.DesignAsset{}, ErrNoArtwork
	}

	result, err := s.mockup.ResolveMockup(ctx, ResolveMockupCommand{
		ArtworkURL: artworkURL,
		Category:   design.Category,
		ShopDomain: design.ShopDomain,
		DesignID:   design.ID,
	})
	if err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: generate mockup: %w", err)
	}

	now := s.clock()
	asset := domain.DesignAsset{
		ID:         "ast_" + s.ids(),
		DesignID:   design.ID,
		ShopDomain: design.ShopDomain,
		Kind:       domain.AssetKindMockup,
		Role:       domain.AssetRoleBase,
		URL:        result.ImageURL,
		Provider:   result.Provider,
		CreatedAt:  now,
	}
	s.stageInlineAsset(ctx, &asset)
	if err := s.assets.Create(ctx, asset); err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: store asset: %w", err)
	}
	s.persistAsset(ctx, &asset)

	design.Status = domain.DesignStatusMockupReady
	design.UpdatedAt = now
	if err := s.designs.Update(ctx, design); err != nil {
		return domain.Design{}, domain.DesignAsset{}, fmt.Errorf("design: store design: %w", err)
	}

	return design, asset, nil
}

// GetDesign returns one design by id.
func (s *designService) GetDesign(ctx context.Context, designID string) (domain.Design, error) {
	return s.designs.Get(ctx, designID)
}

// ListDesigns pages a shop's designs, newest first.
func (s *designService) ListDesigns(ctx context.Context, shopDomain string, pager domain.Pagination) (domain.CursorPage[domain.Design], error) {
	if strings.TrimSpace(shopDomain) == "" {
		return domain.CursorPage[domain.Design]{}, ErrMissingShop
	}
	return s.designs.List(ctx, shopDomain, pager)
}

// stageInlineAsset makes an inline data-URI image durable before the asset
// record is written. Base64 payloads blow past document size limits, so the
// record must only ever carry the public url.
func (s *designService) stageInlineAsset(ctx context.Context, asset *domain.DesignAsset) {
	if s.persister == nil || !strings.HasPrefix(asset.URL, "data:") {
		return
	}
	objectPath := storage.ObjectPath(asset.ShopDomain, asset.DesignID, asset.ID, "image/png")
	persisted, err := s.persister.Persist(ctx, asset.URL, objectPath)
	if err != nil {
		s.logger.Warn("design: inline asset persist failed",
			zap.String("assetId", asset.ID), zap.Error(err))
		return
	}
	asset.ObjectPath = persisted.ObjectPath
	asset.URL = persisted.PublicURL
}

// persistAsset copies the asset into durable storage and records the object
// path. Best-effort; provider URLs expire but the record stays usable.
func (s *designService) persistAsset(ctx context.Context, asset *domain.DesignAsset) {
	if s.persister == nil || asset.ObjectPath != "" || !isRemote(asset.URL) {
		return
	}
	objectPath := storage.ObjectPath(asset.ShopDomain, asset.DesignID, asset.ID, "image/png")
	persisted, err := s.persister.Persist(ctx, asset.URL, objectPath)
	if err != nil {
		s.logger.Warn("design: asset persist failed",
			zap.String("assetId", asset.ID), zap.Error(err))
		return
	}
	if err := s.assets.SetObjectPath(ctx, asset.ID, persisted.ObjectPath, persisted.PublicURL); err != nil {
		s.logger.Warn("design: object path update failed",
			zap.String("assetId", asset.ID), zap.Error(err))
		return
	}
	asset.ObjectPath = persisted.ObjectPath
	asset.URL = persisted.PublicURL
}

func (s *designService) currentArtworkURL(ctx context.Context, design domain.Design) string {
	if design.CurrentAssetID == "" {
		return ""
	}
	asset, err := s.assets.Get(ctx, design.CurrentAssetID)
	if err != nil {
		s.logger.Warn("design: current asset lookup failed",
			zap.String("designId", design.ID), zap.Error(err))
		return ""
	}
	return asset.URL
}

func artworkPrompt(concept, category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		category = "product"
	}
	return fmt.Sprintf(
		"Bold graphic artwork of %s, isolated on a plain solid background, no text, "+
			"high contrast, suitable for printing on a %s", concept, category)
}
