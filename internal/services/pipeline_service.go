package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/jobs"
	"github.com/printloom/api/internal/platform/storage"
	"github.com/printloom/api/internal/providers/placeholder"
	"github.com/printloom/api/internal/repositories"
)

// ErrNotFinalized is returned by RetryPublish when the design has not been
// through a finalize run yet.
var ErrNotFinalized = errors.New("pipeline: design is not finalized")

const defaultSceneCount = 3

// extractionPrompt asks the image provider to isolate the artwork. Used for
// transparent-artwork extraction when no raw artwork asset exists.
const extractionPrompt = "Isolate the main artwork from this image on a fully transparent background. " +
	"Preserve the artwork's colors, edges, and proportions exactly. Output only the isolated artwork."

// sceneTemplates stage the mockup in different settings. The design category
// is substituted in; the list cycles when more scenes are requested.
var sceneTemplates = []string{
	"Lifestyle photo of this %s in a bright modern living room, natural window light, shallow depth of field",
	"Styled flat lay of this %s on a rustic wooden table with plants and soft morning light",
	"Candid outdoor photo of this %s in an urban street scene, golden hour, slightly out-of-focus background",
}

// PipelineServiceDeps wires the coordinator. Designs, Assets, PublishRecords,
// Generation, Copy, and Publish are required; the rest degrade gracefully.
type PipelineServiceDeps struct {
	Designs        repositories.DesignRepository
	Assets         repositories.AssetRepository
	PublishRecords repositories.PublishRecordRepository
	Generation     GenerationService
	Copy           CopyService
	Publish        PublishService
	Persister      AssetPersister
	Events         EventPublisher
	Clock          Clock
	IDs            IDGenerator
	Logger         *zap.Logger
	SceneCount     int
}

type pipelineService struct {
	designs        repositories.DesignRepository
	assets         repositories.AssetRepository
	publishRecords repositories.PublishRecordRepository
	generation     GenerationService
	copySvc        CopyService
	publish        PublishService
	persister      AssetPersister
	events         EventPublisher
	clock          Clock
	ids            IDGenerator
	logger         *zap.Logger
	sceneCount     int
}

// NewPipelineService validates dependencies and builds the coordinator.
func NewPipelineService(deps PipelineServiceDeps) (PipelineService, error) {
	if deps.Designs == nil || deps.Assets == nil || deps.PublishRecords == nil {
		return nil, errors.New("pipeline service requires design, asset, and publish record repositories")
	}
	if deps.Generation == nil {
		return nil, errors.New("pipeline service requires a generation service")
	}
	if deps.Copy == nil {
		return nil, errors.New("pipeline service requires a copy service")
	}
	if deps.Publish == nil {
		return nil, errors.New("pipeline service requires a publish service")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDs == nil {
		return nil, errors.New("pipeline service requires an id generator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SceneCount <= 0 {
		deps.SceneCount = defaultSceneCount
	}
	return &pipelineService{
		designs:        deps.Designs,
		assets:         deps.Assets,
		publishRecords: deps.PublishRecords,
		generation:     deps.Generation,
		copySvc:        deps.Copy,
		publish:        deps.Publish,
		persister:      deps.Persister,
		events:         deps.Events,
		clock:          deps.Clock,
		ids:            deps.IDs,
		logger:         deps.Logger,
		sceneCount:     deps.SceneCount,
	}, nil
}

// Finalize runs the publish pipeline for one design. Steps degrade
// gracefully; only the entry guard and the finalize claim are fatal.
func (s *pipelineService) Finalize(ctx context.Context, cmd FinalizeCommand) (FinalizeResult, error) {
	design, err := s.designs.ClaimFinalize(ctx, cmd.DesignID, s.clock())
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("pipeline: claim finalize: %w", err)
	}
	if design.IsPublished() {
		return s.cachedResult(ctx, design), nil
	}
	if design.Status == domain.DesignStatusFinalizing {
		// A prior run claimed this design and died before storing its
		// outcome. If it got as far as publishing, the publish record
		// survives; repair from it instead of publishing twice.
		if record, recErr := s.publishRecords.Get(ctx, design.ID); recErr == nil && record.ProductID != "" {
			return s.repairPublished(ctx, design, record)
		}
	}

	logger := s.logger.With(zap.String("designId", design.ID), zap.String("shopDomain", design.ShopDomain))

	priorAssets, err := s.assets.ListByDesign(ctx, design.ID)
	if err != nil {
		logger.Warn("pipeline: asset listing failed, proceeding without history", zap.Error(err))
		priorAssets = nil
	}
	referenceURL := s.referenceImage(design, priorAssets)

	// Steps 1 and 2: lifestyle scenes through the waterfall, then one
	// retry sweep for slots that only got a placeholder.
	prompts := s.scenePrompts(cmd.ScenePrompts, design)
	lifestyle := s.generateScenes(ctx, logger, prompts, referenceURL)

	// Steps 3 and 6: durable copies plus append-only asset records.
	imageURLs := s.persistLifestyle(ctx, logger, design, lifestyle)

	// Step 4: transparent artwork, reused when a raw artwork asset exists.
	transparentURL := s.resolveTransparent(ctx, logger, design, priorAssets, referenceURL)

	// Step 5 never fails.
	listingCopy, err := s.copySvc.GenerateListingCopy(ctx, design.Concept, design.Category)
	if err != nil {
		logger.Warn("pipeline: listing copy failed unexpectedly", zap.Error(err))
		listingCopy = domain.ListingCopy{Title: design.Concept, Provider: "fallback-copy"}
	}

	// Step 7: publish. Failure is carried in the result, not returned.
	result := FinalizeResult{
		DesignID:        design.ID,
		LifestyleImages: lifestyle,
		TransparentURL:  transparentURL,
		Copy:            listingCopy,
	}
	if len(lifestyle) > 0 {
		result.Provider = lifestyle[0].Provider
	}

	outcome, pubErr := s.publish.Publish(ctx, PublishCommand{
		ShopDomain:         design.ShopDomain,
		Title:              listingCopy.Title,
		DescriptionHTML:    listingCopy.DescriptionHTML,
		Tags:               listingCopy.Tags,
		ImageURLs:          imageURLs,
		PublishImmediately: cmd.PublishImmediately,
	})

	now := s.clock()
	design.UpdatedAt = now
	if design.FinalizedAt == nil {
		finalizedAt := now
		design.FinalizedAt = &finalizedAt
	}

	if pubErr != nil {
		logger.Warn("pipeline: publish failed, design stays finalized", zap.Error(pubErr))
		design.Status = domain.DesignStatusFinalized
		result.PublishError = pubErr.Error()
		result.Message = fmt.Sprintf("finalized with %d lifestyle images; publish failed", len(lifestyle))
	} else {
		design.Status = domain.DesignStatusPublished
		design.ProductID = outcome.ProductID
		design.ProductAdminURL = outcome.AdminURL
		result.ProductID = outcome.ProductID
		result.AdminURL = outcome.AdminURL
		result.Message = fmt.Sprintf("published with %d lifestyle images", len(lifestyle))
		s.storePublishRecord(ctx, logger, design, outcome, cmd.PublishImmediately)
	}
	result.Status = design.Status

	if err := s.designs.Update(ctx, design); err != nil {
		return FinalizeResult{}, fmt.Errorf("pipeline: store finalize outcome: %w", err)
	}

	s.emitEvent(ctx, logger, design, result)
	return result, nil
}

// RetryPublish re-runs only the publish step from already-persisted assets.
func (s *pipelineService) RetryPublish(ctx context.Context, designID string) (PublishOutcome, error) {
	design, err := s.designs.Get(ctx, designID)
	if err != nil {
		return PublishOutcome{}, fmt.Errorf("pipeline: load design: %w", err)
	}
	if design.IsPublished() {
		record, recErr := s.publishRecords.Get(ctx, design.ID)
		if recErr == nil {
			return PublishOutcome{ProductID: record.ProductID, AdminURL: record.AdminURL}, nil
		}
		return PublishOutcome{ProductID: design.ProductID, AdminURL: design.ProductAdminURL}, nil
	}
	if design.Status != domain.DesignStatusFinalized {
		return PublishOutcome{}, ErrNotFinalized
	}

	logger := s.logger.With(zap.String("designId", design.ID), zap.String("shopDomain", design.ShopDomain))

	assets, err := s.assets.ListByDesign(ctx, design.ID)
	if err != nil {
		return PublishOutcome{}, fmt.Errorf("pipeline: load assets: %w", err)
	}
	imageURLs := publishImages(assets)

	listingCopy, err := s.copySvc.GenerateListingCopy(ctx, design.Concept, design.Category)
	if err != nil {
		return PublishOutcome{}, fmt.Errorf("pipeline: listing copy: %w", err)
	}

	outcome, err := s.publish.Publish(ctx, PublishCommand{
		ShopDomain:      design.ShopDomain,
		Title:           listingCopy.Title,
		DescriptionHTML: listingCopy.DescriptionHTML,
		Tags:            listingCopy.Tags,
		ImageURLs:       imageURLs,
	})
	if err != nil {
		return PublishOutcome{}, fmt.Errorf("pipeline: publish: %w", err)
	}

	design.Status = domain.DesignStatusPublished
	design.ProductID = outcome.ProductID
	design.ProductAdminURL = outcome.AdminURL
	design.UpdatedAt = s.clock()
	if err := s.designs.Update(ctx, design); err != nil {
		return PublishOutcome{}, fmt.Errorf("pipeline: store publish outcome: %w", err)
	}
	s.storePublishRecord(ctx, logger, design, outcome, false)

	return outcome, nil
}

// ExtractArtwork produces a transparent-background cut of the design's
// current artwork and records it as a new asset.
func (s *pipelineService) ExtractArtwork(ctx context.Context, designID string) (domain.GenerationResult, error) {
	design, err := s.designs.Get(ctx, designID)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("pipeline: load design: %w", err)
	}

	referenceURL := ""
	if design.CurrentAssetID != "" {
		if asset, assetErr := s.assets.Get(ctx, design.CurrentAssetID); assetErr == nil {
			referenceURL = asset.URL
		}
	}
	if referenceURL == "" {
		return domain.GenerationResult{}, errors.New("pipeline: design has no artwork to extract from")
	}

	result, err := s.generation.GenerateImage(ctx, GenerateImageCommand{
		Prompt:       extractionPrompt,
		ReferenceURL: referenceURL,
		Shape:        domain.ImageShapeSquare,
	})
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("pipeline: extract artwork: %w", err)
	}

	asset := domain.DesignAsset{
		ID:         "ast_" + s.ids(),
		DesignID:   design.ID,
		ShopDomain: design.ShopDomain,
		Kind:       domain.AssetKindTransparentArtwork,
		Role:       domain.AssetRoleFinal,
		URL:        result.ImageURL,
		Prompt:     extractionPrompt,
		Provider:   result.Provider,
		CreatedAt:  s.clock(),
	}
	if err := s.assets.Create(ctx, asset); err != nil {
		s.logger.Warn("pipeline: transparent asset record failed",
			zap.String("designId", design.ID), zap.Error(err))
	}
	return result, nil
}

// repairPublished finishes an interrupted run whose publish succeeded but
// whose design update never landed. The publish record is the source of truth.
func (s *pipelineService) repairPublished(ctx context.Context, design domain.Design, record domain.PublishRecord) (FinalizeResult, error) {
	now := s.clock()
	design.Status = domain.DesignStatusPublished
	design.ProductID = record.ProductID
	design.ProductAdminURL = record.AdminURL
	design.UpdatedAt = now
	if design.FinalizedAt == nil {
		finalizedAt := now
		design.FinalizedAt = &finalizedAt
	}
	if err := s.designs.Update(ctx, design); err != nil {
		return FinalizeResult{}, fmt.Errorf("pipeline: repair publish outcome: %w", err)
	}
	return FinalizeResult{
		DesignID:         design.ID,
		Status:           domain.DesignStatusPublished,
		ProductID:        record.ProductID,
		AdminURL:         record.AdminURL,
		AlreadyPublished: true,
		Message:          "design was already published by an earlier run",
	}, nil
}

func (s *pipelineService) cachedResult(ctx context.Context, design domain.Design) FinalizeResult {
	result := FinalizeResult{
		DesignID:         design.ID,
		Status:           domain.DesignStatusPublished,
		ProductID:        design.ProductID,
		AdminURL:         design.ProductAdminURL,
		AlreadyPublished: true,
		Message:          "design is already published",
	}
	if record, err := s.publishRecords.Get(ctx, design.ID); err == nil {
		result.ProductID = record.ProductID
		result.AdminURL = record.AdminURL
	}
	return result
}

func (s *pipelineService) scenePrompts(requested []string, design domain.Design) []string {
	prompts := make([]string, 0, s.sceneCount)
	for _, p := range requested {
		if strings.TrimSpace(p) != "" {
			prompts = append(prompts, strings.TrimSpace(p))
		}
	}
	if len(prompts) > 0 {
		return prompts
	}

	subject := strings.TrimSpace(design.Category)
	if subject == "" {
		subject = "product"
	}
	if concept := strings.TrimSpace(design.Concept); concept != "" {
		subject = subject + " with a " + concept + " design"
	}
	for i := 0; i < s.sceneCount; i++ {
		template := sceneTemplates[i%len(sceneTemplates)]
		prompts = append(prompts, fmt.Sprintf(template, subject))
	}
	return prompts
}

// generateScenes runs the waterfall per prompt, then sweeps placeholder
// slots once more so a transient provider failure does not stick.
func (s *pipelineService) generateScenes(ctx context.Context, logger *zap.Logger, prompts []string, referenceURL string) []domain.GenerationResult {
	results := make([]domain.GenerationResult, len(prompts))
	for i, prompt := range prompts {
		result, err := s.generation.GenerateImage(ctx, GenerateImageCommand{
			Prompt:       prompt,
			ReferenceURL: referenceURL,
			Shape:        domain.ImageShapeSquare,
		})
		if err != nil {
			logger.Warn("pipeline: scene generation failed, substituting placeholder",
				zap.Int("scene", i), zap.Error(err))
			result = placeholder.Result(prompt, domain.ImageShapeSquare)
		}
		results[i] = result
	}

	for i, result := range results {
		if result.Provider != placeholder.ProviderTag {
			continue
		}
		retried, err := s.generation.GenerateImage(ctx, GenerateImageCommand{
			Prompt:       prompts[i],
			ReferenceURL: referenceURL,
			Shape:        domain.ImageShapeSquare,
		})
		if err == nil && retried.Provider != placeholder.ProviderTag {
			results[i] = retried
		}
	}
	return results
}

// persistLifestyle copies each scene into durable storage and records the
// asset. Both halves are best-effort; the returned urls feed the publish.
func (s *pipelineService) persistLifestyle(ctx context.Context, logger *zap.Logger, design domain.Design, lifestyle []domain.GenerationResult) []string {
	urls := make([]string, 0, len(lifestyle))
	now := s.clock()
	for i, result := range lifestyle {
		assetID := "ast_" + s.ids()
		publicURL := result.ImageURL
		objectPath := ""

		if s.persister != nil && isPersistable(result.ImageURL) {
			path := storage.ObjectPath(design.ShopDomain, design.ID, assetID, "image/png")
			persisted, err := s.persister.Persist(ctx, result.ImageURL, path)
			if err != nil {
				logger.Warn("pipeline: lifestyle persist failed, publishing the provider url",
					zap.Int("scene", i), zap.Error(err))
			} else {
				publicURL = persisted.PublicURL
				objectPath = persisted.ObjectPath
			}
		}

		asset := domain.DesignAsset{
			ID:         assetID,
			DesignID:   design.ID,
			ShopDomain: design.ShopDomain,
			Kind:       domain.AssetKindLifestyle,
			Role:       domain.AssetRoleFinal,
			URL:        publicURL,
			ObjectPath: objectPath,
			Provider:   result.Provider,
			CreatedAt:  now,
		}
		if err := s.assets.Create(ctx, asset); err != nil {
			logger.Warn("pipeline: lifestyle asset record failed",
				zap.String("assetId", assetID), zap.Error(err))
		}
		urls = append(urls, publicURL)
	}
	return urls
}

// resolveTransparent reuses an existing raw artwork asset and only calls the
// provider when none exists. Failures leave the url empty.
func (s *pipelineService) resolveTransparent(ctx context.Context, logger *zap.Logger, design domain.Design, priorAssets []domain.DesignAsset, referenceURL string) string {
	for i := len(priorAssets) - 1; i >= 0; i-- {
		asset := priorAssets[i]
		if asset.Kind == domain.AssetKindTransparentArtwork || asset.Kind == domain.AssetKindArtwork {
			if asset.URL != "" {
				return asset.URL
			}
		}
	}
	if referenceURL == "" {
		return ""
	}

	result, err := s.generation.GenerateImage(ctx, GenerateImageCommand{
		Prompt:       extractionPrompt,
		ReferenceURL: referenceURL,
		Shape:        domain.ImageShapeSquare,
	})
	if err != nil || result.Provider == placeholder.ProviderTag {
		logger.Warn("pipeline: transparent extraction unavailable", zap.Error(err))
		return ""
	}
	return result.ImageURL
}

// referenceImage prefers the newest mockup; the current artwork is the
// fallback when no mockup was rendered.
func (s *pipelineService) referenceImage(design domain.Design, assets []domain.DesignAsset) string {
	var newestArtwork, currentArtwork string
	for i := len(assets) - 1; i >= 0; i-- {
		asset := assets[i]
		if asset.URL == "" {
			continue
		}
		switch asset.Kind {
		case domain.AssetKindMockup:
			return asset.URL
		case domain.AssetKindArtwork:
			if newestArtwork == "" {
				newestArtwork = asset.URL
			}
			if asset.ID == design.CurrentAssetID {
				currentArtwork = asset.URL
			}
		}
	}
	if currentArtwork != "" {
		return currentArtwork
	}
	return newestArtwork
}

func (s *pipelineService) storePublishRecord(ctx context.Context, logger *zap.Logger, design domain.Design, outcome PublishOutcome, immediately bool) {
	record := domain.PublishRecord{
		DesignID:             design.ID,
		ShopDomain:           design.ShopDomain,
		ProductID:            outcome.ProductID,
		AdminURL:             outcome.AdminURL,
		PublishedImmediately: immediately,
		UpdatedAt:            s.clock(),
	}
	if err := s.publishRecords.Upsert(ctx, record); err != nil {
		logger.Warn("pipeline: publish record write failed", zap.Error(err))
	}
}

func (s *pipelineService) emitEvent(ctx context.Context, logger *zap.Logger, design domain.Design, result FinalizeResult) {
	if s.events == nil {
		return
	}
	event := jobs.PipelineEvent{
		Event:      "design.finalized",
		DesignID:   design.ID,
		ShopDomain: design.ShopDomain,
		Provider:   result.Provider,
		Status:     string(design.Status),
		Detail:     result.Message,
		OccurredAt: s.clock(),
	}
	if design.Status == domain.DesignStatusPublished {
		event.Event = "design.published"
	}
	if _, err := s.events.PublishPipelineEvent(ctx, event); err != nil {
		logger.Warn("pipeline: event publish failed", zap.Error(err))
	}
}

func publishImages(assets []domain.DesignAsset) []string {
	var mockups, lifestyle []string
	for _, asset := range assets {
		if asset.URL == "" {
			continue
		}
		switch asset.Kind {
		case domain.AssetKindMockup:
			mockups = append(mockups, asset.URL)
		case domain.AssetKindLifestyle:
			lifestyle = append(lifestyle, asset.URL)
		}
	}
	if len(mockups) > 0 {
		// Only the newest mockup leads the gallery.
		return append([]string{mockups[len(mockups)-1]}, lifestyle...)
	}
	return lifestyle
}

func isRemote(url string) bool {
	return strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://")
}

// isPersistable reports whether the persister can make a durable copy of the
// url. Inline data URIs count; they must never be written into a record.
func isPersistable(url string) bool {
	return isRemote(url) || strings.HasPrefix(url, "data:")
}
