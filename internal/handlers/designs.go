package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/httpx"
	"github.com/printloom/api/internal/platform/requestctx"
	"github.com/printloom/api/internal/repositories"
	"github.com/printloom/api/internal/services"
)

const maxDesignRequestBody = 64 * 1024

const (
	defaultDesignPageSize = 20
	maxDesignPageSize     = 100

	createLimitPerShop = 30
	createLimitWindow  = time.Minute
)

// DesignHandlers exposes the design lifecycle endpoints.
type DesignHandlers struct {
	designs  services.DesignService
	pipeline services.PipelineService
	limiter  rateLimiter
}

// NewDesignHandlers constructs the handlers. Creation endpoints are rate
// limited per shop; reads are not.
func NewDesignHandlers(designs services.DesignService, pipeline services.PipelineService) *DesignHandlers {
	return &DesignHandlers{
		designs:  designs,
		pipeline: pipeline,
		limiter:  newSimpleRateLimiter(createLimitPerShop, createLimitWindow, time.Now),
	}
}

// Routes registers the /designs endpoints.
func (h *DesignHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listDesigns)
	r.Post("/", h.createDesign)
	r.Get("/{designID}", h.getDesign)
	r.Post("/{designID}/revise", h.reviseDesign)
	r.Post("/{designID}/mockup", h.generateMockup)
	r.Post("/{designID}/finalize", h.finalizeDesign)
	r.Post("/{designID}/publish-retry", h.retryPublish)
	r.Post("/{designID}/extract-artwork", h.extractArtwork)
}

func (h *DesignHandlers) createDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := requestctx.ShopDomain(ctx)
	if shop == "" {
		httpx.WriteError(ctx, w, httpx.NewError("missing_shop", "shop domain header is required", http.StatusBadRequest))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(shop) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many design requests, slow down", http.StatusTooManyRequests))
		return
	}

	var payload createDesignRequest
	if err := decodeBody(w, r, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	design, asset, err := h.designs.GeneratePreview(ctx, services.GeneratePreviewCommand{
		ShopDomain: shop,
		Concept:    payload.Concept,
		Category:   payload.Category,
		Prompt:     payload.Prompt,
		Shape:      domain.ImageShape(strings.TrimSpace(payload.Shape)),
	})
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", strings.TrimSuffix(r.URL.Path, "/"), design.ID))
	httpx.WriteJSON(w, http.StatusCreated, designWithAssetResponse{
		Design: buildDesignPayload(design),
		Asset:  buildAssetPayload(asset),
	})
}

func (h *DesignHandlers) listDesigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := requestctx.ShopDomain(ctx)
	if shop == "" {
		httpx.WriteError(ctx, w, httpx.NewError("missing_shop", "shop domain header is required", http.StatusBadRequest))
		return
	}

	pageSize := defaultDesignPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		if size > 0 {
			pageSize = size
		}
		if pageSize > maxDesignPageSize {
			pageSize = maxDesignPageSize
		}
	}

	page, err := h.designs.ListDesigns(ctx, shop, domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
	})
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}

	items := make([]designPayload, 0, len(page.Items))
	for _, design := range page.Items {
		items = append(items, buildDesignPayload(design))
	}
	httpx.WriteJSON(w, http.StatusOK, designListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *DesignHandlers) getDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	designID := strings.TrimSpace(chi.URLParam(r, "designID"))
	if designID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "design id is required", http.StatusBadRequest))
		return
	}

	design, err := h.designs.GetDesign(ctx, designID)
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}
	if shop := requestctx.ShopDomain(ctx); shop != "" && !strings.EqualFold(design.ShopDomain, shop) {
		httpx.WriteError(ctx, w, httpx.NewError("design_not_found", "design not found", http.StatusNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildDesignPayload(design))
}

func (h *DesignHandlers) reviseDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	designID := strings.TrimSpace(chi.URLParam(r, "designID"))
	if designID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "design id is required", http.StatusBadRequest))
		return
	}

	var payload reviseDesignRequest
	if err := decodeBody(w, r, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	design, asset, err := h.designs.ReviseArtwork(ctx, services.ReviseArtworkCommand{
		DesignID: designID,
		Prompt:   payload.Prompt,
		Shape:    domain.ImageShape(strings.TrimSpace(payload.Shape)),
	})
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, designWithAssetResponse{
		Design: buildDesignPayload(design),
		Asset:  buildAssetPayload(asset),
	})
}

func (h *DesignHandlers) generateMockup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	designID := strings.TrimSpace(chi.URLParam(r, "designID"))
	if designID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "design id is required", http.StatusBadRequest))
		return
	}

	design, asset, err := h.designs.GenerateMockup(ctx, designID)
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, designWithAssetResponse{
		Design: buildDesignPayload(design),
		Asset:  buildAssetPayload(asset),
	})
}

func (h *DesignHandlers) finalizeDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	designID := strings.TrimSpace(chi.URLParam(r, "designID"))
	if designID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "design id is required", http.StatusBadRequest))
		return
	}

	var payload finalizeDesignRequest
	if err := decodeBody(w, r, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.pipeline.Finalize(ctx, services.FinalizeCommand{
		DesignID:           designID,
		ScenePrompts:       payload.ScenePrompts,
		PublishImmediately: payload.PublishImmediately,
	})
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildFinalizePayload(result))
}

func (h *DesignHandlers) retryPublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	designID := strings.TrimSpace(chi.URLParam(r, "designID"))
	if designID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "design id is required", http.StatusBadRequest))
		return
	}

	outcome, err := h.pipeline.RetryPublish(ctx, designID)
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, publishOutcomePayload{
		ProductID: outcome.ProductID,
		AdminURL:  outcome.AdminURL,
		Mocked:    outcome.Mocked,
	})
}

func (h *DesignHandlers) extractArtwork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	designID := strings.TrimSpace(chi.URLParam(r, "designID"))
	if designID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "design id is required", http.StatusBadRequest))
		return
	}

	result, err := h.pipeline.ExtractArtwork(ctx, designID)
	if err != nil {
		h.writeDesignError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, generationResultPayload{
		ImageURL: result.ImageURL,
		Provider: result.Provider,
		Message:  result.Message,
	})
}

func (h *DesignHandlers) writeDesignError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMissingShop),
		errors.Is(err, services.ErrMissingConcept),
		errors.Is(err, services.ErrMissingRevisionPrompt),
		errors.Is(err, services.ErrEmptyPrompt),
		errors.Is(err, services.ErrNoArtwork):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDesignDeleted):
		httpx.WriteError(ctx, w, httpx.NewError("design_deleted", "design has been deleted", http.StatusGone))
	case errors.Is(err, services.ErrNotFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("not_finalized", "design must be finalized before a publish retry", http.StatusConflict))
	case repositories.IsNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("design_not_found", "design not found", http.StatusNotFound))
	case repositories.IsConflict(err):
		httpx.WriteError(ctx, w, httpx.NewError("design_conflict", "design is busy, try again later", http.StatusConflict))
	case repositories.IsUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "storage unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("design request failed")
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

// decodeBody reads a small JSON body. An empty body decodes to the zero value
// so action endpoints can be called without payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxDesignRequestBody)
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid request body: extraneous data")
	}
	return nil
}

type createDesignRequest struct {
	Concept  string `json:"concept"`
	Category string `json:"category"`
	Prompt   string `json:"prompt"`
	Shape    string `json:"shape"`
}

type reviseDesignRequest struct {
	Prompt string `json:"prompt"`
	Shape  string `json:"shape"`
}

type finalizeDesignRequest struct {
	ScenePrompts       []string `json:"scene_prompts"`
	PublishImmediately bool     `json:"publish_immediately"`
}

type designPayload struct {
	ID              string `json:"id"`
	ShopDomain      string `json:"shop_domain"`
	Concept         string `json:"concept,omitempty"`
	Category        string `json:"category,omitempty"`
	Status          string `json:"status"`
	ArtworkPrompt   string `json:"artwork_prompt,omitempty"`
	CurrentAssetID  string `json:"current_asset_id,omitempty"`
	Revision        int    `json:"revision"`
	ProductID       string `json:"product_id,omitempty"`
	ProductAdminURL string `json:"product_admin_url,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	FinalizedAt     string `json:"finalized_at,omitempty"`
}

type assetPayload struct {
	ID         string `json:"id"`
	DesignID   string `json:"design_id"`
	Kind       string `json:"kind"`
	Role       string `json:"role"`
	URL        string `json:"url"`
	ObjectPath string `json:"object_path,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Provider   string `json:"provider,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type designWithAssetResponse struct {
	Design designPayload `json:"design"`
	Asset  assetPayload  `json:"asset"`
}

type designListResponse struct {
	Items         []designPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type generationResultPayload struct {
	ImageURL string `json:"image_url"`
	Provider string `json:"provider"`
	Message  string `json:"message,omitempty"`
}

type listingCopyPayload struct {
	Title           string   `json:"title"`
	DescriptionHTML string   `json:"description_html"`
	DescriptionText string   `json:"description_text"`
	Tags            []string `json:"tags"`
	Provider        string   `json:"provider"`
}

type publishOutcomePayload struct {
	ProductID string `json:"product_id"`
	AdminURL  string `json:"admin_url,omitempty"`
	Mocked    bool   `json:"mocked,omitempty"`
}

type finalizePayload struct {
	DesignID         string                    `json:"design_id"`
	Status           string                    `json:"status"`
	LifestyleImages  []generationResultPayload `json:"lifestyle_images"`
	TransparentURL   string                    `json:"transparent_url,omitempty"`
	Copy             listingCopyPayload        `json:"copy"`
	ProductID        string                    `json:"product_id,omitempty"`
	AdminURL         string                    `json:"admin_url,omitempty"`
	AlreadyPublished bool                      `json:"already_published"`
	PublishError     string                    `json:"publish_error,omitempty"`
	Message          string                    `json:"message,omitempty"`
}

func buildDesignPayload(design domain.Design) designPayload {
	payload := designPayload{
		ID:              design.ID,
		ShopDomain:      design.ShopDomain,
		Concept:         design.Concept,
		Category:        design.Category,
		Status:          string(design.Status),
		ArtworkPrompt:   design.ArtworkPrompt,
		CurrentAssetID:  design.CurrentAssetID,
		Revision:        design.Revision,
		ProductID:       design.ProductID,
		ProductAdminURL: design.ProductAdminURL,
		CreatedAt:       formatTime(design.CreatedAt),
		UpdatedAt:       formatTime(design.UpdatedAt),
	}
	if design.FinalizedAt != nil {
		payload.FinalizedAt = formatTime(*design.FinalizedAt)
	}
	return payload
}

func buildAssetPayload(asset domain.DesignAsset) assetPayload {
	return assetPayload{
		ID:         asset.ID,
		DesignID:   asset.DesignID,
		Kind:       string(asset.Kind),
		Role:       string(asset.Role),
		URL:        asset.URL,
		ObjectPath: asset.ObjectPath,
		Prompt:     asset.Prompt,
		Provider:   asset.Provider,
		CreatedAt:  formatTime(asset.CreatedAt),
	}
}

func buildFinalizePayload(result services.FinalizeResult) finalizePayload {
	images := make([]generationResultPayload, 0, len(result.LifestyleImages))
	for _, img := range result.LifestyleImages {
		images = append(images, generationResultPayload{
			ImageURL: img.ImageURL,
			Provider: img.Provider,
			Message:  img.Message,
		})
	}
	return finalizePayload{
		DesignID:        result.DesignID,
		Status:          string(result.Status),
		LifestyleImages: images,
		TransparentURL:  result.TransparentURL,
		Copy: listingCopyPayload{
			Title:           result.Copy.Title,
			DescriptionHTML: result.Copy.DescriptionHTML,
			DescriptionText: result.Copy.DescriptionText,
			Tags:            result.Copy.Tags,
			Provider:        result.Copy.Provider,
		},
		ProductID:        result.ProductID,
		AdminURL:         result.AdminURL,
		AlreadyPublished: result.AlreadyPublished,
		PublishError:     result.PublishError,
		Message:          result.Message,
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
