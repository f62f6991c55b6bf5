package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/printloom/api/internal/domain"
)

type stubMockupSvc struct {
	result domain.GenerationResult
	err    error
	calls  []ResolveMockupCommand
}

func (s *stubMockupSvc) ResolveMockup(_ context.Context, cmd ResolveMockupCommand) (domain.GenerationResult, error) {
	s.calls = append(s.calls, cmd)
	if s.err != nil {
		return domain.GenerationResult{}, s.err
	}
	return s.result, nil
}

type designFixture struct {
	designs    *stubDesigns
	assets     *stubAssets
	generation *seqGeneration
	mockup     *stubMockupSvc
	svc        DesignService
}

func newDesignFixture(t *testing.T, persister AssetPersister) *designFixture {
	t.Helper()
	f := &designFixture{
		designs: &stubDesigns{},
		assets:  &stubAssets{},
		generation: &seqGeneration{results: []domain.GenerationResult{
			{ImageURL: "https://img/artwork.png", Provider: "openai:gpt-image-1"},
		}},
		mockup: &stubMockupSvc{result: domain.GenerationResult{ImageURL: "https://img/mockup.png", Provider: "printful"}},
	}

	ids := 0
	svc, err := NewDesignService(DesignServiceDeps{
		Designs:    f.designs,
		Assets:     f.assets,
		Generation: f.generation,
		Mockup:     f.mockup,
		Persister:  persister,
		Clock:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		IDs: func() string {
			ids++
			return fmt.Sprintf("seq%04d", ids)
		},
	})
	if err != nil {
		t.Fatalf("NewDesignService returned error: %v", err)
	}
	f.svc = svc
	return f
}

func TestGeneratePreviewCreatesDesignAndAsset(t *testing.T) {
	f := newDesignFixture(t, nil)

	design, asset, err := f.svc.GeneratePreview(context.Background(), GeneratePreviewCommand{
		ShopDomain: "shop.example",
		Concept:    "midnight fox",
		Category:   "t-shirt",
	})
	if err != nil {
		t.Fatalf("GeneratePreview returned error: %v", err)
	}
	if !strings.HasPrefix(design.ID, "dsg_") || !strings.HasPrefix(asset.ID, "ast_") {
		t.Fatalf("unexpected ids %q / %q", design.ID, asset.ID)
	}
	if design.Status != domain.DesignStatusPreviewReady {
		t.Fatalf("unexpected status %q", design.Status)
	}
	if design.CurrentAssetID != asset.ID {
		t.Fatalf("design must point at the new asset: %q vs %q", design.CurrentAssetID, asset.ID)
	}
	if design.Revision != 0 {
		t.Fatalf("base revision must be 0, got %d", design.Revision)
	}
	if !strings.Contains(design.ArtworkPrompt, "midnight fox") || !strings.Contains(design.ArtworkPrompt, "t-shirt") {
		t.Fatalf("synthesised prompt missing concept or category: %q", design.ArtworkPrompt)
	}
	if asset.Kind != domain.AssetKindArtwork || asset.Role != domain.AssetRoleBase {
		t.Fatalf("unexpected asset %+v", asset)
	}
	if asset.Provider != "openai:gpt-image-1" {
		t.Fatalf("unexpected provider %q", asset.Provider)
	}
}

func TestGeneratePreviewExplicitPromptWins(t *testing.T) {
	f := newDesignFixture(t, nil)

	design, _, err := f.svc.GeneratePreview(context.Background(), GeneratePreviewCommand{
		ShopDomain: "shop.example",
		Concept:    "midnight fox",
		Prompt:     "a fox made of constellations",
	})
	if err != nil {
		t.Fatalf("GeneratePreview returned error: %v", err)
	}
	if design.ArtworkPrompt != "a fox made of constellations" {
		t.Fatalf("explicit prompt must be kept verbatim, got %q", design.ArtworkPrompt)
	}
	if f.generation.calls[0].Prompt != "a fox made of constellations" {
		t.Fatalf("generation got %q", f.generation.calls[0].Prompt)
	}
}

func TestGeneratePreviewValidation(t *testing.T) {
	f := newDesignFixture(t, nil)

	if _, _, err := f.svc.GeneratePreview(context.Background(), GeneratePreviewCommand{Concept: "fox"}); !errors.Is(err, ErrMissingShop) {
		t.Fatalf("expected ErrMissingShop, got %v", err)
	}
	if _, _, err := f.svc.GeneratePreview(context.Background(), GeneratePreviewCommand{ShopDomain: "shop.example"}); !errors.Is(err, ErrMissingConcept) {
		t.Fatalf("expected ErrMissingConcept, got %v", err)
	}
}

func TestGeneratePreviewPersistsArtwork(t *testing.T) {
	persister := &stubPersister{}
	f := newDesignFixture(t, persister)

	_, asset, err := f.svc.GeneratePreview(context.Background(), GeneratePreviewCommand{
		ShopDomain: "shop.example",
		Concept:    "midnight fox",
	})
	if err != nil {
		t.Fatalf("GeneratePreview returned error: %v", err)
	}
	if persister.calls != 1 {
		t.Fatalf("expected one persist call, got %d", persister.calls)
	}
	if !strings.HasPrefix(asset.URL, "https://storage.example/") {
		t.Fatalf("asset url not rewritten to the durable copy: %q", asset.URL)
	}
	if asset.ObjectPath == "" {
		t.Fatal("asset must record its object path")
	}
}

func TestGeneratePreviewStagesInlineArtwork(t *testing.T) {
	persister := &stubPersister{}
	f := newDesignFixture(t, persister)
	f.generation.results = []domain.GenerationResult{
		{ImageURL: "data:image/png;base64,aGVsbG8=", Provider: "openai:gpt-image-1"},
	}

	_, asset, err := f.svc.GeneratePreview(context.Background(), GeneratePreviewCommand{
		ShopDomain: "shop.example",
		Concept:    "midnight fox",
	})
	if err != nil {
		t.Fatalf("GeneratePreview returned error: %v", err)
	}
	if persister.calls != 1 {
		t.Fatalf("expected one persist call, got %d", persister.calls)
	}
	if !strings.HasPrefix(asset.URL, "https://storage.example/") || asset.ObjectPath == "" {
		t.Fatalf("inline artwork not staged to durable storage: %+v", asset)
	}
	if len(f.assets.created) != 1 || strings.HasPrefix(f.assets.created[0].URL, "data:") {
		t.Fatalf("asset record must not carry the inline payload: %+v", f.assets.created)
	}
}

func TestReviseArtworkIncrementsRevision(t *testing.T) {
	f := newDesignFixture(t, nil)
	f.designs.design = domain.Design{
		ID:             "dsg_1",
		ShopDomain:     "shop.example",
		Status:         domain.DesignStatusPreviewReady,
		Revision:       1,
		CurrentAssetID: "ast_old",
	}
	f.assets.existing = []domain.DesignAsset{
		{ID: "ast_old", DesignID: "dsg_1", Kind: domain.AssetKindArtwork, URL: "https://img/old.png"},
	}

	design, asset, err := f.svc.ReviseArtwork(context.Background(), ReviseArtworkCommand{
		DesignID: "dsg_1",
		Prompt:   "make the fox blue",
	})
	if err != nil {
		t.Fatalf("ReviseArtwork returned error: %v", err)
	}
	if design.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", design.Revision)
	}
	if design.Status != domain.DesignStatusPreviewReady {
		t.Fatalf("unexpected status %q", design.Status)
	}
	if design.CurrentAssetID != asset.ID || asset.Role != domain.AssetRoleRevision {
		t.Fatalf("unexpected asset %+v", asset)
	}
	if f.generation.calls[0].ReferenceURL != "https://img/old.png" {
		t.Fatalf("revision must reference the current artwork, got %q", f.generation.calls[0].ReferenceURL)
	}
	if len(f.assets.created) != 1 {
		t.Fatalf("history is append-only; expected 1 new asset, got %d", len(f.assets.created))
	}
}

func TestReviseArtworkRequiresPrompt(t *testing.T) {
	f := newDesignFixture(t, nil)
	if _, _, err := f.svc.ReviseArtwork(context.Background(), ReviseArtworkCommand{DesignID: "dsg_1"}); !errors.Is(err, ErrMissingRevisionPrompt) {
		t.Fatalf("expected ErrMissingRevisionPrompt, got %v", err)
	}
}

func TestReviseArtworkDeletedDesign(t *testing.T) {
	f := newDesignFixture(t, nil)
	f.designs.design = domain.Design{ID: "dsg_1", Status: domain.DesignStatusDeleted}

	if _, _, err := f.svc.ReviseArtwork(context.Background(), ReviseArtworkCommand{
		DesignID: "dsg_1",
		Prompt:   "make it blue",
	}); !errors.Is(err, ErrDesignDeleted) {
		t.Fatalf("expected ErrDesignDeleted, got %v", err)
	}
}

func TestGenerateMockupSetsStatus(t *testing.T) {
	f := newDesignFixture(t, nil)
	f.designs.design = domain.Design{
		ID:             "dsg_1",
		ShopDomain:     "shop.example",
		Category:       "mug",
		Status:         domain.DesignStatusPreviewReady,
		CurrentAssetID: "ast_art",
	}
	f.assets.existing = []domain.DesignAsset{
		{ID: "ast_art", DesignID: "dsg_1", Kind: domain.AssetKindArtwork, URL: "https://img/artwork.png"},
	}

	design, asset, err := f.svc.GenerateMockup(context.Background(), "dsg_1")
	if err != nil {
		t.Fatalf("GenerateMockup returned error: %v", err)
	}
	if design.Status != domain.DesignStatusMockupReady {
		t.Fatalf("unexpected status %q", design.Status)
	}
	if asset.Kind != domain.AssetKindMockup {
		t.Fatalf("unexpected asset kind %q", asset.Kind)
	}

	cmd := f.mockup.calls[0]
	if cmd.ArtworkURL != "https://img/artwork.png" || cmd.Category != "mug" {
		t.Fatalf("unexpected mockup command %+v", cmd)
	}
}

func TestGenerateMockupWithoutArtwork(t *testing.T) {
	f := newDesignFixture(t, nil)
	f.designs.design = domain.Design{ID: "dsg_1", Status: domain.DesignStatusPreviewReady}

	if _, _, err := f.svc.GenerateMockup(context.Background(), "dsg_1"); !errors.Is(err, ErrNoArtwork) {
		t.Fatalf("expected ErrNoArtwork, got %v", err)
	}
}

func TestListDesignsRequiresShop(t *testing.T) {
	f := newDesignFixture(t, nil)
	if _, err := f.svc.ListDesigns(context.Background(), "  ", domain.Pagination{}); !errors.Is(err, ErrMissingShop) {
		t.Fatalf("expected ErrMissingShop, got %v", err)
	}
}
