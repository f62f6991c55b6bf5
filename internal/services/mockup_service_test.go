package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/poll"
	"github.com/printloom/api/internal/platform/storage"
	"github.com/printloom/api/internal/providers/printful"
)

type stubMockupProvider struct {
	configured      bool
	printfiles      printful.Printfiles
	printfilesErr   error
	taskKey         string
	createErr       error
	observations    []poll.Observation[[]string]
	printfilesCalls int
	createCalls     int
	checkCalls      int
	lastImageURL    string
}

func (s *stubMockupProvider) Configured() bool { return s.configured }

func (s *stubMockupProvider) FetchPrintfiles(context.Context, int64) (printful.Printfiles, error) {
	s.printfilesCalls++
	if s.printfilesErr != nil {
		return printful.Printfiles{}, s.printfilesErr
	}
	return s.printfiles, nil
}

func (s *stubMockupProvider) CreateTask(_ context.Context, _ int64, _ printful.Printfiles, imageURL string) (string, error) {
	s.createCalls++
	s.lastImageURL = imageURL
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.taskKey, nil
}

func (s *stubMockupProvider) CheckTask(context.Context, string) (poll.Observation[[]string], error) {
	idx := s.checkCalls
	s.checkCalls++
	if idx >= len(s.observations) {
		idx = len(s.observations) - 1
	}
	return s.observations[idx], nil
}

type stubGeneration struct {
	result domain.GenerationResult
	err    error
	calls  []GenerateImageCommand
}

func (s *stubGeneration) GenerateImage(_ context.Context, cmd GenerateImageCommand) (domain.GenerationResult, error) {
	s.calls = append(s.calls, cmd)
	if s.err != nil {
		return domain.GenerationResult{}, s.err
	}
	return s.result, nil
}

type stubPersister struct {
	persisted map[string]string
	err       error
	calls     int
}

func (s *stubPersister) Persist(_ context.Context, sourceURL, objectPath string) (storage.Persisted, error) {
	s.calls++
	if s.err != nil {
		return storage.Persisted{}, s.err
	}
	public := "https://storage.example/" + objectPath
	if s.persisted == nil {
		s.persisted = make(map[string]string)
	}
	s.persisted[sourceURL] = public
	return storage.Persisted{ObjectPath: objectPath, PublicURL: public}, nil
}

func (s *stubPersister) PublicURL(objectPath string) string {
	return "https://storage.example/" + objectPath
}

func newMockupService(t *testing.T, provider MockupProvider, generation GenerationService, persister AssetPersister) MockupService {
	t.Helper()
	svc, err := NewMockupService(MockupServiceDeps{
		Provider:     provider,
		Generation:   generation,
		Persister:    persister,
		PollInterval: time.Millisecond,
		PollDeadline: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewMockupService returned error: %v", err)
	}
	return svc
}

func TestResolveMockupCatalogSuccess(t *testing.T) {
	provider := &stubMockupProvider{
		configured: true,
		printfiles: printful.Printfiles{VariantIDs: []int64{4011}, Placement: "front"},
		taskKey:    "gt-1",
		observations: []poll.Observation[[]string]{
			poll.Succeeded([]string{"https://img/mockup.png"}),
		},
	}
	generation := &stubGeneration{}
	svc := newMockupService(t, provider, generation, nil)

	result, err := svc.ResolveMockup(context.Background(), ResolveMockupCommand{
		ArtworkURL: "https://img/artwork.png",
		Category:   "t-shirt",
	})
	if err != nil {
		t.Fatalf("ResolveMockup returned error: %v", err)
	}
	if result.Provider != "printful" {
		t.Fatalf("unexpected provider %q", result.Provider)
	}
	if result.ImageURL != "https://img/mockup.png" {
		t.Fatalf("unexpected url %q", result.ImageURL)
	}
	if len(generation.calls) != 0 {
		t.Fatal("generation fallback must not run when catalog succeeds")
	}
}

func TestResolveMockupFallsBackOnCatalogFailure(t *testing.T) {
	provider := &stubMockupProvider{
		configured:    true,
		printfilesErr: errors.New("api down"),
	}
	generation := &stubGeneration{
		result: domain.GenerationResult{ImageURL: "https://img/gen.png", Provider: "openai:gpt-image-1"},
	}
	svc := newMockupService(t, provider, generation, nil)

	result, err := svc.ResolveMockup(context.Background(), ResolveMockupCommand{
		ArtworkURL: "https://img/artwork.png",
		Category:   "mug",
	})
	if err != nil {
		t.Fatalf("ResolveMockup returned error: %v", err)
	}
	if result.Provider != "openai:gpt-image-1" {
		t.Fatalf("expected generation fallback, got %q", result.Provider)
	}
	if len(generation.calls) != 1 {
		t.Fatalf("expected one generation call, got %d", len(generation.calls))
	}

	cmd := generation.calls[0]
	if cmd.ReferenceURL != "https://img/artwork.png" {
		t.Fatalf("fallback must pass the artwork as reference, got %q", cmd.ReferenceURL)
	}
	if !strings.Contains(cmd.Prompt, "mug") || !strings.Contains(cmd.Prompt, "exactly") {
		t.Fatalf("unexpected composition prompt %q", cmd.Prompt)
	}
}

func TestResolveMockupUnconfiguredGoesStraightToGeneration(t *testing.T) {
	provider := &stubMockupProvider{configured: false}
	generation := &stubGeneration{result: domain.GenerationResult{ImageURL: "https://img/gen.png"}}
	svc := newMockupService(t, provider, generation, nil)

	if _, err := svc.ResolveMockup(context.Background(), ResolveMockupCommand{
		ArtworkURL: "https://img/artwork.png",
		Category:   "t-shirt",
	}); err != nil {
		t.Fatalf("ResolveMockup returned error: %v", err)
	}
	if provider.printfilesCalls != 0 {
		t.Fatal("unconfigured catalog provider must not be called")
	}
}

func TestResolveMockupRehostsDataURI(t *testing.T) {
	provider := &stubMockupProvider{
		configured: true,
		printfiles: printful.Printfiles{VariantIDs: []int64{4011}, Placement: "front"},
		taskKey:    "gt-2",
		observations: []poll.Observation[[]string]{
			poll.Succeeded([]string{"https://img/mockup.png"}),
		},
	}
	persister := &stubPersister{}
	svc := newMockupService(t, provider, &stubGeneration{}, persister)

	if _, err := svc.ResolveMockup(context.Background(), ResolveMockupCommand{
		ArtworkURL: "data:image/png;base64,aGVsbG8=",
		Category:   "t-shirt",
		ShopDomain: "shop.example",
		DesignID:   "dsg_1",
	}); err != nil {
		t.Fatalf("ResolveMockup returned error: %v", err)
	}
	if persister.calls != 1 {
		t.Fatalf("expected re-hosting, got %d persist calls", persister.calls)
	}
	if !strings.HasPrefix(provider.lastImageURL, "https://storage.example/") {
		t.Fatalf("catalog task must use the hosted url, got %q", provider.lastImageURL)
	}
}

func TestResolveMockupEmptyRenderFallsBack(t *testing.T) {
	provider := &stubMockupProvider{
		configured: true,
		printfiles: printful.Printfiles{VariantIDs: []int64{4011}, Placement: "front"},
		taskKey:    "gt-3",
		observations: []poll.Observation[[]string]{
			poll.Succeeded([]string{}),
		},
	}
	generation := &stubGeneration{
		result: domain.GenerationResult{ImageURL: "https://img/gen.png", Provider: "openai:gpt-image-1"},
	}
	svc := newMockupService(t, provider, generation, nil)

	result, err := svc.ResolveMockup(context.Background(), ResolveMockupCommand{
		ArtworkURL: "https://img/artwork.png",
		Category:   "t-shirt",
	})
	if err != nil {
		t.Fatalf("ResolveMockup returned error: %v", err)
	}
	if result.Provider != "openai:gpt-image-1" {
		t.Fatalf("empty render must fall back to generation, got %q", result.Provider)
	}
	if len(generation.calls) != 1 {
		t.Fatalf("expected one generation call, got %d", len(generation.calls))
	}
}

func TestResolveMockupUnknownCategoryFallsBack(t *testing.T) {
	provider := &stubMockupProvider{configured: true}
	generation := &stubGeneration{result: domain.GenerationResult{ImageURL: "https://img/gen.png"}}
	svc := newMockupService(t, provider, generation, nil)

	if _, err := svc.ResolveMockup(context.Background(), ResolveMockupCommand{
		ArtworkURL: "https://img/artwork.png",
		Category:   "yacht",
	}); err != nil {
		t.Fatalf("ResolveMockup returned error: %v", err)
	}
	if provider.printfilesCalls != 0 {
		t.Fatal("unknown category must not reach the catalog API")
	}
	if len(generation.calls) != 1 {
		t.Fatal("expected generation fallback")
	}
}

func TestResolveMockupRequiresArtwork(t *testing.T) {
	svc := newMockupService(t, &stubMockupProvider{}, &stubGeneration{}, nil)
	if _, err := svc.ResolveMockup(context.Background(), ResolveMockupCommand{}); !errors.Is(err, ErrMissingArtwork) {
		t.Fatalf("expected ErrMissingArtwork, got %v", err)
	}
}
