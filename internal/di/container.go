// Package di assembles the runtime object graph: provider clients,
// repositories, and services. Handlers receive only service interfaces.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/printloom/api/internal/platform/config"
	"github.com/printloom/api/internal/platform/observability"
	"github.com/printloom/api/internal/providers/kie"
	"github.com/printloom/api/internal/providers/openai"
	"github.com/printloom/api/internal/providers/printful"
	"github.com/printloom/api/internal/repositories"
	"github.com/printloom/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Generation services.GenerationService
	Mockup     services.MockupService
	Copy       services.CopyService
	Publish    services.PublishService
	Pipeline   services.PipelineService
	Design     services.DesignService
}

// ContainerDeps carries the externally-constructed collaborators. Registry is
// required; the rest have sensible defaults or may stay nil.
type ContainerDeps struct {
	Registry  repositories.Registry
	Persister services.AssetPersister
	Events    services.EventPublisher
	Metrics   services.MetricsSink
	Logger    *zap.Logger

	// HTTPClient overrides the transport used by provider clients; tests
	// point it at local servers.
	HTTPClient *http.Client
}

// Container wires providers, repositories, and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		recorder, err := observability.NewProviderCallRecorder()
		if err != nil {
			return nil, fmt.Errorf("build provider call recorder: %w", err)
		}
		deps.Metrics = recorder
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

func buildServices(cfg config.Config, deps ContainerDeps) (Services, error) {
	reg := deps.Registry
	ids := func() string { return ulid.Make().String() }

	// Provider constructors take their own doer interface; handing them a
	// nil *http.Client directly would defeat their nil checks.
	var imageDoer openai.HTTPDoer
	var kieDoer kie.HTTPDoer
	var printfulDoer printful.HTTPDoer
	if deps.HTTPClient != nil {
		imageDoer = deps.HTTPClient
		kieDoer = deps.HTTPClient
		printfulDoer = deps.HTTPClient
	}

	generation, err := services.NewGenerationService(services.GenerationServiceDeps{
		Primary:   openai.NewImageClient(cfg.OpenAI, imageDoer),
		Secondary: kie.NewClient(cfg.Kie, kieDoer),
		Metrics:   deps.Metrics,
		Logger:    deps.Logger.Named("generation"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build generation service: %w", err)
	}

	mockup, err := services.NewMockupService(services.MockupServiceDeps{
		Provider:   printful.NewClient(cfg.Printful, printfulDoer),
		Generation: generation,
		Persister:  deps.Persister,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger.Named("mockup"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build mockup service: %w", err)
	}

	copySvc, err := services.NewCopyService(services.CopyServiceDeps{
		Provider: openai.NewCopyClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.CopyModel, imageDoer),
		Metrics:  deps.Metrics,
		Logger:   deps.Logger.Named("copy"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build copy service: %w", err)
	}

	publish, err := services.NewPublishService(services.PublishServiceDeps{
		Credentials: reg.Credentials(),
		Config:      cfg.Shopify,
		Metrics:     deps.Metrics,
		Logger:      deps.Logger.Named("publish"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build publish service: %w", err)
	}

	pipeline, err := services.NewPipelineService(services.PipelineServiceDeps{
		Designs:        reg.Designs(),
		Assets:         reg.Assets(),
		PublishRecords: reg.PublishRecords(),
		Generation:     generation,
		Copy:           copySvc,
		Publish:        publish,
		Persister:      deps.Persister,
		Events:         deps.Events,
		Clock:          time.Now,
		IDs:            ids,
		Logger:         deps.Logger.Named("pipeline"),
		SceneCount:     cfg.Pipeline.SceneCount,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pipeline service: %w", err)
	}

	design, err := services.NewDesignService(services.DesignServiceDeps{
		Designs:    reg.Designs(),
		Assets:     reg.Assets(),
		Generation: generation,
		Mockup:     mockup,
		Persister:  deps.Persister,
		Clock:      time.Now,
		IDs:        ids,
		Logger:     deps.Logger.Named("design"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build design service: %w", err)
	}

	return Services{
		Generation: generation,
		Mockup:     mockup,
		Copy:       copySvc,
		Publish:    publish,
		Pipeline:   pipeline,
		Design:     design,
	}, nil
}
