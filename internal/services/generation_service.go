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
	"github.com/printloom/api/internal/providers/kie"
	"github.com/printloom/api/internal/providers/openai"
	"github.com/printloom/api/internal/providers/placeholder"
)

// ErrEmptyPrompt is returned when a generation request carries no prompt.
var ErrEmptyPrompt = errors.New("generation: prompt is required")

// PrimaryImageProvider is the synchronous tier of the waterfall.
type PrimaryImageProvider interface {
	Configured() bool
	DefaultModel() string
	FallbackModel() string
	Generate(ctx context.Context, req openai.ImageRequest) (openai.ImageResult, error)
	Edit(ctx context.Context, req openai.ImageRequest) (openai.ImageResult, error)
}

// SecondaryImageProvider is the asynchronous tier of the waterfall.
type SecondaryImageProvider interface {
	Configured() bool
	Submit(ctx context.Context, req kie.SubmitRequest) (kie.Submission, error)
	CheckStatus(ctx context.Context, taskID string) (poll.Observation[string], error)
	PollInterval() time.Duration
	Deadline(edit bool) time.Duration
}

// GenerationServiceDeps wires the waterfall tiers and ambient collaborators.
type GenerationServiceDeps struct {
	Primary   PrimaryImageProvider
	Secondary SecondaryImageProvider
	Metrics   MetricsSink
	Logger    *zap.Logger
}

type generationService struct {
	primary   PrimaryImageProvider
	secondary SecondaryImageProvider
	metrics   MetricsSink
	logger    *zap.Logger
}

// NewGenerationService validates dependencies and builds the waterfall.
func NewGenerationService(deps GenerationServiceDeps) (GenerationService, error) {
	if deps.Primary == nil {
		return nil, errors.New("generation service requires a primary provider")
	}
	if deps.Secondary == nil {
		return nil, errors.New("generation service requires a secondary provider")
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetricsSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &generationService{
		primary:   deps.Primary,
		secondary: deps.Secondary,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}, nil
}

// GenerateImage tries each tier in order and returns the first usable
// result. Only total failure of every tier produces the placeholder.
func (s *generationService) GenerateImage(ctx context.Context, cmd GenerateImageCommand) (domain.GenerationResult, error) {
	prompt := strings.TrimSpace(cmd.Prompt)
	if prompt == "" {
		return domain.GenerationResult{}, ErrEmptyPrompt
	}

	if result, ok := s.tryPrimary(ctx, cmd); ok {
		return result, nil
	}
	if result, ok := s.trySecondary(ctx, cmd); ok {
		return result, nil
	}

	s.logger.Warn("generation: all providers failed, serving placeholder",
		zap.String("prompt", placeholder.TruncatePrompt(prompt)))
	operation := "generate"
	if strings.TrimSpace(cmd.ReferenceURL) != "" {
		operation = "edit"
	}
	s.metrics.RecordCall(ctx, placeholder.ProviderTag, "static", operation)
	return placeholder.Result(prompt, cmd.Shape), nil
}

func (s *generationService) tryPrimary(ctx context.Context, cmd GenerateImageCommand) (domain.GenerationResult, bool) {
	if !s.primary.Configured() {
		return domain.GenerationResult{}, false
	}

	model := s.primary.DefaultModel()
	result, err := s.callPrimary(ctx, cmd, model)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.ModelUnavailable() && s.primary.FallbackModel() != "" {
			// A 400/403/404 means this account cannot use the model; the
			// same provider gets one shot with the downgrade model before
			// control falls to the next tier.
			downgrade := s.primary.FallbackModel()
			s.logger.Info("generation: model unavailable, downgrading",
				zap.String("from", model), zap.String("to", downgrade))
			result, err = s.callPrimary(ctx, cmd, downgrade)
			model = downgrade
		}
	}
	if err != nil {
		s.logger.Warn("generation: primary provider failed", zap.Error(err))
		return domain.GenerationResult{}, false
	}

	imageURL := result.URL
	if imageURL == "" && result.B64JSON != "" {
		imageURL = "data:image/png;base64," + result.B64JSON
	}
	if imageURL == "" {
		return domain.GenerationResult{}, false
	}

	operation := "generate"
	if strings.TrimSpace(cmd.ReferenceURL) != "" {
		operation = "edit"
	}
	s.metrics.RecordCall(ctx, "openai", model, operation)
	return domain.GenerationResult{
		ImageURL: imageURL,
		Provider: "openai:" + model,
		Message:  fmt.Sprintf("generated with %s", model),
	}, true
}

func (s *generationService) callPrimary(ctx context.Context, cmd GenerateImageCommand, model string) (openai.ImageResult, error) {
	req := openai.ImageRequest{
		Model:        model,
		Prompt:       cmd.Prompt,
		Shape:        cmd.Shape,
		ReferenceURL: cmd.ReferenceURL,
	}
	if strings.TrimSpace(cmd.ReferenceURL) != "" {
		return s.primary.Edit(ctx, req)
	}
	return s.primary.Generate(ctx, req)
}

func (s *generationService) trySecondary(ctx context.Context, cmd GenerateImageCommand) (domain.GenerationResult, bool) {
	if !s.secondary.Configured() {
		return domain.GenerationResult{}, false
	}

	edit := strings.TrimSpace(cmd.ReferenceURL) != ""
	submission, err := s.secondary.Submit(ctx, kie.SubmitRequest{
		Prompt:       cmd.Prompt,
		Shape:        cmd.Shape,
		ReferenceURL: cmd.ReferenceURL,
	})
	if err != nil {
		s.logger.Warn("generation: secondary submit failed", zap.Error(err))
		return domain.GenerationResult{}, false
	}

	imageURL := submission.ImageURL
	if imageURL == "" {
		imageURL, err = poll.Until(ctx, s.secondary.PollInterval(), s.secondary.Deadline(edit),
			func(ctx context.Context) (poll.Observation[string], error) {
				return s.secondary.CheckStatus(ctx, submission.TaskID)
			})
		if err != nil {
			s.logger.Warn("generation: secondary poll failed",
				zap.String("taskId", submission.TaskID), zap.Error(err))
			return domain.GenerationResult{}, false
		}
	}
	if imageURL == "" {
		return domain.GenerationResult{}, false
	}

	operation := "generate"
	if edit {
		operation = "edit"
	}
	s.metrics.RecordCall(ctx, "kie", "gpt4o-image", operation)
	return domain.GenerationResult{
		ImageURL: imageURL,
		Provider: "kie",
		Message:  "generated with kie async pipeline",
	}, true
}
