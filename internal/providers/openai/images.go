package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/config"
)

// ErrMissingAPIKey is returned when the client has no credential configured.
var ErrMissingAPIKey = errors.New("openai: api key is not configured")

// APIError carries the HTTP status so callers can classify rejections.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.StatusCode, e.Message)
}

// ModelUnavailable reports whether the error signals the model is not
// enabled for this account, warranting a downgrade rather than a fallback.
func (e *APIError) ModelUnavailable() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// HTTPDoer issues outbound HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ImageRequest describes one generation or edit call.
type ImageRequest struct {
	Model        string
	Prompt       string
	Shape        domain.ImageShape
	ReferenceURL string
}

// ImageResult is the canonical decoded response.
type ImageResult struct {
	URL     string
	B64JSON string
	Model   string
}

// ImageClient talks to the images API.
type ImageClient struct {
	cfg        config.OpenAIConfig
	httpClient HTTPDoer
}

// NewImageClient builds an ImageClient. A nil doer uses a default client
// bounded by the configured request timeout.
func NewImageClient(cfg config.OpenAIConfig, doer HTTPDoer) *ImageClient {
	if doer == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	return &ImageClient{cfg: cfg, httpClient: doer}
}

// Configured reports whether a credential is present.
func (c *ImageClient) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// DefaultModel returns the configured primary image model.
func (c *ImageClient) DefaultModel() string { return c.cfg.ImageModel }

// FallbackModel returns the configured downgrade model.
func (c *ImageClient) FallbackModel() string { return c.cfg.FallbackModel }

// Generate issues a pure text-to-image call.
func (c *ImageClient) Generate(ctx context.Context, req ImageRequest) (ImageResult, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"size":   SizeForShape(req.Shape),
		"n":      1,
	}
	return c.call(ctx, "/images/generations", payload, req.Model)
}

// Edit issues an image-to-image call using the reference URL.
func (c *ImageClient) Edit(ctx context.Context, req ImageRequest) (ImageResult, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"size":   SizeForShape(req.Shape),
		"image":  req.ReferenceURL,
		"n":      1,
	}
	return c.call(ctx, "/images/edits", payload, req.Model)
}

func (c *ImageClient) call(ctx context.Context, path string, payload map[string]any, model string) (ImageResult, error) {
	if !c.Configured() {
		return ImageResult{}, ErrMissingAPIKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ImageResult{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ImageResult{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ImageResult{}, fmt.Errorf("openai: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return ImageResult{}, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ImageResult{}, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var decoded struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ImageResult{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(decoded.Data) == 0 || (decoded.Data[0].URL == "" && decoded.Data[0].B64JSON == "") {
		return ImageResult{}, errors.New("openai: response contains no image")
	}

	return ImageResult{
		URL:     decoded.Data[0].URL,
		B64JSON: decoded.Data[0].B64JSON,
		Model:   model,
	}, nil
}

// SizeForShape maps the shape hint onto the provider's size strings.
// The tall and wide variants share the portrait and landscape sizes.
func SizeForShape(shape domain.ImageShape) string {
	switch shape {
	case domain.ImageShapePortrait, domain.ImageShapeTallPortrait:
		return "1024x1536"
	case domain.ImageShapeLandscape, domain.ImageShapeWideLandscape:
		return "1536x1024"
	default:
		return "1024x1024"
	}
}

func errorMessage(raw []byte) string {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}
