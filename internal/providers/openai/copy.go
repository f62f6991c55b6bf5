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
)

const copySystemPrompt = "You write product listings for print-on-demand merchandise. " +
	"Respond with a single JSON object: {\"title\": string, \"description\": string (HTML allowed), \"tags\": [string]}."

// RawListingCopy is the provider's decoded copy payload before sanitisation.
type RawListingCopy struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// CopyClient generates listing copy through the chat completions API.
type CopyClient struct {
	cfg        clientConfig
	httpClient HTTPDoer
}

type clientConfig struct {
	apiKey  string
	baseURL string
	model   string
}

// NewCopyClient builds a CopyClient sharing the image client's credentials.
func NewCopyClient(apiKey, baseURL, model string, doer HTTPDoer) *CopyClient {
	if doer == nil {
		doer = &http.Client{Timeout: 60 * time.Second}
	}
	return &CopyClient{
		cfg: clientConfig{
			apiKey:  strings.TrimSpace(apiKey),
			baseURL: strings.TrimRight(baseURL, "/"),
			model:   model,
		},
		httpClient: doer,
	}
}

// Configured reports whether a credential is present.
func (c *CopyClient) Configured() bool { return c.cfg.apiKey != "" }

// GenerateListingCopy asks the model for a structured listing object.
func (c *CopyClient) GenerateListingCopy(ctx context.Context, concept, category string) (RawListingCopy, error) {
	if !c.Configured() {
		return RawListingCopy{}, ErrMissingAPIKey
	}

	payload := map[string]any{
		"model": c.cfg.model,
		"messages": []map[string]string{
			{"role": "system", "content": copySystemPrompt},
			{"role": "user", "content": fmt.Sprintf("Concept: %s\nProduct category: %s", concept, category)},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return RawListingCopy{}, fmt.Errorf("openai: marshal copy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return RawListingCopy{}, fmt.Errorf("openai: build copy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawListingCopy{}, fmt.Errorf("openai: copy request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RawListingCopy{}, fmt.Errorf("openai: read copy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return RawListingCopy{}, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return RawListingCopy{}, fmt.Errorf("openai: decode copy response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return RawListingCopy{}, errors.New("openai: copy response has no choices")
	}

	var copyPayload RawListingCopy
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &copyPayload); err != nil {
		return RawListingCopy{}, fmt.Errorf("openai: copy payload is not valid JSON: %w", err)
	}
	if strings.TrimSpace(copyPayload.Title) == "" {
		return RawListingCopy{}, errors.New("openai: copy payload missing title")
	}
	return copyPayload, nil
}
