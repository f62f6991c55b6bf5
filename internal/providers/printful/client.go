package printful

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/printloom/api/internal/platform/config"
	"github.com/printloom/api/internal/platform/poll"
)

// ErrMissingAPIKey is returned when the client has no credential configured.
var ErrMissingAPIKey = errors.New("printful: api key is not configured")

// HTTPDoer issues outbound HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Printfiles carries the placement metadata needed to create a render task.
type Printfiles struct {
	VariantIDs []int64
	Placement  string
}

// Client drives the mockup generator's three-call protocol: fetch
// printfiles, create a render task, poll the task endpoint.
type Client struct {
	cfg        config.PrintfulConfig
	httpClient HTTPDoer
}

// NewClient builds a Client. A nil doer uses a default 30s client.
func NewClient(cfg config.PrintfulConfig, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: doer}
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// FetchPrintfiles returns placement metadata for the catalog product.
func (c *Client) FetchPrintfiles(ctx context.Context, productID int64) (Printfiles, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/mockup-generator/printfiles/%d", productID), nil)
	if err != nil {
		return Printfiles{}, err
	}

	var decoded struct {
		Result struct {
			AvailablePlacements map[string]string `json:"available_placements"`
			VariantPrintfiles   []struct {
				VariantID int64 `json:"variant_id"`
			} `json:"variant_printfiles"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Printfiles{}, fmt.Errorf("printful: decode printfiles: %w", err)
	}

	pf := Printfiles{Placement: "front"}
	if _, ok := decoded.Result.AvailablePlacements["front"]; !ok {
		for placement := range decoded.Result.AvailablePlacements {
			pf.Placement = placement
			break
		}
	}
	for _, variant := range decoded.Result.VariantPrintfiles {
		pf.VariantIDs = append(pf.VariantIDs, variant.VariantID)
	}
	if len(pf.VariantIDs) == 0 {
		return Printfiles{}, fmt.Errorf("printful: product %d has no variants", productID)
	}
	return pf, nil
}

// CreateTask submits a mockup render task and returns its task key.
func (c *Client) CreateTask(ctx context.Context, productID int64, pf Printfiles, imageURL string) (string, error) {
	variants := pf.VariantIDs
	if len(variants) > 2 {
		variants = variants[:2]
	}
	payload := map[string]any{
		"variant_ids": variants,
		"format":      "png",
		"files": []map[string]any{
			{"placement": pf.Placement, "image_url": imageURL},
		},
	}

	raw, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/mockup-generator/create-task/%d", productID), payload)
	if err != nil {
		return "", err
	}

	var decoded struct {
		Result struct {
			TaskKey string `json:"task_key"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("printful: decode create-task: %w", err)
	}
	if decoded.Result.TaskKey == "" {
		return "", errors.New("printful: create-task returned no task key")
	}
	return decoded.Result.TaskKey, nil
}

// CheckTask performs one status poll and yields the mockup URLs on completion.
func (c *Client) CheckTask(ctx context.Context, taskKey string) (poll.Observation[[]string], error) {
	raw, err := c.do(ctx, http.MethodGet, "/mockup-generator/task?task_key="+url.QueryEscape(taskKey), nil)
	if err != nil {
		return poll.Observation[[]string]{}, err
	}

	var decoded struct {
		Result struct {
			Status  string `json:"status"`
			Error   string `json:"error"`
			Mockups []struct {
				MockupURL string `json:"mockup_url"`
				Extra     []struct {
					URL string `json:"url"`
				} `json:"extra"`
			} `json:"mockups"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return poll.Observation[[]string]{}, fmt.Errorf("printful: decode task status: %w", err)
	}

	switch strings.ToLower(decoded.Result.Status) {
	case "completed":
		var urls []string
		for _, mockup := range decoded.Result.Mockups {
			if mockup.MockupURL != "" {
				urls = append(urls, mockup.MockupURL)
			}
			for _, extra := range mockup.Extra {
				if extra.URL != "" {
					urls = append(urls, extra.URL)
				}
			}
		}
		if len(urls) == 0 {
			return poll.Failed[[]string]("task completed without mockup urls"), nil
		}
		return poll.Succeeded(urls), nil
	case "failed":
		reason := decoded.Result.Error
		if reason == "" {
			reason = "mockup render failed"
		}
		return poll.Failed[[]string](reason), nil
	default:
		return poll.Pending[[]string](), nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload map[string]any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrMissingAPIKey
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("printful: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("printful: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("printful: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("printful: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("printful: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
