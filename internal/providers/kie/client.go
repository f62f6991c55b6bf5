package kie

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
	"github.com/printloom/api/internal/platform/poll"
)

// ErrMissingAPIKey is returned when the client has no credential configured.
var ErrMissingAPIKey = errors.New("kie: api key is not configured")

// HTTPDoer issues outbound HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SubmitRequest describes one asynchronous generation job.
type SubmitRequest struct {
	Prompt       string
	Shape        domain.ImageShape
	ReferenceURL string
}

// Submission is the decoded job handle. ImageURL is non-empty when the
// submission response already embeds a finished result.
type Submission struct {
	TaskID   string
	ImageURL string
}

// Client talks to the asynchronous generation API.
type Client struct {
	cfg        config.KieConfig
	httpClient HTTPDoer
}

// NewClient builds a Client. A nil doer uses a default 30s client.
func NewClient(cfg config.KieConfig, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: doer}
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// PollInterval returns the configured status poll cadence.
func (c *Client) PollInterval() time.Duration { return c.cfg.PollInterval }

// Deadline returns the polling deadline for the operation kind. Edits get
// the longer budget since image-to-image jobs run slower upstream.
func (c *Client) Deadline(edit bool) time.Duration {
	if edit {
		return c.cfg.EditDeadline
	}
	return c.cfg.GenerateDeadline
}

// Submit enqueues a generation job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	if !c.Configured() {
		return Submission{}, ErrMissingAPIKey
	}

	payload := map[string]any{
		"prompt":      req.Prompt,
		"aspectRatio": AspectRatioForShape(req.Shape),
		"size":        AspectRatioForShape(req.Shape),
	}
	if ref := strings.TrimSpace(req.ReferenceURL); ref != "" {
		payload["filesUrl"] = []string{ref}
		payload["inputImage"] = ref
	}

	raw, err := c.post(ctx, c.cfg.GenerateURL, payload)
	if err != nil {
		return Submission{}, err
	}

	var decoded struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID   string          `json:"taskId"`
			TaskID2  string          `json:"task_id"`
			Response statusResponse  `json:"response"`
			Result   json.RawMessage `json:"resultUrls"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Submission{}, fmt.Errorf("kie: decode submission: %w", err)
	}
	if decoded.Code != 0 && decoded.Code != 200 {
		return Submission{}, fmt.Errorf("kie: submission rejected: code %d: %s", decoded.Code, decoded.Msg)
	}

	sub := Submission{TaskID: firstNonEmpty(decoded.Data.TaskID, decoded.Data.TaskID2)}
	if url := decoded.Data.Response.firstURL(); url != "" {
		sub.ImageURL = url
	} else if url := firstURLFromRaw(decoded.Data.Result); url != "" {
		sub.ImageURL = url
	}
	if sub.TaskID == "" && sub.ImageURL == "" {
		return Submission{}, errors.New("kie: submission returned neither task id nor result")
	}
	return sub, nil
}

// CheckStatus performs one status poll for the task.
func (c *Client) CheckStatus(ctx context.Context, taskID string) (poll.Observation[string], error) {
	raw, err := c.post(ctx, StatusURL(c.cfg.GenerateURL), map[string]any{"taskId": taskID})
	if err != nil {
		return poll.Observation[string]{}, err
	}
	return DecodeStatus(raw), nil
}

func (c *Client) post(ctx context.Context, url string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kie: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kie: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kie: %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("kie: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kie: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

// StatusURL derives the record-info endpoint from the submission endpoint:
// a trailing /generate segment is replaced, anything else gets /record-info
// appended.
func StatusURL(generateURL string) string {
	trimmed := strings.TrimRight(generateURL, "/")
	if strings.HasSuffix(trimmed, "/generate") {
		return strings.TrimSuffix(trimmed, "/generate") + "/record-info"
	}
	return trimmed + "/record-info"
}

// AspectRatioForShape maps the shape hint onto the provider's ratio strings.
func AspectRatioForShape(shape domain.ImageShape) string {
	switch shape {
	case domain.ImageShapePortrait:
		return "3:4"
	case domain.ImageShapeLandscape:
		return "4:3"
	case domain.ImageShapeTallPortrait:
		return "2:3"
	case domain.ImageShapeWideLandscape:
		return "3:2"
	default:
		return "1:1"
	}
}

type statusResponse struct {
	ResultUrls  []string `json:"resultUrls"`
	ResultURL   string   `json:"resultUrl"`
	ImageURL    string   `json:"imageUrl"`
	ImageGenURL string   `json:"image_url"`
}

func (r statusResponse) firstURL() string {
	if len(r.ResultUrls) > 0 {
		return r.ResultUrls[0]
	}
	return firstNonEmpty(r.ResultURL, r.ImageURL, r.ImageGenURL)
}

// DecodeStatus maps the provider's heterogeneous status payloads onto one
// canonical observation. Success is recognised from successFlag,
// success_flag, or status (string or numeric); a result URL without any
// success flag is accepted best-effort.
func DecodeStatus(raw []byte) poll.Observation[string] {
	var decoded struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			SuccessFlag  json.RawMessage `json:"successFlag"`
			SuccessFlag2 json.RawMessage `json:"success_flag"`
			Status       json.RawMessage `json:"status"`
			ErrorMessage string          `json:"errorMessage"`
			Response     statusResponse  `json:"response"`
			ResultUrls   []string        `json:"resultUrls"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return poll.Failed[string]("unreadable status payload")
	}

	url := decoded.Data.Response.firstURL()
	if url == "" && len(decoded.Data.ResultUrls) > 0 {
		url = decoded.Data.ResultUrls[0]
	}

	state, known := classify(decoded.Data.SuccessFlag, decoded.Data.SuccessFlag2, decoded.Data.Status)
	switch {
	case known && state == jobSucceeded:
		if url == "" {
			return poll.Failed[string]("job succeeded without a result url")
		}
		return poll.Succeeded(url)
	case known && state == jobFailed:
		reason := firstNonEmpty(decoded.Data.ErrorMessage, decoded.Msg, "generation failed")
		return poll.Failed[string](reason)
	case !known && url != "":
		// No recognisable flag but a result is present; take it.
		return poll.Succeeded(url)
	default:
		return poll.Pending[string]()
	}
}

type jobState int

const (
	jobPending jobState = iota
	jobSucceeded
	jobFailed
)

func classify(flags ...json.RawMessage) (jobState, bool) {
	for _, flag := range flags {
		if len(flag) == 0 || string(flag) == "null" {
			continue
		}

		var numeric int
		if err := json.Unmarshal(flag, &numeric); err == nil {
			switch numeric {
			case 0:
				return jobPending, true
			case 1:
				return jobSucceeded, true
			default:
				// 2 = create failed, 3 = generate failed.
				return jobFailed, true
			}
		}

		var text string
		if err := json.Unmarshal(flag, &text); err == nil {
			switch strings.ToUpper(strings.TrimSpace(text)) {
			case "0", "PENDING", "GENERATING", "QUEUED", "IN_PROGRESS":
				return jobPending, true
			case "1", "SUCCESS", "SUCCEEDED", "COMPLETED":
				return jobSucceeded, true
			case "2", "3", "FAILED", "CREATE_TASK_FAILED", "GENERATE_FAILED", "ERROR":
				return jobFailed, true
			}
		}
	}
	return jobPending, false
}

// firstURLFromRaw extracts the first non-empty URL from a raw resultUrls
// field, which upstream serialises either as a JSON array of strings or as
// a single string.
func firstURLFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return firstNonEmpty(list...)
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return firstNonEmpty(single)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
