package kie

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/printloom/api/internal/domain"
	"github.com/printloom/api/internal/platform/config"
	"github.com/printloom/api/internal/platform/poll"
)

func TestStatusURL(t *testing.T) {
	cases := map[string]string{
		"https://api.kie.ai/api/v1/gpt4o-image/generate":  "https://api.kie.ai/api/v1/gpt4o-image/record-info",
		"https://api.kie.ai/api/v1/gpt4o-image/generate/": "https://api.kie.ai/api/v1/gpt4o-image/record-info",
		"https://api.kie.ai/api/v1/custom":                "https://api.kie.ai/api/v1/custom/record-info",
	}
	for in, want := range cases {
		if got := StatusURL(in); got != want {
			t.Fatalf("StatusURL(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestAspectRatioForShape(t *testing.T) {
	cases := map[domain.ImageShape]string{
		domain.ImageShapeSquare:        "1:1",
		domain.ImageShapePortrait:      "3:4",
		domain.ImageShapeLandscape:     "4:3",
		domain.ImageShapeTallPortrait:  "2:3",
		domain.ImageShapeWideLandscape: "3:2",
	}
	for shape, want := range cases {
		if got := AspectRatioForShape(shape); got != want {
			t.Fatalf("AspectRatioForShape(%s) = %s, want %s", shape, got, want)
		}
	}
}

func TestDecodeStatusShapes(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		state  poll.State
		result string
		reason string
	}{
		{
			name:   "numeric successFlag with resultUrls",
			raw:    `{"code":200,"data":{"successFlag":1,"response":{"resultUrls":["https://img/1.png"]}}}`,
			state:  poll.StateSucceeded,
			result: "https://img/1.png",
		},
		{
			name:  "snake_case string flag pending",
			raw:   `{"data":{"success_flag":"0"}}`,
			state: poll.StatePending,
		},
		{
			name:   "status string success",
			raw:    `{"data":{"status":"SUCCESS","response":{"resultUrl":"https://img/2.png"}}}`,
			state:  poll.StateSucceeded,
			result: "https://img/2.png",
		},
		{
			name:   "numeric status failure carries message",
			raw:    `{"data":{"successFlag":3,"errorMessage":"content rejected"}}`,
			state:  poll.StateFailed,
			reason: "content rejected",
		},
		{
			name:  "create failed",
			raw:   `{"data":{"status":"CREATE_TASK_FAILED"}}`,
			state: poll.StateFailed,
		},
		{
			name:   "no flag but url accepted best-effort",
			raw:    `{"data":{"response":{"resultUrls":["https://img/3.png"]}}}`,
			state:  poll.StateSucceeded,
			result: "https://img/3.png",
		},
		{
			name:  "success flag without url fails",
			raw:   `{"data":{"successFlag":1}}`,
			state: poll.StateFailed,
		},
		{
			name:  "empty payload pending",
			raw:   `{"data":{}}`,
			state: poll.StatePending,
		},
		{
			name:  "garbage fails",
			raw:   `not json`,
			state: poll.StateFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs := DecodeStatus([]byte(tc.raw))
			if obs.State != tc.state {
				t.Fatalf("state = %v, want %v", obs.State, tc.state)
			}
			if tc.result != "" && obs.Result != tc.result {
				t.Fatalf("result = %q, want %q", obs.Result, tc.result)
			}
			if tc.reason != "" && obs.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", obs.Reason, tc.reason)
			}
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.KieConfig{
		APIKey:      "kie-test",
		GenerateURL: server.URL + "/api/v1/gpt4o-image/generate",
	}, server.Client())
}

func TestSubmitReturnsTaskID(t *testing.T) {
	var gotPayload map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/gpt4o-image/generate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]string{"taskId": "task-123"},
		})
	})

	sub, err := client.Submit(context.Background(), SubmitRequest{
		Prompt:       "a fox",
		Shape:        domain.ImageShapeTallPortrait,
		ReferenceURL: "https://img/src.png",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if sub.TaskID != "task-123" {
		t.Fatalf("unexpected task id %q", sub.TaskID)
	}
	if sub.ImageURL != "" {
		t.Fatalf("unexpected embedded result %q", sub.ImageURL)
	}
	if gotPayload["aspectRatio"] != "2:3" {
		t.Fatalf("expected 2:3 aspect ratio, got %v", gotPayload["aspectRatio"])
	}
	files, ok := gotPayload["filesUrl"].([]any)
	if !ok || len(files) != 1 || files[0] != "https://img/src.png" {
		t.Fatalf("expected reference in filesUrl, got %v", gotPayload["filesUrl"])
	}
}

func TestSubmitShortCircuitsEmbeddedResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"response": map[string]any{"resultUrls": []string{"https://img/done.png"}},
			},
		})
	})

	sub, err := client.Submit(context.Background(), SubmitRequest{Prompt: "a fox"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if sub.ImageURL != "https://img/done.png" {
		t.Fatalf("expected embedded result, got %+v", sub)
	}
}

func TestSubmitRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 402, "msg": "insufficient credits"})
	})

	if _, err := client.Submit(context.Background(), SubmitRequest{Prompt: "a fox"}); err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestSubmitWithoutKey(t *testing.T) {
	client := NewClient(config.KieConfig{GenerateURL: "https://unused.example/generate"}, nil)
	if _, err := client.Submit(context.Background(), SubmitRequest{Prompt: "x"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCheckStatusUsesRecordInfoEndpoint(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/gpt4o-image/record-info" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["taskId"] != "task-123" {
			t.Fatalf("unexpected task id %q", payload["taskId"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"successFlag": 1,
				"response":    map[string]any{"resultUrls": []string{"https://img/out.png"}},
			},
		})
	})

	obs, err := client.CheckStatus(context.Background(), "task-123")
	if err != nil {
		t.Fatalf("CheckStatus returned error: %v", err)
	}
	if obs.State != poll.StateSucceeded || obs.Result != "https://img/out.png" {
		t.Fatalf("unexpected observation %+v", obs)
	}
}
