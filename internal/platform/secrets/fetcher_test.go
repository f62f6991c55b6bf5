package secrets

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

type stubClient struct {
	responses map[string]string
	err       error
	calls     []string
}

func (s *stubClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls = append(s.calls, req.GetName())
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.responses[req.GetName()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubClient) Close() error { return nil }

func newTestFetcher(t *testing.T, client accessClient, opts ...Option) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(context.Background(), append([]Option{WithClient(client)}, opts...)...)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	return fetcher
}

func TestResolveFullReference(t *testing.T) {
	client := &stubClient{responses: map[string]string{
		"projects/p/secrets/openai/versions/latest": "sk-test",
	}}
	fetcher := newTestFetcher(t, client)

	value, err := fetcher.ResolveSecret(context.Background(), "sm://projects/p/secrets/openai/versions/latest")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "sk-test" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveShortReferenceUsesDefaultProject(t *testing.T) {
	client := &stubClient{responses: map[string]string{
		"projects/printloom/secrets/kie-key/versions/latest": "kie-secret",
		"projects/printloom/secrets/kie-key/versions/3":      "kie-v3",
	}}
	fetcher := newTestFetcher(t, client, WithDefaultProject("printloom"))

	value, err := fetcher.ResolveSecret(context.Background(), "sm://kie-key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "kie-secret" {
		t.Fatalf("unexpected value %q", value)
	}

	pinned, err := fetcher.ResolveSecret(context.Background(), "sm://kie-key@3")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if pinned != "kie-v3" {
		t.Fatalf("unexpected pinned value %q", pinned)
	}
}

func TestResolveShortReferenceWithoutProjectFails(t *testing.T) {
	fetcher := newTestFetcher(t, &stubClient{})
	if _, err := fetcher.ResolveSecret(context.Background(), "sm://orphan"); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestResolveCachesValues(t *testing.T) {
	client := &stubClient{responses: map[string]string{
		"projects/p/secrets/a/versions/latest": "v1",
	}}
	fetcher := newTestFetcher(t, client)

	for range 3 {
		if _, err := fetcher.ResolveSecret(context.Background(), "sm://projects/p/secrets/a/versions/latest"); err != nil {
			t.Fatalf("ResolveSecret returned error: %v", err)
		}
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected 1 remote call, got %d", len(client.calls))
	}

	fetcher.Invalidate("sm://projects/p/secrets/a/versions/latest")
	if _, err := fetcher.ResolveSecret(context.Background(), "sm://projects/p/secrets/a/versions/latest"); err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected refetch after invalidation, got %d calls", len(client.calls))
	}
}

func TestResolveRejectsNonReference(t *testing.T) {
	fetcher := newTestFetcher(t, &stubClient{})
	if _, err := fetcher.ResolveSecret(context.Background(), "plain-value"); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}
