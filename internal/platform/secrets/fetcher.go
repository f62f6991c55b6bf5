package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const refScheme = "sm://"

var clientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// ErrInvalidReference is returned when the reference is not an sm:// URI.
var ErrInvalidReference = errors.New("secrets: invalid reference")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves sm:// references against Google Secret Manager with in-process caching.
type Fetcher struct {
	client         accessClient
	ownsClient     bool
	logger         *zap.Logger
	defaultProject string

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject sets the project used for short references like sm://my-secret.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithClient injects a preconfigured Secret Manager client (primarily for tests).
func WithClient(client accessClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher builds a Fetcher. When no client is injected one is created lazily on first use.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger: zap.NewNop(),
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	if f.client == nil {
		client, err := clientFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

// Close releases the underlying client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret fetches the secret payload for an sm:// reference.
// Supported forms:
//
//	sm://projects/<project>/secrets/<name>/versions/<version>
//	sm://<name>              (default project, latest version)
//	sm://<name>@<version>    (default project, pinned version)
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, err := f.resourceName(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	entry, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		return entry.value, nil
	}

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}

	value := string(resp.Payload.GetData())
	f.mu.Lock()
	f.cache[name] = cacheEntry{value: value, fetchedAt: time.Now()}
	f.mu.Unlock()

	f.logger.Debug("secrets: resolved reference", zap.String("resource", name))
	return value, nil
}

// Invalidate drops any cached value for the reference.
func (f *Fetcher) Invalidate(ref string) {
	name, err := f.resourceName(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, name)
	f.mu.Unlock()
}

func (f *Fetcher) resourceName(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, refScheme) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	body := strings.Trim(strings.TrimPrefix(trimmed, refScheme), "/")
	if body == "" {
		return "", fmt.Errorf("%w: missing secret name", ErrInvalidReference)
	}

	if strings.HasPrefix(body, "projects/") {
		return body, nil
	}

	if f.defaultProject == "" {
		return "", fmt.Errorf("%w: short reference %q requires a default project", ErrInvalidReference, ref)
	}

	name := body
	version := "latest"
	if at := strings.LastIndex(body, "@"); at > 0 {
		name = body[:at]
		version = body[at+1:]
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.defaultProject, name, version), nil
}
