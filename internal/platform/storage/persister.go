package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/printloom/api/internal/platform/config"
)

const (
	defaultDownloadTimeout = 60 * time.Second
	maxAssetBytes          = 32 << 20
)

// ErrEmptySource is returned when the source URL is blank.
var ErrEmptySource = errors.New("storage: source url is required")

// HTTPDoer issues outbound HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Persisted describes a stored asset copy.
type Persisted struct {
	Bucket      string
	ObjectPath  string
	PublicURL   string
	ContentType string
	Size        int64
}

// Persister copies provider-hosted images into the durable assets bucket.
// Provider URLs expire; every asset a design references must survive them.
type Persister struct {
	cfg        config.StorageConfig
	httpClient HTTPDoer
	logger     *zap.Logger
	clientOpts []option.ClientOption

	mu     sync.Mutex
	client *gcs.Client
}

// PersisterOption customises Persister construction.
type PersisterOption func(*Persister)

// WithHTTPClient overrides the client used to download source images.
func WithHTTPClient(doer HTTPDoer) PersisterOption {
	return func(p *Persister) {
		if doer != nil {
			p.httpClient = doer
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) PersisterOption {
	return func(p *Persister) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClientOptions forwards Cloud client options used when dialling GCS.
func WithClientOptions(opts ...option.ClientOption) PersisterOption {
	return func(p *Persister) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewPersister builds a Persister bound to the configured assets bucket.
func NewPersister(cfg config.StorageConfig, opts ...PersisterOption) (*Persister, error) {
	if strings.TrimSpace(cfg.AssetsBucket) == "" {
		return nil, errors.New("storage: assets bucket is required")
	}

	p := &Persister{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultDownloadTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Persist copies the source image under objectPath in the assets bucket.
// Remote URLs are downloaded; data URIs are decoded in place since the HTTP
// transport has no handler for the data scheme.
func (p *Persister) Persist(ctx context.Context, sourceURL, objectPath string) (Persisted, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return Persisted{}, ErrEmptySource
	}
	if strings.TrimSpace(objectPath) == "" {
		return Persisted{}, errors.New("storage: object path is required")
	}

	if strings.HasPrefix(sourceURL, "data:") {
		payload, contentType, err := decodeDataURI(sourceURL)
		if err != nil {
			return Persisted{}, fmt.Errorf("storage: decode inline image: %w", err)
		}
		return p.PersistBytes(ctx, payload, objectPath, contentType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Persisted{}, fmt.Errorf("storage: build download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Persisted{}, fmt.Errorf("storage: download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Persisted{}, fmt.Errorf("storage: download %s: unexpected status %d", sourceURL, resp.StatusCode)
	}

	contentType := normalizeContentType(resp.Header.Get("Content-Type"))

	client, err := p.gcsClient(ctx)
	if err != nil {
		return Persisted{}, err
	}

	writer := client.Bucket(p.cfg.AssetsBucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "public, max-age=31536000, immutable"

	written, err := io.Copy(writer, io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		_ = writer.Close()
		return Persisted{}, fmt.Errorf("storage: write %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return Persisted{}, fmt.Errorf("storage: finalize %s: %w", objectPath, err)
	}

	persisted := Persisted{
		Bucket:      p.cfg.AssetsBucket,
		ObjectPath:  objectPath,
		PublicURL:   p.PublicURL(objectPath),
		ContentType: contentType,
		Size:        written,
	}
	p.logger.Debug("storage: persisted asset",
		zap.String("object", objectPath),
		zap.Int64("bytes", written),
	)
	return persisted, nil
}

// PersistBytes writes an in-memory payload under objectPath.
func (p *Persister) PersistBytes(ctx context.Context, payload []byte, objectPath, contentType string) (Persisted, error) {
	if len(payload) == 0 {
		return Persisted{}, errors.New("storage: payload is empty")
	}
	if strings.TrimSpace(objectPath) == "" {
		return Persisted{}, errors.New("storage: object path is required")
	}

	client, err := p.gcsClient(ctx)
	if err != nil {
		return Persisted{}, err
	}

	writer := client.Bucket(p.cfg.AssetsBucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = normalizeContentType(contentType)
	writer.CacheControl = "public, max-age=31536000, immutable"

	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return Persisted{}, fmt.Errorf("storage: write %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return Persisted{}, fmt.Errorf("storage: finalize %s: %w", objectPath, err)
	}

	return Persisted{
		Bucket:      p.cfg.AssetsBucket,
		ObjectPath:  objectPath,
		PublicURL:   p.PublicURL(objectPath),
		ContentType: writer.ContentType,
		Size:        int64(len(payload)),
	}, nil
}

// PublicURL returns the public HTTP URL for an object in the assets bucket.
func (p *Persister) PublicURL(objectPath string) string {
	host := strings.TrimRight(p.cfg.PublicHost, "/")
	return fmt.Sprintf("%s/%s/%s", host, p.cfg.AssetsBucket, strings.TrimLeft(objectPath, "/"))
}

// Close releases the underlying GCS client.
func (p *Persister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	client := p.client
	p.client = nil
	return client.Close()
}

func (p *Persister) gcsClient(ctx context.Context) (*gcs.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := gcs.NewClient(ctx, p.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	p.client = client
	return client, nil
}

func decodeDataURI(uri string) ([]byte, string, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", errors.New("malformed data uri")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.New("data uri payload is not base64 encoded")
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, "", errors.New("data uri payload is empty")
	}
	if len(payload) > maxAssetBytes {
		return nil, "", fmt.Errorf("inline payload exceeds %d bytes", maxAssetBytes)
	}
	return payload, strings.TrimSuffix(meta, ";base64"), nil
}

func normalizeContentType(raw string) string {
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil || parsed == "" || parsed == "application/octet-stream" {
		return "image/png"
	}
	return parsed
}
