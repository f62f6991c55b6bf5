package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 120 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultOpenAIBaseURL      = "https://api.openai.com/v1"
	defaultOpenAIImageModel   = "gpt-image-1"
	defaultOpenAIBackupModel  = "dall-e-3"
	defaultOpenAICopyModel    = "gpt-4o-mini"
	defaultKieBaseURL         = "https://api.kie.ai/api/v1/gpt4o-image/generate"
	defaultKiePollInterval    = 3 * time.Second
	defaultKieGenerateTimeout = 60 * time.Second
	defaultKieEditTimeout     = 90 * time.Second
	defaultPrintfulBaseURL    = "https://api.printful.com"
	defaultShopifyAPIVersion  = "2024-01"
	defaultPublishMaxRetries  = 3
	defaultPublishRetryBase   = time.Second
	defaultSceneCount         = 3

	secretRefPrefix = "sm://"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	PubSub    PubSubConfig
	OpenAI    OpenAIConfig
	Kie       KieConfig
	Printful  PrintfulConfig
	Shopify   ShopifyConfig
	Pipeline  PipelineConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the bucket holding persisted pipeline assets.
type StorageConfig struct {
	AssetsBucket string
	PublicHost   string
}

// PubSubConfig identifies the pipeline analytics topic.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// OpenAIConfig configures the primary image provider and the copy generator.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ImageModel     string
	FallbackModel  string
	CopyModel      string
	RequestTimeout time.Duration
}

// KieConfig configures the secondary asynchronous image provider.
type KieConfig struct {
	APIKey           string
	GenerateURL      string
	PollInterval     time.Duration
	GenerateDeadline time.Duration
	EditDeadline     time.Duration
}

// PrintfulConfig configures the catalog-backed mockup provider.
type PrintfulConfig struct {
	APIKey  string
	BaseURL string
}

// ShopifyConfig configures the commerce publish target.
type ShopifyConfig struct {
	GlobalAccessToken string
	APIVersion        string
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

// PipelineConfig tunes finalize behaviour.
type PipelineConfig struct {
	SceneCount int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile points the loader at a specific env file (missing files are skipped).
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap overrides environment lookup entirely (used in tests).
func WithEnvMap(env map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = env
		o.useSystemEnv = false
	}
}

// WithSecretResolver installs a resolver for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load reads configuration from the env file and process environment.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	loader := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&loader)
		}
	}

	env, err := buildEnv(loader)
	if err != nil {
		return Config{}, err
	}

	get := func(key string) string { return strings.TrimSpace(env[key]) }

	secret := func(key string) (string, error) {
		value := get(key)
		if !strings.HasPrefix(value, secretRefPrefix) {
			return value, nil
		}
		if loader.secret == nil {
			return "", fmt.Errorf("config: %s references a secret but no resolver is configured", key)
		}
		resolved, err := loader.secret.ResolveSecret(ctx, value)
		if err != nil {
			return "", fmt.Errorf("config: resolve %s: %w", key, err)
		}
		return strings.TrimSpace(resolved), nil
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         valueOr(get("PORT"), defaultPort),
			ReadTimeout:  durationOr(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOr(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOr(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get("FIRESTORE_PROJECT_ID"),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		Storage: StorageConfig{
			AssetsBucket: get("ASSETS_BUCKET"),
			PublicHost:   valueOr(get("ASSETS_PUBLIC_HOST"), "https://storage.googleapis.com"),
		},
		PubSub: PubSubConfig{
			ProjectID: valueOr(get("PUBSUB_PROJECT_ID"), get("FIRESTORE_PROJECT_ID")),
			Topic:     get("PIPELINE_EVENTS_TOPIC"),
		},
		OpenAI: OpenAIConfig{
			BaseURL:        valueOr(get("OPENAI_BASE_URL"), defaultOpenAIBaseURL),
			ImageModel:     valueOr(get("OPENAI_IMAGE_MODEL"), defaultOpenAIImageModel),
			FallbackModel:  valueOr(get("OPENAI_FALLBACK_IMAGE_MODEL"), defaultOpenAIBackupModel),
			CopyModel:      valueOr(get("OPENAI_COPY_MODEL"), defaultOpenAICopyModel),
			RequestTimeout: durationOr(get("OPENAI_REQUEST_TIMEOUT"), 120*time.Second),
		},
		Kie: KieConfig{
			GenerateURL:      valueOr(get("KIE_GENERATE_URL"), defaultKieBaseURL),
			PollInterval:     durationOr(get("KIE_POLL_INTERVAL"), defaultKiePollInterval),
			GenerateDeadline: durationOr(get("KIE_GENERATE_DEADLINE"), defaultKieGenerateTimeout),
			EditDeadline:     durationOr(get("KIE_EDIT_DEADLINE"), defaultKieEditTimeout),
		},
		Printful: PrintfulConfig{
			BaseURL: valueOr(get("PRINTFUL_BASE_URL"), defaultPrintfulBaseURL),
		},
		Shopify: ShopifyConfig{
			APIVersion:     valueOr(get("SHOPIFY_API_VERSION"), defaultShopifyAPIVersion),
			MaxRetries:     intOr(get("PUBLISH_MAX_RETRIES"), defaultPublishMaxRetries),
			RetryBaseDelay: durationOr(get("PUBLISH_RETRY_BASE_DELAY"), defaultPublishRetryBase),
		},
		Pipeline: PipelineConfig{
			SceneCount: intOr(get("PIPELINE_SCENE_COUNT"), defaultSceneCount),
		},
	}

	// Provider credentials may reference Secret Manager entries; absence is
	// tolerated everywhere because each component carries an offline fallback.
	if cfg.OpenAI.APIKey, err = secret("OPENAI_API_KEY"); err != nil {
		return Config{}, err
	}
	if cfg.Kie.APIKey, err = secret("KIE_API_KEY"); err != nil {
		return Config{}, err
	}
	if cfg.Printful.APIKey, err = secret("PRINTFUL_API_KEY"); err != nil {
		return Config{}, err
	}
	if cfg.Shopify.GlobalAccessToken, err = secret("SHOPIFY_GLOBAL_ACCESS_TOKEN"); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Firestore.ProjectID) == "" {
		missing = append(missing, "FIRESTORE_PROJECT_ID")
	}
	if strings.TrimSpace(cfg.Storage.AssetsBucket) == "" {
		missing = append(missing, "ASSETS_BUCKET")
	}
	if cfg.Pipeline.SceneCount <= 0 {
		missing = append(missing, "PIPELINE_SCENE_COUNT")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func buildEnv(loader loaderOptions) (map[string]string, error) {
	env := make(map[string]string)

	if loader.envFile != "" {
		fileEnv, err := parseEnvFile(loader.envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}

	if loader.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			env[key] = value
		}
	}

	for k, v := range loader.envMap {
		env[k] = v
	}
	return env, nil
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			env[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return env, nil
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func intOr(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
