package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/printloom/api/internal/di"
	"github.com/printloom/api/internal/handlers"
	"github.com/printloom/api/internal/platform/config"
	pfirestore "github.com/printloom/api/internal/platform/firestore"
	"github.com/printloom/api/internal/platform/jobs"
	"github.com/printloom/api/internal/platform/observability"
	"github.com/printloom/api/internal/platform/secrets"
	platformstorage "github.com/printloom/api/internal/platform/storage"
	firestoreRepo "github.com/printloom/api/internal/repositories/firestore"
	"github.com/printloom/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	persister, err := platformstorage.NewPersister(cfg.Storage,
		platformstorage.WithLogger(logger.Named("storage")),
	)
	if err != nil {
		logger.Fatal("failed to initialise asset persister", zap.Error(err))
	}
	defer func() {
		if err := persister.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	var events services.EventPublisher
	var pubsubClient *pubsub.Client
	var pubsubTopic *pubsub.Topic
	if strings.TrimSpace(cfg.PubSub.Topic) != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		pubsubTopic = pubsubClient.Topic(cfg.PubSub.Topic)
		publisher, err := jobs.NewPipelineEventPublisher(pubsubTopic)
		if err != nil {
			logger.Fatal("failed to initialise pipeline event publisher", zap.Error(err))
		}
		events = publisher
	} else {
		logger.Info("pipeline events topic not configured; analytics events disabled")
	}
	defer func() {
		if pubsubTopic != nil {
			pubsubTopic.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	container, err := di.NewContainer(ctx, cfg, di.ContainerDeps{
		Registry:  registry,
		Persister: persister,
		Events:    events,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	designHandlers := handlers.NewDesignHandlers(container.Services.Design, container.Services.Pipeline)
	healthHandlers := handlers.NewHealthHandlers(readinessChecks(firestoreClient, pubsubTopic))

	router := handlers.NewRouter(
		handlers.WithMiddlewares(handlers.RequestLogger(logger.Named("http"))),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithDesignRoutes(designHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("printloom api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(os.Getenv("SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID"))
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func readinessChecks(client *firestore.Client, topic *pubsub.Topic) map[string]handlers.ReadinessCheck {
	checks := make(map[string]handlers.ReadinessCheck, 2)
	if client != nil {
		c := client
		checks["firestore"] = func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
			defer cancel()
			iter := c.Collections(checkCtx)
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}
	}
	if topic != nil {
		t := topic
		checks["pubsub"] = func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			_, err := t.Exists(checkCtx)
			return err
		}
	}
	return checks
}
