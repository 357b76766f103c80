// Package main wires together the listforge publish pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/listforge/listforge/internal/api"
	"github.com/listforge/listforge/internal/clock/system"
	"github.com/listforge/listforge/internal/config"
	"github.com/listforge/listforge/internal/dispatcher"
	eventsmem "github.com/listforge/listforge/internal/events/memory"
	eventspubsub "github.com/listforge/listforge/internal/events/pubsub"
	"github.com/listforge/listforge/internal/extract"
	"github.com/listforge/listforge/internal/hash/sha256"
	"github.com/listforge/listforge/internal/id/uuid"
	idemmem "github.com/listforge/listforge/internal/idempotency/memory"
	idempg "github.com/listforge/listforge/internal/idempotency/postgres"
	"github.com/listforge/listforge/internal/logging"
	"github.com/listforge/listforge/internal/orchestrator"
	"github.com/listforge/listforge/internal/pipeline"
	"github.com/listforge/listforge/internal/publisher"
	storagegcs "github.com/listforge/listforge/internal/storage/gcs"
	storagelocal "github.com/listforge/listforge/internal/storage/local"
	storagemem "github.com/listforge/listforge/internal/storage/memory"
	"github.com/listforge/listforge/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	coordinator := transport.NewCoordinator(transport.Config{
		UserAgent:      cfg.Transport.UserAgent,
		Timeout:        cfg.FetchTimeout(),
		MaxRetries:     cfg.Transport.MaxRetries,
		BackoffInitial: time.Duration(cfg.Transport.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Transport.BackoffMaxMs) * time.Millisecond,
		MaxPerHost:     cfg.Transport.MaxPerHost,
		HostRPS:        cfg.Transport.HostRPS,
		HostBurst:      cfg.Transport.HostBurst,
		CacheTTL:       time.Duration(cfg.Transport.CacheTTLSeconds) * time.Second,
		Proxies:        cfg.Transport.Proxies,
	}, clock, logger.Named("transport"))

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	idemStore, idemClose, err := buildIdempotencyStore(ctx, cfg)
	if err != nil {
		logger.Fatal("idempotency store init failed", zap.Error(err))
	}
	defer idemClose()

	events, eventsClose, err := buildEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("event publisher init failed", zap.Error(err))
	}
	defer eventsClose()

	publishers, err := publisher.Build(cfg.Publishers, coordinator)
	if err != nil {
		logger.Fatal("publisher registry init failed", zap.Error(err))
	}
	if len(publishers) == 0 {
		logger.Warn("no store publishers configured; tasks cannot be enqueued")
	}

	extractor := extract.New(coordinator, blobStore, hasher, clock, logger.Named("extract"))

	orch := orchestrator.New(
		orchestrator.NewPublishQueue(),
		orchestrator.NewScheduler(clock, cfg.SchedulerDefaults(), cfg.StoreConfigs()),
		orchestrator.NewGuardrails(orchestrator.GuardrailConfig{
			MinTitleLength:       cfg.Guardrails.MinTitleLength,
			MinDescriptionLength: cfg.Guardrails.MinDescriptionLength,
			MinConfidenceScore:   cfg.Guardrails.MinConfidenceScore,
		}),
		idemStore,
		publishers,
		events,
		cfg.PubSub.TopicName,
		clock,
		idGen,
		logger.Named("orchestrator"),
	)

	dispatch := dispatcher.New(orch, dispatcher.Config{
		Workers:      cfg.Workers.Count,
		PollInterval: time.Duration(cfg.Workers.PollIntervalMs) * time.Millisecond,
	}, logger.Named("dispatcher"))

	apiServer := api.NewServer(orch, extractor, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Workers.Count))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildBlobStore(ctx context.Context, cfg config.Config) (pipeline.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "memory":
		return storagemem.NewBlobStore(), nil
	case "local":
		return storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildIdempotencyStore(ctx context.Context, cfg config.Config) (pipeline.IdempotencyStore, func(), error) {
	switch cfg.Idempotency.Provider {
	case "memory":
		return idemmem.New(), func() {}, nil
	case "postgres":
		store, err := idempg.New(ctx, idempg.Config{
			DSN:      cfg.Idempotency.DB.DSN,
			Table:    cfg.Idempotency.DB.Table,
			MaxConns: cfg.Idempotency.DB.MaxConns,
			MinConns: cfg.Idempotency.DB.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown idempotency provider %q", cfg.Idempotency.Provider)
	}
}

func buildEventPublisher(ctx context.Context, cfg config.Config) (pipeline.Publisher, func(), error) {
	switch cfg.PubSub.Provider {
	case "memory":
		return eventsmem.New(), func() {}, nil
	case "pubsub":
		pub, err := eventspubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return pub, func() { _ = pub.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown pubsub provider %q", cfg.PubSub.Provider)
	}
}
