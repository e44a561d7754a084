package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/config/logger"
	postgresConfig "github.com/meshcompute/dispatch/config/storage/postgresql"
	redisConfig "github.com/meshcompute/dispatch/config/storage/redis"
	config "github.com/meshcompute/dispatch/config/utils"
	httpHandler "github.com/meshcompute/dispatch/internal/adapter/handler/http"
	"github.com/meshcompute/dispatch/internal/adapter/monitoring/prometheus"
	"github.com/meshcompute/dispatch/internal/adapter/queue/rabbitmq"
	postgresAdapter "github.com/meshcompute/dispatch/internal/adapter/storage/postgres"
	redisAdapter "github.com/meshcompute/dispatch/internal/adapter/storage/redis"
	"github.com/meshcompute/dispatch/internal/contentstore"
	"github.com/meshcompute/dispatch/internal/core/service"
)

// _shutdownPeriod is time to wait before gracefully shutting server
// _readinessDrainDelay is time to sleep while context shutdown message propagate
const (
	_shutdownPeriod      = 10 * time.Second
	_readinessDrainDelay = 3 * time.Second
)

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.ReplaceGlobals(baseLogger)
	log := baseLogger.Named("Dispatcher")

	log.Info("Starting the dispatcher",
		zap.String("app", appConfig.App.Name),
		zap.String("env", appConfig.App.Env))

	// Shared state store, the single source of truth across replicas.
	store, err := redisConfig.New(rootCtx, appConfig.Redis)
	if err != nil {
		log.Fatal("Failed to connect to the shared state store", zap.Error(err))
	}
	defer store.Close()
	log.Info("Connected to the shared state store", zap.String("address", appConfig.Redis.Addr))

	queueRepo := redisAdapter.NewJobQueue(store.Client, baseLogger)
	registryRepo := redisAdapter.NewNodeRegistry(store.Client, baseLogger)
	bus := redisAdapter.NewNotificationBus(store.Client, baseLogger)

	// Content block store. Falls back to process-local memory when no object
	// store endpoint is configured.
	var backend contentstore.Backend
	if appConfig.Minio != nil && appConfig.Minio.Endpoint != "" {
		minioBackend, err := contentstore.NewMinioBackend(rootCtx, contentstore.MinioConfig{
			Endpoint:  appConfig.Minio.Endpoint,
			AccessKey: appConfig.Minio.AccessKey,
			SecretKey: appConfig.Minio.SecretKey,
			Bucket:    appConfig.Minio.Bucket,
			UseSSL:    appConfig.Minio.UseSSL,
		})
		if err != nil {
			log.Fatal("Failed to init the block store", zap.Error(err))
		}
		backend = minioBackend
		log.Info("Connected to the block store", zap.String("endpoint", appConfig.Minio.Endpoint))
	} else {
		backend = contentstore.NewMemoryBackend()
		log.Warn("No block store endpoint configured, content blocks are process-local")
	}
	blocks := contentstore.New(backend, baseLogger)

	// Core services
	dispatch := service.NewDispatchService(queueRepo, registryRepo, blocks, bus,
		appConfig.Dispatch.ArchiveRetention, baseLogger)
	registry := service.NewRegistryService(registryRepo, blocks, bus,
		appConfig.Dispatch.HeartbeatTTL, appConfig.Dispatch.HeartbeatInterval, baseLogger).
		WithOfferSource(dispatch)
	coordinator := service.NewCoordinatorService(registryRepo, queueRepo, bus, store,
		appConfig.Dispatch.SweepInterval, appConfig.Dispatch.StalenessThreshold,
		appConfig.Dispatch.ArchiveRetention, baseLogger)

	// Optional relational archive mirror
	if appConfig.DB != nil && appConfig.DB.Host != "" {
		dbService, err := postgresConfig.New(rootCtx, appConfig.DB, baseLogger.Named("DB"))
		if err != nil {
			log.Fatal("Failed to connect to the archive database", zap.Error(err))
		}
		defer dbService.Close()

		if err := dbService.Migrate(); err != nil {
			log.Fatal("Failed to migrate the archive database", zap.Error(err))
		}
		log.Info("Archive database ready", zap.String("host", appConfig.DB.Host))

		archive := postgresAdapter.NewArchiveRepository(dbService.Pool, baseLogger)
		dispatch.WithArchive(archive)
		coordinator.WithArchive(archive)
	} else {
		log.Warn("No archive database configured, completed jobs live in the state store only")
	}

	// Optional durable settlement hand-off
	if appConfig.Amqp != nil && appConfig.Amqp.Host != "" {
		amqpURL := fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
			appConfig.Amqp.User, appConfig.Amqp.Password,
			appConfig.Amqp.Host, appConfig.Amqp.Port, appConfig.Amqp.VHost)
		relay, err := rabbitmq.NewSettlementRelay(amqpURL, appConfig.Amqp.Exchange, baseLogger)
		if err != nil {
			log.Fatal("Failed to connect to the settlement relay", zap.Error(err))
		}
		defer relay.Close()
		log.Info("Settlement relay ready", zap.String("host", appConfig.Amqp.Host))

		dispatch.WithSettlementRelay(relay)
	}

	// Optional utilization enrichment for stats
	if appConfig.Prometheus != nil && appConfig.Prometheus.URL != "" {
		coordinator.WithMonitoring(prometheus.NewMonitoringService(appConfig.Prometheus.URL, baseLogger))
	}

	// Liveness sweep loop
	go coordinator.Start(rootCtx)

	// HTTP gateway
	router := httpHandler.NewRouter(&httpHandler.Dependencies{
		Dispatch:    dispatch,
		Registry:    registry,
		Coordinator: coordinator,
		Bus:         bus,
		Log:         baseLogger,
	})
	server := &http.Server{
		Addr:    appConfig.HTTP.Addr,
		Handler: router,
	}

	go func() {
		log.Info("Gateway listening", zap.String("addr", appConfig.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Gateway stopped unexpectedly", zap.Error(err))
			rootCtxCancel()
		}
	}()

	// Wait for ctx cancelation
	<-rootCtx.Done()

	// Wait for signal propagation
	time.Sleep(_readinessDrainDelay)
	log.Info("Readiness check propagated, now waiting for ongoing requests to finish")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Graceful shutdown complete.")
}
