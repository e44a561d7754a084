package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/config/logger"
	postgresConfig "github.com/meshcompute/dispatch/config/storage/postgresql"
	redisConfig "github.com/meshcompute/dispatch/config/storage/redis"
	config "github.com/meshcompute/dispatch/config/utils"
	"github.com/meshcompute/dispatch/internal/adapter/monitoring/prometheus"
	"github.com/meshcompute/dispatch/internal/adapter/queue/rabbitmq"
	postgresAdapter "github.com/meshcompute/dispatch/internal/adapter/storage/postgres"
	redisAdapter "github.com/meshcompute/dispatch/internal/adapter/storage/redis"
	"github.com/meshcompute/dispatch/internal/contentstore"
	"github.com/meshcompute/dispatch/internal/core/domain"
)

// Smoke-tests every adapter against live backends. Meant for compose
// environments, not CI.
func main() {
	// 1. Setup Logger & Config
	appConfig := config.New()
	log := logger.Build(appConfig.Logger)
	ctx := context.Background()

	log.Info("Starting Verification...")

	// 2. Test Redis
	log.Info("--- Testing Redis ---")
	store, err := redisConfig.New(ctx, appConfig.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	registry := redisAdapter.NewNodeRegistry(store.Client, log)
	queue := redisAdapter.NewJobQueue(store.Client, log)

	node := &domain.Node{
		ID:            fmt.Sprintf("verify-node-%d", time.Now().Unix()),
		WalletAddress: "0xverify",
		Capacity:      2,
		Status:        domain.NodeStatusOnline,
		LastHeartbeat: domain.NowMillis(),
	}
	if err := registry.Put(ctx, node, 30*time.Second); err != nil {
		log.Error("X Redis: Register Node Failed", zap.Error(err))
	} else {
		log.Info("✓ Redis: Register Node Success")
	}

	available, err := registry.Available(ctx)
	if err != nil {
		log.Error("X Redis: Available Nodes Failed", zap.Error(err))
	} else {
		log.Info("✓ Redis: Available Nodes Success", zap.Int("Count", len(available)))
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Submitter: "0xverify",
		InputRef:  "verify-input",
		FeeAmount: "1.0",
		Status:    domain.JobStatusPending,
		CreatedAt: domain.NowMillis(),
	}
	if err := queue.Enqueue(ctx, job); err != nil {
		log.Error("X Redis: Enqueue Failed", zap.Error(err))
	} else {
		log.Info("✓ Redis: Enqueue Success")
	}

	if popped, err := queue.PopLowest(ctx); err != nil {
		log.Error("X Redis: Claim Pop Failed", zap.Error(err))
	} else {
		log.Info("✓ Redis: Claim Pop Success", zap.String("JobID", popped))
	}

	// 3. Test Postgres
	log.Info("--- Testing Postgres ---")
	dbService, err := postgresConfig.New(ctx, appConfig.DB, log)
	if err != nil {
		log.Fatal("Failed to connect to DB", zap.Error(err))
	}
	if err := dbService.Migrate(); err != nil {
		log.Fatal("Failed to migrate DB", zap.Error(err))
	}
	archive := postgresAdapter.NewArchiveRepository(dbService.Pool, log)

	job.Status = domain.JobStatusCompleted
	job.CompletedAt = domain.NowMillis()
	if err := archive.InsertCompleted(ctx, job); err != nil {
		log.Error("X Postgres: Insert Completed Failed", zap.Error(err))
	} else {
		log.Info("✓ Postgres: Insert Completed Success")
	}

	if err := archive.InsertPayment(ctx, node.ID, domain.PendingPayment{JobID: job.ID, Amount: job.FeeAmount}); err != nil {
		log.Error("X Postgres: Insert Payment Failed", zap.Error(err))
	} else {
		log.Info("✓ Postgres: Insert Payment Success")
	}

	// 4. Test RabbitMQ
	log.Info("--- Testing RabbitMQ ---")
	user := os.Getenv("MQ_USER")
	if user == "" {
		user = "guest"
	}
	pass := os.Getenv("MQ_PASS")
	if pass == "" {
		pass = "guest"
	}
	amqpURL := fmt.Sprintf("amqp://%s:%s@localhost:5672/", user, pass)

	relay, err := rabbitmq.NewSettlementRelay(amqpURL, "", log)
	if err != nil {
		log.Error("X RabbitMQ: Connection Failed", zap.Error(err))
	} else {
		if err := relay.PublishPaymentPending(ctx, node.ID, domain.PendingPayment{JobID: job.ID, Amount: job.FeeAmount}); err != nil {
			log.Error("X RabbitMQ: Publish Failed", zap.Error(err))
		} else {
			log.Info("✓ RabbitMQ: Publish Success")
		}
		relay.Close()
	}

	// 5. Test MinIO block store
	log.Info("--- Testing Block Store ---")
	if appConfig.Minio != nil && appConfig.Minio.Endpoint != "" {
		backend, err := contentstore.NewMinioBackend(ctx, contentstore.MinioConfig{
			Endpoint:  appConfig.Minio.Endpoint,
			AccessKey: appConfig.Minio.AccessKey,
			SecretKey: appConfig.Minio.SecretKey,
			Bucket:    appConfig.Minio.Bucket,
			UseSSL:    appConfig.Minio.UseSSL,
		})
		if err != nil {
			log.Error("X MinIO: Connection Failed", zap.Error(err))
		} else {
			blocks := contentstore.New(backend, log)
			probe := map[string]any{"probe": time.Now().Unix()}
			id, err := blocks.Put(ctx, probe)
			if err != nil {
				log.Error("X MinIO: Put Block Failed", zap.Error(err))
			} else if !blocks.Verify(ctx, id, probe) {
				log.Error("X MinIO: Verify Block Failed", zap.String("ID", id))
			} else {
				log.Info("✓ MinIO: Put and Verify Success", zap.String("ID", id))
			}
		}
	} else {
		log.Warn("! MinIO: Skipped (no endpoint configured)")
	}

	// 6. Test Prometheus
	log.Info("--- Testing Prometheus ---")
	promURL := "http://localhost:9090"
	if appConfig.Prometheus != nil && appConfig.Prometheus.URL != "" {
		promURL = appConfig.Prometheus.URL
	}
	promClient := prometheus.NewMonitoringService(promURL, log)
	cpu, mem, err := promClient.ClusterUtilization(ctx)
	if err != nil {
		log.Warn("! Prometheus: Query Failed (Expected if bad connection or no data)", zap.Error(err))
	} else {
		log.Info("✓ Prometheus: Query Success", zap.Float64("CPU", cpu), zap.Float64("Mem", mem))
	}

	log.Info("Verification Complete.")
}
