package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"ingestd/internal/config"
	"ingestd/internal/database"
	"ingestd/internal/ingest"
	"ingestd/internal/mapper"
	"ingestd/internal/parser"
	"ingestd/internal/queue"
	"ingestd/internal/staging"
	"ingestd/internal/storage"
	"ingestd/internal/upload"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(ctx, cfg.DatabaseUrl, database.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✓ Connected to Postgres")

	storageClient, err := storage.NewStorage(ctx, &storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Println("✓ Connected to MinIO")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Connected to Redis")

	ingestQueue := queue.New(redisClient, cfg.QueueName)
	job := ingest.NewJob(
		upload.NewPostgresRepository(db.Pool),
		staging.NewPostgresRepository(db.Pool),
		storageClient,
		mapper.Defaults(),
		parser.NewRegistry(),
		ingestQueue,
	)

	pool := queue.NewWorkerPool(redisClient, ingestQueue, queue.WithConcurrency(cfg.WorkerConcurrency))
	pool.Register(ingest.JobType, job)

	if err := pool.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker pool stopped with error: %v", err)
	}

	log.Println("👋 Worker shut down gracefully")
}
