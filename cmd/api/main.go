package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"ingestd/internal/config"
	"ingestd/internal/database"
	"ingestd/internal/ingest"
	"ingestd/internal/mapper"
	"ingestd/internal/queue"
	"ingestd/internal/server"
	"ingestd/internal/storage"
	"ingestd/internal/upload"
)

func main() {
	ctx := context.Background()

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
	enqueuer := ingest.NewEnqueuer(ingestQueue, queue.Options{
		MaxAttempts:   cfg.IngestMaxAttempts,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
		Delay:         cfg.IngestStartDelay,
		KeepFailedFor: cfg.KeepFailedFor,
	})

	uploadRepo := upload.NewPostgresRepository(db.Pool)
	uploadService := upload.NewService(uploadRepo, storageClient, enqueuer, mapper.Defaults())
	uploadHandler := upload.NewHandler(uploadService)
	monitoring := server.NewMonitoringHandler(redisClient, db)

	g := server.NewServer(uploadHandler, monitoring)

	log.Printf("🚀 Ingestion API starting on %s", cfg.ServerAddr)
	if err := g.Run(cfg.ServerAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
