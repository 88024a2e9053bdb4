package main

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"tradiehub/internal/chat"
	"tradiehub/internal/config"
	"tradiehub/internal/db"
	"tradiehub/internal/jobs"
	"tradiehub/internal/keylock"
	"tradiehub/internal/notify"
	"tradiehub/internal/realtime"
	"tradiehub/internal/storage"
	"tradiehub/internal/tasks"
	"tradiehub/internal/user"
)

// app holds every wired component. In memory mode redis, database and
// asynqClient are nil.
type app struct {
	cfg         *config.Config
	redis       *redis.Client
	database    *db.Database
	asynqClient *asynq.Client

	registry    *chat.Registry
	coordinator *chat.Coordinator
	chatService *chat.Service
	hub         *chat.Hub
	workflow    *jobs.Workflow
	tokens      *user.TokenService
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, tokens: user.NewTokenService(cfg.JwtSecret)}

	var (
		store    realtime.Store
		mirror   chat.Mirror
		jobsRepo jobs.Repository
		blobs    storage.BlobStore
	)

	if cfg.Memory {
		log.Println("⚠️  Running in memory mode: nothing is persisted")
		store = realtime.NewMemoryStore()
		mirror = chat.NewMemoryMirror()
		jobsRepo = jobs.NewMemoryRepository()
		blobs = storage.NewMemoryStorage()
	} else {
		database, err := db.NewDatabase(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to DB: %w", err)
		}
		a.database = database
		log.Println("✅ Connected to PostgreSQL")

		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if _, err := a.redis.Ping(ctx).Result(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		log.Println("✅ Connected to Redis")

		store = realtime.NewRedisStore(a.redis)
		mirror = chat.NewRepository(database.Conn)
		jobsRepo = jobs.NewRepository(database.Conn)

		if cfg.AwsS3Bucket != "" {
			blobs, err = storage.NewS3Storage(ctx, cfg)
			if err != nil {
				a.Close()
				return nil, err
			}
			log.Println("✅ S3 blob store ready")
		} else {
			log.Println("⚠️  AWS_S3_BUCKET not set: job photos are kept in memory")
			blobs = storage.NewMemoryStorage()
		}

		a.asynqClient = asynq.NewClient(tasks.RedisOpt(a.redis))
	}

	locks := keylock.New()
	a.registry = chat.NewRegistry(store, chat.RegistryOptions{
		Timeout:            cfg.RealtimeTimeout,
		LegacyScanPageSize: cfg.LegacyScanPageSize,
		LegacyScanMaxPages: cfg.LegacyScanMaxPages,
	})
	a.coordinator = chat.NewCoordinator(store, a.registry, mirror, locks, chat.CoordinatorOptions{
		RealtimeTimeout: cfg.RealtimeTimeout,
		MirrorTimeout:   cfg.MirrorTimeout,
		PageSize:        cfg.ReconcilePageSize,
	})
	if a.asynqClient != nil {
		a.coordinator.SetReconcileQueue(tasks.NewQueue(a.asynqClient))
	}

	a.hub = chat.NewHub(a.redis)
	a.coordinator.SetPublisher(a.hub)

	a.chatService = chat.NewService(a.registry, a.coordinator, mirror, cfg.MirrorTimeout)
	dispatcher := notify.NewDispatcher(a.registry, a.coordinator)
	a.workflow = jobs.NewWorkflow(jobsRepo, dispatcher, blobs, locks, cfg.NotifyConcurrency)
	return a, nil
}

func (a *app) Close() {
	if a.asynqClient != nil {
		a.asynqClient.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.database != nil {
		a.database.Close()
	}
}
