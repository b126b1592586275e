// Package main is the entry point for the lobby broker: the durable
// work-queue worker surface, the package-index engine, and the room
// generation/validation orchestrators wired onto one HTTP server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/archipelago-lobby/lobby/cmd/server/handlers"
	"github.com/archipelago-lobby/lobby/internal/config"
	"github.com/archipelago-lobby/lobby/internal/core/blobcache"
	"github.com/archipelago-lobby/lobby/internal/core/catalogsync"
	"github.com/archipelago-lobby/lobby/internal/core/dispatcher"
	"github.com/archipelago-lobby/lobby/internal/core/generation"
	"github.com/archipelago-lobby/lobby/internal/core/logstream"
	"github.com/archipelago-lobby/lobby/internal/core/manifest"
	"github.com/archipelago-lobby/lobby/internal/core/queue"
	"github.com/archipelago-lobby/lobby/internal/core/validation"
	"github.com/archipelago-lobby/lobby/internal/database"
	"github.com/archipelago-lobby/lobby/internal/database/postgres"
	"github.com/archipelago-lobby/lobby/internal/infrastructure/lock"
	"github.com/archipelago-lobby/lobby/internal/realtime"
	loggerpkg "github.com/archipelago-lobby/lobby/pkg/logger"
)

// Exit codes from spec §6: 0 normal, 2 fatal configuration error, 3 fatal
// index sync initialization failure, anything else non-zero.
const (
	exitOK            = 0
	exitConfigError   = 2
	exitIndexSyncFail = 3
	exitGeneric       = 1

	serviceVersion = "1.0.0"
)

func main() {
	var configPath = flag.String("config", "", "Path to YAML config file")
	var showVersion = flag.Bool("version", false, "Show version information")
	var showHelp = flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lobby version %s\n", serviceVersion)
		os.Exit(exitOK)
	}

	if *showHelp {
		fmt.Printf("lobby - multi-tenant Archipelago room broker\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config     Path to YAML config file\n")
		fmt.Printf("  -version    Show version information\n")
		fmt.Printf("  -help       Show this help message\n\n")
		fmt.Printf("Every setting is also overridable by environment variable, e.g. QUEUE_GENERATION_TOKEN.\n")
		os.Exit(exitOK)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(exitConfigError)
	}

	logger := loggerpkg.NewLogger(loggerpkg.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(logger)
	logger.Info("starting lobby broker", "version", serviceVersion, "environment", cfg.App.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(exitGeneric)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(exitGeneric)
	}
	defer redisClient.Close()

	if err := os.MkdirAll(cfg.Index.BlobCacheDir, 0o755); err != nil {
		logger.Error("failed to create blob cache directory", "error", err)
		os.Exit(exitGeneric)
	}

	syncer := catalogsync.New(cfg.Index.Dir, cfg.Index.RepoURL, cfg.Index.RepoBranch, cfg.Index.SyncInterval, logger, func(err error) {
		logger.Warn("catalog sync failed, retaining last good snapshot", "error", err)
	})
	if err := syncer.Start(ctx); err != nil {
		logger.Error("index sync initialization failed", "error", err)
		os.Exit(exitIndexSyncFail)
	}

	blobCache := blobcache.New(cfg.Index.BlobCacheDir, catalogsync.NewSnapshotResolver(syncer), nil, logger)
	manifests := manifest.NewStore(db)

	tokens := queue.TokenSet{
		dispatcher.QueueValidate: cfg.Queue.ValidationToken,
		dispatcher.QueueGenerate: cfg.Queue.GenerationToken,
	}
	q := queue.New(db, tokens, logger, nil)
	policy := queue.DefaultPolicy()
	policy.MaxAttempts = cfg.Queue.MaxAttempts
	q.SetPolicy(dispatcher.QueueValidate, policy)
	q.SetPolicy(dispatcher.QueueGenerate, policy)
	dispatch := dispatcher.New(q, json.Marshal)

	lockManager := lock.NewLockManager(redisClient, &lock.LockConfig{
		TTL:            cfg.Lock.TTL,
		MaxRetries:     cfg.Lock.MaxRetries,
		RetryInterval:  cfg.Lock.RetryInterval,
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		ReleaseTimeout: cfg.Lock.ReleaseTimeout,
		ValuePrefix:    cfg.Lock.ValuePrefix,
	}, logger)

	eventBus := realtime.NewEventBus(logger, nil)
	if err := eventBus.Start(ctx); err != nil {
		logger.Error("failed to start event bus", "error", err)
		os.Exit(exitGeneric)
	}

	if err := os.MkdirAll(cfg.Generation.OutputDir, 0o755); err != nil {
		logger.Error("failed to create generation output directory", "error", err)
		os.Exit(exitGeneric)
	}
	generationOrch := generation.New(db, manifests, blobCache, dispatch, lockManager, eventBus, cfg.Generation.OutputDir, logger)
	validationOrch := validation.New(db, dispatch, decodeValidationOutcome, logger)

	streams := logstream.NewRegistry(logger)

	hub := handlers.NewGenerationStatusHub(eventBus, logger)
	go hub.Run(ctx)

	logStreamHandler := handlers.NewLogStreamHandler(streams, generationOrch, logger)
	queueHandler := handlers.NewQueueHandler(q, tokens, streams, db, completionHook(generationOrch, validationOrch, logger), logger)

	go runExpireSweep(ctx, q, cfg.Queue.ExpireSweepEvery, logger)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", handlers.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/room/{id}/generation/status", hub.ServeRoomStatus).Methods(http.MethodGet)
	router.HandleFunc("/room/{id}/generation/logs/stream", logStreamHandler.ServeJobLog).Methods(http.MethodGet)
	queueHandler.Register(router)

	var handler http.Handler = router
	handler = loggerpkg.LoggingMiddleware(logger)(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(exitGeneric)
		}
	}()

	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(exitGeneric)
	}
	logger.Info("server exited")
}

// connectDatabase opens the pool and applies migrations, tolerating a
// migration failure the way the teacher's entrypoint does (manual
// intervention may be required, but the pool is usable).
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (postgres.DatabaseConnection, error) {
	dbConfig := postgres.DefaultConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.Database = cfg.Database.Database
	dbConfig.User = cfg.Database.Username
	dbConfig.Password = cfg.Database.Password
	dbConfig.SSLMode = cfg.Database.SSLMode
	dbConfig.MaxConns = int32(cfg.Database.MaxConnections)
	dbConfig.MinConns = int32(cfg.Database.MinConnections)
	dbConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	dbConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	dbConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	pool := postgres.NewPostgresPool(dbConfig, logger)
	if err := pool.Connect(ctx); err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")

	if err := database.RunMigrations(ctx, pool, logger); err != nil {
		logger.Warn("migrations failed, continuing without them", "error", err)
	} else {
		logger.Info("migrations applied")
	}
	return pool, nil
}

// completionHook routes a terminal job to the orchestrator that owns its
// queue: generate jobs resolve to the generation orchestrator, validate
// jobs to the validation orchestrator. Each payload carries its own room
// (and, for validate, slot) id, so no extra lookup is needed.
func completionHook(gen *generation.Orchestrator, val *validation.Orchestrator, logger *slog.Logger) handlers.QueueCompletionHook {
	return func(ctx context.Context, queueName queue.QueueName, job *queue.Job) {
		switch queueName {
		case dispatcher.QueueGenerate:
			var payload dispatcher.GeneratePayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				logger.Error("decode generate payload failed", "job_id", job.ID, "error", err)
				return
			}
			if err := gen.Complete(ctx, payload.RoomID, job, nil); err != nil {
				logger.Error("generation completion failed", "job_id", job.ID, "room_id", payload.RoomID, "error", err)
			}
		case dispatcher.QueueValidate:
			var payload dispatcher.ValidatePayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				logger.Error("decode validate payload failed", "job_id", job.ID, "error", err)
				return
			}
			if err := val.Complete(ctx, payload.RoomID, payload.SlotID, job); err != nil {
				logger.Error("validation completion failed", "job_id", job.ID, "room_id", payload.RoomID, "slot_id", payload.SlotID, "error", err)
			}
		default:
			logger.Warn("completion for unknown queue", "queue", queueName, "job_id", job.ID)
		}
	}
}

func decodeValidationOutcome(data []byte) (validation.Outcome, error) {
	var wire struct {
		Reason string   `json:"reason"`
		Error  string   `json:"error"`
		Worlds []string `json:"worlds"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return validation.Outcome{}, err
	}
	return validation.Outcome{Reason: validation.Reason(wire.Reason), Error: wire.Error, Worlds: wire.Worlds}, nil
}

func runExpireSweep(ctx context.Context, q *queue.Queue, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.ExpireSweep(ctx); err != nil {
				logger.Error("expire sweep failed", "error", err)
			}
		}
	}
}
