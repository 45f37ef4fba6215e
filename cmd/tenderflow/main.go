package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/tenderflow/internal/application/orchestrator"
	"github.com/aescanero/tenderflow/internal/application/workers"
	"github.com/aescanero/tenderflow/internal/config"
	"github.com/aescanero/tenderflow/internal/graph"
	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/internal/pipeline"
	"github.com/aescanero/tenderflow/pkg/adapters/events/memory"
	"github.com/aescanero/tenderflow/pkg/adapters/events/redis"
	"github.com/aescanero/tenderflow/pkg/adapters/llm"
	"github.com/aescanero/tenderflow/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/tenderflow/pkg/adapters/parser"
	storagememory "github.com/aescanero/tenderflow/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/tenderflow/pkg/adapters/storage/redis"
	"github.com/aescanero/tenderflow/pkg/adapters/websearch"
	"github.com/aescanero/tenderflow/pkg/api/grpc"
	"github.com/aescanero/tenderflow/pkg/api/http"
	"github.com/aescanero/tenderflow/pkg/api/websocket"
	"github.com/aescanero/tenderflow/pkg/ports"
	"github.com/aescanero/tenderflow/pkg/report"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting tenderflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage_backend", cfg.Storage.Backend))

	ctx := context.Background()
	metricsCollector := prometheus.NewCollector(nil)

	// Storage and events
	var (
		redisClient *goredis.Client
		eventBus    ports.EventBus
		storage     ports.ResultStorage
	)
	switch cfg.Storage.Backend {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		// No consumer group: every stream subscriber sees every event
		bus, err := redis.NewStreamsEventBus(redisClient, "", "", cfg.Storage.EventsMaxLen, logger)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = bus

		codec, err := redisstorage.CodecByName(cfg.Storage.Codec)
		if err != nil {
			logger.Fatal("failed to create storage codec", zap.Error(err))
		}
		storage = redisstorage.NewResultStorage(redisClient, codec, cfg.Storage.TTL, logger)
	default:
		eventBus = memory.NewInMemoryEventBus(logger)
		storage = storagememory.NewInMemoryStorage()
	}

	// Collaborators
	llmClient, err := llm.NewClient(&llm.Config{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.DefaultModel,
		MaxConcurrent:  cfg.LLM.MaxConcurrentRequests,
		RequestTimeout: cfg.LLM.RequestTimeout,
		MaxRetries:     cfg.LLM.MaxRetries,
		Metrics:        metricsCollector,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}

	docParser := parser.New(parser.Config{Logger: logger})

	webClient := websearch.NewClient(websearch.Config{
		Endpoint: cfg.WebSearch.Endpoint,
		APIKey:   cfg.WebSearch.APIKey,
		Timeout:  cfg.WebSearch.Timeout,
		Metrics:  metricsCollector,
		Logger:   logger,
	})
	var searcher ports.WebSearcher
	if webClient.Enabled() {
		searcher = webClient
	} else {
		logger.Warn("web search endpoint not configured, material generation uses the knowledge base only")
	}

	registry := knowledge.NewRegistry(cfg.Knowledge.Root, docParser, logger)

	prompts, err := pipeline.LoadPrompts(cfg.Pipeline.ConfigDir)
	if err != nil {
		logger.Fatal("failed to load prompts", zap.Error(err))
	}

	pl, err := pipeline.New(pipeline.Config{
		Generator: llmClient,
		Parser:    docParser,
		Searcher:  searcher,
		Knowledge: registry,
		Prompts:   prompts,
		Metrics:   metricsCollector,
		TopK:      cfg.Knowledge.TopK,
		WebCount:  cfg.WebSearch.Count,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}

	executor := graph.NewExecutor(logger,
		graph.WithMaxParallel(cfg.Pipeline.MaxParallel),
		graph.WithStageTimeout(cfg.Timeouts.StageTimeout))

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	orchestratorMgr := orchestrator.NewManager(
		pl,
		executor,
		workerPool,
		eventBus,
		storage,
		metricsCollector,
		orchestrator.NewValidator(parser.Supported),
		logger,
		cfg.Timeouts.InvocationTimeout,
	)
	knowledgeSvc := orchestrator.NewKnowledgeService(registry, eventBus, metricsCollector, logger)

	if cfg.Knowledge.ScanOnStart {
		if _, err := knowledgeSvc.Scan(ctx, ""); err != nil {
			logger.Warn("initial knowledge base scan failed", zap.Error(err))
		}
	}

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Knowledge:    knowledgeSvc,
		Health:       workerPool.Health(),
		Renderer:     report.NewMarkdown(),
		Logger:       logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, orchestratorMgr, orchestrator.EventsTopic, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Health:        workerPool.Health(),
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("tenderflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.String("knowledge_root", registry.DefaultRoot()))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then cancel live invocations and let the workers
	// record their outcome
	var errs error
	errs = multierr.Append(errs, httpServer.Shutdown(shutdownCtx))
	errs = multierr.Append(errs, grpcServer.Shutdown(shutdownCtx))
	errs = multierr.Append(errs, orchestratorMgr.Shutdown(shutdownCtx))
	errs = multierr.Append(errs, workerPool.Shutdown(shutdownCtx))
	errs = multierr.Append(errs, eventBus.Close())
	errs = multierr.Append(errs, docParser.Close())
	errs = multierr.Append(errs, webClient.Close())
	if redisClient != nil {
		errs = multierr.Append(errs, redisClient.Close())
	}

	for _, err := range multierr.Errors(errs) {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("tenderflow shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
