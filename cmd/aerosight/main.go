package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/aerosight/internal/api"
	"github.com/nidhogg/aerosight/internal/config"
	"github.com/nidhogg/aerosight/internal/detect"
	"github.com/nidhogg/aerosight/internal/embedding"
	"github.com/nidhogg/aerosight/internal/memory"
	"github.com/nidhogg/aerosight/internal/mission"
	"github.com/nidhogg/aerosight/internal/platform"
	"github.com/nidhogg/aerosight/internal/reasoning"
	pgstore "github.com/nidhogg/aerosight/internal/store"
	"github.com/nidhogg/aerosight/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting AeroSight...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/aerosight.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Reasoning backends
	router := reasoning.NewRouter(logger)
	for _, rc := range cfg.Reasoning {
		svcCfg := reasoning.ServiceConfig{
			ID: rc.ID, Type: rc.Type, Name: rc.Name,
			Endpoint: rc.Endpoint, APIKey: rc.APIKey, Model: rc.Model,
		}
		switch rc.Type {
		case "openai":
			router.Register(reasoning.NewRemote(svcCfg, logger))
		case "anthropic":
			router.Register(reasoning.NewClaude(svcCfg, logger))
		default:
			logger.Warn("unknown reasoning type", zap.String("id", rc.ID), zap.String("type", rc.Type))
		}
	}

	// Embedding provider for the search-map memory
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("embedding provider init failed", zap.Error(err))
	}

	// Vector index: qdrant when configured, in-process otherwise
	var index memory.Index
	var qdrantClient *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("qdrant unavailable, using in-process index", zap.Error(qErr))
			index = memory.NewInMemoryIndex()
		} else {
			qdrantClient = qc
			index = vectorstore.NewIndexAdapter(qc)
			logger.Info("qdrant connected",
				zap.String("host", cfg.Database.Qdrant.Host),
				zap.Int("port", cfg.Database.Qdrant.Port))
		}
	} else {
		index = memory.NewInMemoryIndex()
		logger.Info("no qdrant configured, search map is in-process only")
	}
	memStore := memory.NewStore(embedder, index, logger)

	// Mission persistence
	var recorder mission.Recorder
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			dir := cfg.Database.Postgres.MigrationsDir
			if dir == "" {
				dir = "migrations"
			}
			if mErr := ps.Migrate(context.Background(), dir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			recorder = ps
		}
	}

	detector := detect.NewClient(detect.Config{Endpoint: cfg.Detection.Endpoint}, logger)

	platformCfg := platform.Config{
		Endpoints:       cfg.Platform.Endpoints,
		Vehicle:         cfg.Platform.Vehicle,
		MaxAttempts:     cfg.Platform.MaxAttempts,
		InitialInterval: cfg.Platform.InitialDelay(),
		MaxInterval:     cfg.Platform.MaxDelay(),
		RequestTimeout:  cfg.Platform.RequestTimeout(),
	}

	manager := mission.NewManager(platformCfg, router, memStore, detector, recorder, logger)
	manager.SetDefaults(mission.Config{
		StepLimit:          cfg.Mission.StepLimit,
		ExecutorSteps:      cfg.Mission.ExecutorSteps,
		Model:              cfg.Mission.Model,
		PriorKnowledgePath: cfg.Mission.PriorKnowledgePath,
	})

	handler := api.NewHandler(manager, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("AeroSight listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down AeroSight...")
	manager.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	if pgStore != nil {
		pgStore.Close()
	}
	if qdrantClient != nil {
		if err := qdrantClient.Close(); err != nil {
			logger.Warn("qdrant close failed", zap.Error(err))
		}
	}
}
