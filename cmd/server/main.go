package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/areaindex/internal/cache"
	"github.com/stwalsh4118/areaindex/internal/config"
	"github.com/stwalsh4118/areaindex/internal/database"
	"github.com/stwalsh4118/areaindex/internal/handlers"
	"github.com/stwalsh4118/areaindex/internal/index"
	"github.com/stwalsh4118/areaindex/internal/logger"
	"github.com/stwalsh4118/areaindex/internal/metrics"
	"github.com/stwalsh4118/areaindex/internal/middleware"
	"github.com/stwalsh4118/areaindex/internal/models"
	"github.com/stwalsh4118/areaindex/internal/query"
	"github.com/stwalsh4118/areaindex/internal/repository"
	"github.com/stwalsh4118/areaindex/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(logger.Options{Env: cfg.Server.Env, Level: cfg.Server.LogLevel})
	log.Info("Starting area index API", map[string]interface{}{
		"version":      handlers.APIVersion,
		"environment":  cfg.Server.Env,
		"port":         cfg.Server.Port,
		"exact_tester": cfg.Query.ExactTester,
	})

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, log); err != nil {
			log.Fatal("Failed to apply migrations", err, nil)
		}
	} else if err := database.CheckSchema(ctx, db.Pool); err != nil {
		log.Fatal("Database schema is not ready", err, nil)
	}

	// The redis cache is optional; every index lookup falls back to postgres.
	var (
		indexCache cache.IndexCache
		cachePing  handlers.Pinger
	)
	if client := cache.OpenRedis(cfg.Redis); client != nil {
		defer client.Close()
		indexCache = cache.NewRedisIndexCache(client, cfg.Redis.TTL, log)
		cachePing = handlers.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		log.Info("Index cache enabled", map[string]interface{}{
			"addr": cfg.Redis.Addr,
			"ttl":  cfg.Redis.TTL.String(),
		})
	}

	areaRepo := repository.NewAreaRepository(db)
	indexRepo := repository.NewIndexRepository(db)
	registry := index.NewRegistry()

	var testers services.ExactTesters
	switch cfg.Query.ExactTester {
	case config.ExactTesterPostGIS:
		testers = services.TesterFunc(func(a *models.Area) query.ExactTester {
			return repository.NewPostGISTester(db, a.ID, a.SRID)
		})
	default:
		testers = services.NewPlanarTesters(areaRepo)
	}

	areaService := services.NewAreaService(services.Deps{
		Areas:    areaRepo,
		Indexes:  indexRepo,
		Cache:    indexCache,
		Registry: registry,
		Engine: query.NewEngine(query.Options{
			ChunkSize: cfg.Query.ChunkSize,
			Workers:   cfg.Query.Workers,
		}, log),
		Testers: testers,
	}, services.Options{
		CellSize:     cfg.Index.CellSize,
		MaxCells:     cfg.Index.MaxCells,
		BuildWorkers: cfg.Index.BuildWorkers,
		CheckSimple:  cfg.Index.CheckSimple,
		AutoBuild:    cfg.Index.AutoBuild,
		MaxPoints:    cfg.Query.MaxPoints,
	}, log)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Order matters: RequestID -> Logger -> Recovery -> Metrics -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(cfg.CORS.Origins))

	healthHandler := handlers.NewHealthHandler(db, cachePing, registry, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/info", healthHandler.Info)
	handlers.NewAreaHandler(areaService).RegisterRoutes(v1)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", map[string]interface{}{
		"loaded_indexes": registry.Len(),
	})
}
