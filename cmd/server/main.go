// Package main is the entry point for the trackviz server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trackviz/server/internal/api"
	"github.com/trackviz/server/internal/cache"
	"github.com/trackviz/server/internal/config"
	"github.com/trackviz/server/internal/imagestack"
	"github.com/trackviz/server/internal/ingest"
	"github.com/trackviz/server/internal/render"
	"github.com/trackviz/server/internal/service"
	"github.com/trackviz/server/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting trackviz server on port %d", cfg.Server.Port)

	// Image fetches run until shutdown.
	ctx, stopFetches := context.WithCancel(context.Background())
	defer stopFetches()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: cfg.Cache.FrameSizeMB,
		FrameTTL:         time.Duration(cfg.Cache.FrameTTLMinutes) * time.Minute,
		QueryCacheSize:   cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize renderer (shared across all datasets)
	renderer := render.NewRenderer(render.Config{
		TileSize:        cfg.Render.TileSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Snapshots and depth jobs (SQLite persistence)
	st, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	deps := service.Deps{
		Cache:    cacheManager,
		Renderer: renderer,
		Store:    st,
		Images: imagestack.Config{
			MaxBlobCount:  cfg.Images.MaxBlobCount,
			MaxLabelCount: cfg.Images.MaxLabelCount,
			Attempts:      cfg.Images.FetchAttempts,
			Backoff:       cfg.Images.Backoff(),
			FetchTimeout:  cfg.Images.FetchTimeout(),
		},
		Client: &http.Client{},
	}

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, cfg.Server.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]
		svc, err := service.Open(ctx, datasetID, service.Source{
			CSVPath:   ds.CSVPath,
			SpecPath:  ds.SpecPath,
			ImagesURL: ds.ImagesURL,
			DriveID:   ds.DriveID,
			ImagesDir: ds.ImagesDir,
			Ingest: ingest.Options{
				IDKey:      ds.IDKey,
				TimeKeys:   ds.TimeKeys,
				MassKey:    ds.MassKey,
				SourceKey:  ds.SourceKey,
				PostfixKey: ds.PostfixKey,
			},
			DefaultFilters: ds.DefaultFilters,
		}, deps)
		if err != nil {
			log.Fatalf("Failed to load dataset %q: %v", datasetID, err)
		}
		registry.Register(datasetID, svc)

		sum := svc.Summary()
		log.Printf("  [%s] Loaded from: %s", datasetID, ds.CSVPath)
		log.Printf("    Curves: %d, Points: %d, Locations: %d", sum.Curves, sum.Points, len(sum.Locations))
	}

	// Initialize job manager for depth jobs
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		Store:         st,
		MaxConcurrent: cfg.Jobs.Workers,
		QueueSize:     cfg.Jobs.QueueSize,
		Retention:     time.Duration(cfg.Jobs.RetentionHours) * time.Hour,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	log.Printf("Depth job manager: workers=%d, retention_hours=%d, sqlite=%s",
		cfg.Jobs.Workers, cfg.Jobs.RetentionHours, cfg.Store.Path)

	jobManager.Executor = api.DepthExecutor(registry)
	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
	})

	// Create HTTP server. No write timeout: event streams stay open.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	// Ending the event streams lets Shutdown drain.
	server.RegisterOnShutdown(registry.Close)

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	stopFetches()

	log.Println("Server stopped")
}
