/**
 * Overlay Editor - HTTP host
 *
 * Serves one overlay editing session over HTTP.
 *
 * Architecture:
 * - Block extraction in process (ledongthuc/pdf) or through the editor API
 * - Local edit cache (SQLite, Redis or PostgreSQL) written on every commit
 * - Remote saves flushed every AUTO_FLUSH_INTERVAL_MS
 * - Synchronous export in process, asynchronous export through the
 *   asynq queue served by overlay-worker
 */

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/overlay-editor/internal/clients"
	"github.com/adverant/nexus/overlay-editor/internal/config"
	"github.com/adverant/nexus/overlay-editor/internal/editstore"
	"github.com/adverant/nexus/overlay-editor/internal/export"
	"github.com/adverant/nexus/overlay-editor/internal/extractor"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/overlay"
	"github.com/adverant/nexus/overlay-editor/internal/queue"
	"github.com/adverant/nexus/overlay-editor/internal/server"
)

func main() {
	if err := godotenv.Load(".env.overlay"); err != nil {
		log.Printf("Warning: .env.overlay not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)
	logger := logging.NewLogger("overlayd")

	logger.Info("Configuration loaded",
		"editor_api", cfg.EditorAPIURL,
		"edit_store", cfg.EditStoreDriver,
		"block_source", cfg.BlockSource,
		"device_id", cfg.DeviceID)

	store, err := editstore.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open edit store: %v", err)
	}
	defer store.Close()

	client := clients.NewEditorClient(cfg.EditorAPIURL, cfg.RequestTimeout, cfg.RetryBackoff)
	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.HealthCheck(healthCtx); err != nil {
		logger.Warn("Editor API unavailable, edits will queue until it returns", "error", err)
	}
	cancelHealth()

	var source overlay.BlockSource = overlay.NewExtractorSource(extractor.New())
	if cfg.BlockSource == "remote" {
		source = clients.NewRemoteBlockSource(client)
	}

	ctrl := overlay.New(overlay.Options{
		Source:      source,
		Store:       store,
		Remote:      client,
		Fetcher:     client,
		Exporter:    export.NewRecomposer(nil),
		FlushPeriod: cfg.AutoFlushInterval,
	})

	srvCfg := server.Config{
		Controller:  ctrl,
		MaxFileSize: cfg.MaxFileSize,
		RenderScale: cfg.RenderScale,
	}

	results, err := queue.NewRedisResultStore(cfg.RedisURL, cfg.ExportQueue, cfg.ExportResultTTL)
	if err != nil {
		logger.Warn("Asynchronous export disabled", "error", err)
	} else {
		defer results.Close()
		producer, err := queue.NewProducer(&queue.ProducerConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.ExportQueue,
			Results:   results,
		})
		if err != nil {
			log.Fatalf("Failed to initialize export producer: %v", err)
		}
		defer producer.Close()
		srvCfg.Jobs = producer
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Auto-flush stopped", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(srvCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Overlay editor listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}

	// Last chance to push queued saves.
	if ok, err := ctrl.Flush(shutdownCtx); !ok || err != nil {
		logger.Warn("Unsynced edits remain in the local store", "error", err)
	}

	logger.Info("Shutdown complete")
}
