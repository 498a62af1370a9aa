/**
 * Overlay Editor - Export Worker
 *
 * Recomposes edited PDFs queued by overlayd.
 *
 * Architecture:
 * - asynq consumer for export:document tasks on EXPORT_QUEUE
 * - fpdf + gofpdi recomposition (original pages imported, edits drawn over)
 * - results kept in Redis for EXPORT_RESULT_TTL_SEC
 */

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/overlay-editor/internal/config"
	"github.com/adverant/nexus/overlay-editor/internal/export"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/queue"
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
	logger := logging.NewLogger("overlay-worker")

	results, err := queue.NewRedisResultStore(cfg.RedisURL, cfg.ExportQueue, cfg.ExportResultTTL)
	if err != nil {
		log.Fatalf("Failed to connect result store: %v", err)
	}
	defer results.Close()

	worker, err := queue.NewWorker(&queue.WorkerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.ExportQueue,
		Concurrency: cfg.WorkerConcurrency,
		Exporter:    export.NewRecomposer(nil),
		Results:     results,
	})
	if err != nil {
		log.Fatalf("Failed to initialize export worker: %v", err)
	}

	if err := worker.Start(); err != nil {
		log.Fatalf("Failed to start export worker: %v", err)
	}
	logger.Info("Export worker ready",
		"queue", cfg.ExportQueue,
		"concurrency", cfg.WorkerConcurrency,
		"result_ttl", cfg.ExportResultTTL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	worker.Stop()
	logger.Info("Shutdown complete")
}
