/**
 * Export Worker
 *
 * Consumes export:document tasks from Redis through asynq, recomposes the
 * PDF and stores the result for overlayd to hand out.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/export"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// Exporter recomposes a PDF from resolved block states.
type Exporter interface {
	Export(original []byte, blocks []model.TextBlock, states map[string]export.BlockState) ([]byte, error)
}

// Worker handles export jobs from the queue
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	exporter Exporter
	results  ResultStore
	config   *WorkerConfig
	logger   *logging.Logger
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Exporter          Exporter
	Results           ResultStore
	ProcessingTimeout time.Duration // default 2 minutes
}

// NewWorker creates a new export worker
func NewWorker(cfg *WorkerConfig) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	w, err := newWorker(cfg)
	if err != nil {
		return nil, err
	}

	w.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// 5s, 10s, 20s, capped at a minute
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				w.logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: &asynqLogger{logger: logging.NewLogger("asynq")},
		},
	)
	return w, nil
}

func newWorker(cfg *WorkerConfig) (*Worker, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Exporter == nil {
		return nil, fmt.Errorf("Exporter is required")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("Results is required")
	}

	w := &Worker{
		mux:      asynq.NewServeMux(),
		exporter: cfg.Exporter,
		results:  cfg.Results,
		config:   cfg,
		logger:   logging.NewLogger("ExportWorker"),
	}
	w.mux.HandleFunc(TypeExportDocument, w.HandleExport)
	return w, nil
}

// Start starts processing in the background.
func (w *Worker) Start() error {
	w.logger.Info("Starting export worker",
		"concurrency", w.config.Concurrency,
		"queue", w.config.QueueName)
	return w.server.Start(w.mux)
}

// Stop waits for running tasks and shuts the server down.
func (w *Worker) Stop() {
	w.logger.Info("Stopping export worker")
	w.server.Shutdown()
	w.logger.Info("Export worker stopped")
}

// HandleExport recomposes one document. Payload and PDF errors are not
// retried; a failure is recorded once no retry is left.
func (w *Worker) HandleExport(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload ExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal export payload: %v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With("job_id", payload.JobID, "document_id", payload.DocumentID)
	log.Info("Exporting document", "size", len(payload.FileBuffer), "blocks", len(payload.Blocks))

	status := &JobStatus{
		JobID:      payload.JobID,
		DocumentID: payload.DocumentID,
		Filename:   payload.Filename,
		Status:     StatusProcessing,
	}
	if err := w.results.SetStatus(ctx, status); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}

	timeout := w.config.ProcessingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	exportCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := w.export(exportCtx, &payload)
	duration := time.Since(startTime)

	if err != nil {
		permanent := overlayerrors.HasCode(err, overlayerrors.ErrorExportFailed)
		log.Error("Export failed", "duration", duration, "permanent", permanent, "error", err)

		if permanent || lastAttempt(ctx) {
			status.Status = StatusFailed
			status.Error = err.Error()
			if serr := w.results.SetStatus(ctx, status); serr != nil {
				log.Warn("Failed to update status to failed", "error", serr)
			}
		}
		if permanent {
			return fmt.Errorf("export failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("export failed: %w", err)
	}

	if err := w.results.Complete(ctx, status, out); err != nil {
		return fmt.Errorf("failed to store export result: %w", err)
	}

	log.Info("Export completed", "duration", duration, "size", len(out))
	return nil
}

// export runs the recomposer, giving up when ctx is done.
func (w *Worker) export(ctx context.Context, p *ExportPayload) ([]byte, error) {
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := w.exporter.Export(p.FileBuffer, p.Blocks, p.States)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var oe *overlayerrors.OverlayError
			if !errors.As(r.err, &oe) {
				return nil, overlayerrors.NewExportFailedError(p.DocumentID, r.err)
			}
			if oe.DocumentID == "" {
				oe.DocumentID = p.DocumentID
			}
		}
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lastAttempt reports whether asynq will not retry the running task. Outside
// a worker there is no retry metadata and every attempt is the last.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= max
}

// asynqLogger routes asynq's own logs through logrus.
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
