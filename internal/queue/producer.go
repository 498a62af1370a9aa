package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/overlay-editor/internal/logging"
)

// Enqueuer submits asynq tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Producer enqueues export jobs and answers status queries for them.
type Producer struct {
	client    Enqueuer
	results   ResultStore
	queueName string
	maxRetry  int
	timeout   time.Duration
	logger    *logging.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	RedisURL  string
	QueueName string
	Results   ResultStore
	MaxRetry  int
	Timeout   time.Duration
}

// NewProducer creates a producer backed by an asynq client.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return newProducer(asynq.NewClient(redisOpt), cfg)
}

func newProducer(client Enqueuer, cfg *ProducerConfig) (*Producer, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("Results is required")
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Producer{
		client:    client,
		results:   cfg.Results,
		queueName: cfg.QueueName,
		maxRetry:  maxRetry,
		timeout:   timeout,
		logger:    logging.NewLogger("ExportProducer"),
	}, nil
}

// Enqueue assigns a job id, records the job as queued and submits it.
func (p *Producer) Enqueue(ctx context.Context, payload *ExportPayload) (string, error) {
	payload.JobID = uuid.NewString()

	task, err := NewExportTask(payload)
	if err != nil {
		return "", err
	}

	status := &JobStatus{
		JobID:      payload.JobID,
		DocumentID: payload.DocumentID,
		Filename:   payload.Filename,
		Status:     StatusQueued,
	}
	if err := p.results.SetStatus(ctx, status); err != nil {
		return "", err
	}

	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(p.maxRetry),
		asynq.Timeout(p.timeout),
	)
	if err != nil {
		status.Status = StatusFailed
		status.Error = err.Error()
		if serr := p.results.SetStatus(ctx, status); serr != nil {
			p.logger.Warn("Failed to record enqueue failure", "job_id", payload.JobID, "error", serr)
		}
		return "", fmt.Errorf("failed to enqueue export: %w", err)
	}

	p.logger.Info("Export enqueued",
		"job_id", payload.JobID,
		"document_id", payload.DocumentID,
		"queue", info.Queue,
		"blocks", len(payload.Blocks))
	return payload.JobID, nil
}

// Status returns the tracked state of a job.
func (p *Producer) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	return p.results.Status(ctx, jobID)
}

// Result returns the PDF of a completed job.
func (p *Producer) Result(ctx context.Context, jobID string) ([]byte, error) {
	return p.results.Result(ctx, jobID)
}

// Close closes the asynq client.
func (p *Producer) Close() error {
	return p.client.Close()
}
