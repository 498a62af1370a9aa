package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job statuses reported for an export.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned for unknown or expired jobs.
var ErrJobNotFound = errors.New("export job not found")

// JobStatus is the tracked state of one export job.
type JobStatus struct {
	JobID      string    `json:"jobId"`
	DocumentID string    `json:"documentId"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Size       int       `json:"size,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ResultStore tracks export jobs and keeps finished PDFs.
type ResultStore interface {
	SetStatus(ctx context.Context, status *JobStatus) error
	Complete(ctx context.Context, status *JobStatus, pdf []byte) error
	Status(ctx context.Context, jobID string) (*JobStatus, error)
	Result(ctx context.Context, jobID string) ([]byte, error)
}

// RedisResultStore keeps job state and output in Redis, expiring after ttl.
type RedisResultStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisResultStore connects to Redis. Keys are namespaced under prefix.
func NewRedisResultStore(redisURL, prefix string, ttl time.Duration) (*RedisResultStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisResultStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisResultStore) statusKey(jobID string) string {
	return fmt.Sprintf("%s:status:%s", s.prefix, jobID)
}

func (s *RedisResultStore) resultKey(jobID string) string {
	return fmt.Sprintf("%s:result:%s", s.prefix, jobID)
}

// SetStatus records the job state and publishes a job event.
func (s *RedisResultStore) SetStatus(ctx context.Context, status *JobStatus) error {
	return s.write(ctx, status, nil)
}

// Complete stores the PDF alongside a completed status.
func (s *RedisResultStore) Complete(ctx context.Context, status *JobStatus, pdf []byte) error {
	status.Status = StatusCompleted
	status.Size = len(pdf)
	return s.write(ctx, status, pdf)
}

func (s *RedisResultStore) write(ctx context.Context, status *JobStatus, pdf []byte) error {
	status.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	event, _ := json.Marshal(map[string]interface{}{
		"event":     "job:" + status.Status,
		"jobId":     status.JobID,
		"timestamp": status.UpdatedAt.Format(time.RFC3339),
	})

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.statusKey(status.JobID), data, s.ttl)
	if pdf != nil {
		pipe.Set(ctx, s.resultKey(status.JobID), pdf, s.ttl)
	}
	pipe.Publish(ctx, s.prefix+":events", event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write job %s: %w", status.JobID, err)
	}
	return nil
}

// Status returns the tracked state of a job.
func (s *RedisResultStore) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	data, err := s.client.Get(ctx, s.statusKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	var status JobStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &status, nil
}

// Result returns the exported PDF of a completed job.
func (s *RedisResultStore) Result(ctx context.Context, jobID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.resultKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", jobID, err)
	}
	return data, nil
}

// Close releases the Redis connection.
func (s *RedisResultStore) Close() error {
	return s.client.Close()
}
