package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultKey is the Redis list holding pending archive jobs.
	DefaultKey = "chat:jobs:archive"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// DefaultBlock bounds one Dequeue wait so the worker can notice shutdown.
	DefaultBlock = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const JobTypeArchive JobType = "history_archive"

// ArchivePayload is the payload for history archive jobs.
type ArchivePayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
	// Upto bounds the archive to the first Upto events; zero means all.
	Upto int `json:"upto,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis lists. Failed jobs land in a
// dead-letter list named <key>:dlq after MaxRetries attempts.
type Queue struct {
	client *redis.Client
	key    string
	dlq    string
	block  time.Duration
	logger *zap.Logger
}

// NewQueue creates a Redis-backed job queue on key (DefaultKey when empty).
func NewQueue(client *redis.Client, key string, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key, dlq: key + ":dlq", block: DefaultBlock, logger: logger}
}

// EnqueueArchive enqueues a history archive job and returns it.
func (q *Queue) EnqueueArchive(ctx context.Context, payload ArchivePayload) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeArchive,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, q.key, job); err != nil {
		return nil, err
	}
	q.logger.Debug("enqueued archive job", zap.String("job_id", job.ID), zap.String("requested_by", payload.RequestedBy))
	return job, nil
}

// Dequeue waits up to the block interval for a job. It returns a nil job
// when none arrived or the entry could not be decoded.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, q.block, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, q.dlq, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, q.key, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// DeadLetters returns the jobs that exhausted their retries.
func (q *Queue) DeadLetters(ctx context.Context) ([]Job, error) {
	raw, err := q.client.LRange(ctx, q.dlq, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raw))
	for _, r := range raw {
		var job Job
		if err := json.Unmarshal([]byte(r), &job); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}
