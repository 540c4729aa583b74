// Package archive exports the chat history to object storage as JSON Lines.
// Jobs are requested over HTTP, carried by the Redis queue and processed by
// cmd/worker.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/internal/history"
	"github.com/aura-chat/backend/pkg/queue"
	"github.com/aura-chat/backend/pkg/storage"
)

// Uploader stores one object and hands out a time-limited link to it.
// *storage.S3 satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Jobs is the queue side used by the worker loop. *queue.Queue satisfies it.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Result describes one finished archive.
type Result struct {
	Key string
	URL string
	// DownloadURL is a pre-signed link, empty when signing failed.
	DownloadURL string
	Events      int
}

// Archiver processes history archive jobs: snapshot the log, encode it as
// JSONL and upload it.
type Archiver struct {
	source   history.Snapshotter
	uploader Uploader
	jobs     Jobs
	logger   *zap.Logger
	now      func() time.Time
	backoff  time.Duration
}

// NewArchiver creates an archive processor.
func NewArchiver(source history.Snapshotter, uploader Uploader, jobs Jobs, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		source:   source,
		uploader: uploader,
		jobs:     jobs,
		logger:   logger,
		now:      time.Now,
		backoff:  queue.RetryBackoff,
	}
}

// WriteJSONL writes one wire-encoded event per line.
func WriteJSONL(w io.Writer, events []event.Event) error {
	for i, e := range events {
		data, err := event.Encode(e)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", i, err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// Process executes one archive job. An empty log is not uploaded.
func (a *Archiver) Process(ctx context.Context, job *queue.Job) (*Result, error) {
	if job.Type != queue.JobTypeArchive {
		return nil, fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchivePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}

	events, err := a.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if payload.Upto > 0 && payload.Upto < len(events) {
		events = events[:payload.Upto]
	}
	if len(events) == 0 {
		a.logger.Info("history empty, nothing to archive", zap.String("job_id", job.ID))
		return &Result{}, nil
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, events); err != nil {
		return nil, err
	}
	key := storage.ArchiveKey(a.now(), job.ID)
	size := int64(buf.Len())
	url, err := a.uploader.Upload(ctx, key, storage.ContentTypeJSONL, &buf, size)
	if err != nil {
		return nil, fmt.Errorf("s3 upload: %w", err)
	}

	res := &Result{Key: key, URL: url, Events: len(events)}
	if res.DownloadURL, err = a.uploader.PresignDownload(ctx, key); err != nil {
		a.logger.Warn("presign archive", zap.String("s3_key", key), zap.Error(err))
	}

	a.logger.Info("history archived",
		zap.String("job_id", job.ID),
		zap.String("s3_key", key),
		zap.String("download_url", res.DownloadURL),
		zap.Int("events", len(events)),
		zap.Int64("bytes", size))
	return res, nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := a.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			a.logger.Warn("dequeue error", zap.Error(err))
			a.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		a.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if _, err := a.Process(ctx, job); err != nil {
			a.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := a.jobs.Retry(ctx, job); reErr != nil {
				a.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			a.sleep(ctx)
		}
	}
}

func (a *Archiver) sleep(ctx context.Context) {
	t := time.NewTimer(a.backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
