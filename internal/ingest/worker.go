package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hotelbook/concierge/internal/storage"
)

// JobTypeFAQEmbed re-embeds one FAQ entry.
const JobTypeFAQEmbed = "faq_embed"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// FAQIndexer rebuilds the vectors of one entry.
type FAQIndexer interface {
	IndexFAQ(ctx context.Context, faqID string) error
}

type embedPayload struct {
	FAQID string `json:"faq_id"`
}

// EnqueueFAQEmbed schedules a re-embed of faqID.
func EnqueueFAQEmbed(ctx context.Context, q Enqueuer, faqID string) error {
	payload, err := json.Marshal(embedPayload{FAQID: faqID})
	if err != nil {
		return err
	}
	if err := q.EnqueueJob(ctx, storage.Job{Type: JobTypeFAQEmbed, PayloadJSON: string(payload)}); err != nil {
		return fmt.Errorf("enqueueing embed of %s: %w", faqID, err)
	}
	return nil
}

// Worker processes faq_embed jobs from the job queue.
type Worker struct {
	store   JobStore
	indexer FAQIndexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer FAQIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default().With("component", "ingest"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// processed, successfully or not.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeFAQEmbed})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.FAQID == "" {
		return fmt.Errorf("payload has no faq_id")
	}
	if err := w.indexer.IndexFAQ(ctx, payload.FAQID); err != nil {
		return err
	}
	w.logger.Debug("faq indexed", "faq_id", payload.FAQID)
	return nil
}
