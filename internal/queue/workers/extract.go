package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/extract"
	"github.com/nikhilbhutani/noteuploader/internal/models"
	"github.com/nikhilbhutani/noteuploader/internal/queue"
	"github.com/nikhilbhutani/noteuploader/internal/webhook"
)

type DocumentLookup interface {
	Get(name string) (models.DocumentRef, error)
}

type PDFExtractor interface {
	PDF(ctx context.Context, ref models.DocumentRef) extract.Result
}

type ResultWriter interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Notifier is told about every finished job. Delivery failures never fail
// the job.
type Notifier interface {
	Notify(event, id string, v any) error
}

type ExtractWorker struct {
	docs       DocumentLookup
	dispatcher PDFExtractor
	results    ResultWriter
	notifier   Notifier
}

func NewExtractWorker(docs DocumentLookup, dispatcher PDFExtractor, results ResultWriter) *ExtractWorker {
	return &ExtractWorker{docs: docs, dispatcher: dispatcher, results: results}
}

func (w *ExtractWorker) WithNotifier(n Notifier) *ExtractWorker {
	w.notifier = n
	return w
}

func (w *ExtractWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentExtractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			payload.JobID = id
		}
	}

	logger := slog.With("job_id", payload.JobID, "name", payload.Name)
	logger.Info("extracting document")

	ref, err := w.docs.Get(payload.Name)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) || errors.Is(err, document.ErrInvalidName) {
			return fmt.Errorf("get document: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("get document: %w", err)
	}

	res := w.dispatcher.PDF(ctx, ref)
	if res.Reason == extract.ReasonCanceled {
		return fmt.Errorf("extract %s: %w", payload.Name, ctx.Err())
	}

	out := queue.JobResult{
		JobID:      payload.JobID,
		Name:       payload.Name,
		Result:     res,
		FinishedAt: time.Now().UTC(),
	}
	if err := w.results.Set(ctx, queue.JobKey(payload.JobID), out, 0); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	if w.notifier != nil {
		if err := w.notifier.Notify(webhook.EventJobFinished, payload.JobID, out); err != nil {
			logger.Warn("job notification failed", "error", err)
		}
	}

	logger.Info("document extracted", "status", res.Status, "pages", res.Pages)
	return nil
}
