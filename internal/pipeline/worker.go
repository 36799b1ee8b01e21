package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/worker"
)

// Worker runs export jobs one at a time.
type Worker struct {
	runner  worker.Runner
	log     *slog.Logger
	backoff func(attempt int) time.Duration
}

func NewWorker(runner worker.Runner, log *slog.Logger) *Worker {
	return &Worker{runner: runner, log: log, backoff: Backoff}
}

// Process runs a job to a terminal status. A crashed worker process is
// restarted up to MaxRetries times.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "uri", docuri.Redact(job.URI), "format", job.Format)
	if job.Snapshot().Status.Terminal() {
		log.Info("job finished before it started", "status", job.Snapshot().Status)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	job.setCancel(cancel)

	req := ExportRequest{URI: job.URI, Mode: job.Mode, Format: job.Format, Output: job.Output}
	for attempt := range MaxRetries {
		job.resetProgress()
		job.SetStatus(StatusOpening, "opening")

		err := w.run(ctx, job, req, log)
		switch {
		case err == nil:
			job.SetStatus(StatusCompleted, "done")
			log.Info("export complete", "output", job.Output, "attempts", attempt+1)
			return
		case ctx.Err() != nil || errors.Is(err, worker.ErrCancelled):
			job.SetStatus(StatusCancelled, "cancelled")
			log.Info("export cancelled")
			return
		case !IsRetryable(err) || attempt+1 == MaxRetries:
			log.Error("export failed", "error", err, "attempts", attempt+1)
			job.AddError(err.Error())
			job.SetStatus(StatusFailed, "exporting")
			return
		}

		log.Warn("export worker crashed, retrying", "attempt", attempt, "error", err)
		select {
		case <-time.After(w.backoff(attempt)):
		case <-ctx.Done():
			job.SetStatus(StatusCancelled, "cancelled")
			return
		}
	}
}

// run drives one attempt and returns the task's outcome.
func (w *Worker) run(ctx context.Context, job *Job, req ExportRequest, log *slog.Logger) error {
	s, err := w.runner.Start(ctx, ExportTaskName, req)
	if err != nil {
		return err
	}
	defer s.Close()

	for {
		m, err := s.Next()
		if errors.Is(err, io.EOF) {
			return worker.ErrWorkerCrashed
		}
		if err != nil {
			return err
		}
		switch {
		case m.Kind == worker.KindDebug:
			log.Debug("export worker", "line", m.Line)
		case m.Kind == worker.KindValue:
			var p ExportProgress
			if err := json.Unmarshal(m.Value, &p); err != nil {
				return fmt.Errorf("decode export progress: %w", err)
			}
			if p.Done {
				job.finish(p.Bytes)
				continue
			}
			job.SetStatus(StatusExporting, fmt.Sprintf("page %d of %d", p.Page+1, p.Total))
			job.Advance(p)
		case m.Terminal():
			return m.Err()
		}
	}
}
