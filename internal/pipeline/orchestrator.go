package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgallion1/bookcore/internal/config"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/worker"
)

// Orchestrator manages background export jobs.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	runner worker.Runner
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Jobs run their export task on runner.
func NewOrchestrator(cfg config.Config, runner worker.Runner, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		runner: runner,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.runner, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline. Running exports are cancelled.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// SubmitExport queues an export of uri read in mode. The output lands in the
// export directory under a name derived from the document identity.
func (o *Orchestrator) SubmitExport(uri string, mode document.ReadingMode, format string) (*Job, error) {
	if format != FormatText && format != FormatMarkdown {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	name := ContentHashHex([]byte(uri+"|"+string(mode)))[:16] + "." + format
	job := NewJob(uri, format, filepath.Join(o.cfg.ExportDir, name))
	job.Mode = mode
	if err := o.Submit(job); err != nil {
		return job, err
	}
	return job, nil
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// CancelJob cancels a job and reports whether it existed.
func (o *Orchestrator) CancelJob(id string) bool {
	job := o.jobs.Get(id)
	if job == nil {
		return false
	}
	job.Cancel()
	return true
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// JobCount returns the number of tracked jobs.
func (o *Orchestrator) JobCount() int {
	return o.jobs.Len()
}
