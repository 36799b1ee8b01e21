package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/docuri"
)

// JobStatus represents the state of an export job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusOpening   JobStatus = "opening"
	StatusExporting JobStatus = "exporting"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job tracks the state of a single document export.
type Job struct {
	mu sync.Mutex

	ID     string               `json:"job_id"`
	URI    string               `json:"uri"`
	Mode   document.ReadingMode `json:"mode,omitempty"`
	Format string               `json:"format"`
	Output string               `json:"output"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	errors []string
	cancel context.CancelFunc
}

// Progress tracks export progress.
type Progress struct {
	TotalPages   int      `json:"total_pages"`
	PagesDone    int      `json:"pages_done"`
	PagesSkipped int      `json:"pages_skipped"`
	Bytes        int64    `json:"bytes"`
	Errors       []string `json:"errors"`
}

// NewJob creates a queued export job with a time-ordered id.
func NewJob(uri, format, output string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.Must(uuid.NewV7()).String(),
		URI:       uri,
		Format:    format,
		Output:    output,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs that have not changed within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically. A finished job keeps its status.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// Advance records one exported page.
func (j *Job) Advance(p ExportProgress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalPages = p.Total
	j.Progress.PagesDone++
	if p.Skipped {
		j.Progress.PagesSkipped++
		j.errors = append(j.errors, fmt.Sprintf("page %d: %s", p.Page, p.Error))
		j.Progress.Errors = j.errors
	}
	j.UpdatedAt = time.Now()
}

// resetProgress clears page counts before a retry.
func (j *Job) resetProgress() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Attempts++
	j.Progress.PagesDone = 0
	j.Progress.PagesSkipped = 0
	j.UpdatedAt = time.Now()
}

// finish records the written size.
func (j *Job) finish(bytes int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Bytes = bytes
	j.UpdatedAt = time.Now()
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel stops a queued or running job.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	j.SetStatus(StatusCancelled, "cancelled")
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string               `json:"job_id"`
	URI       string               `json:"uri"`
	Mode      document.ReadingMode `json:"mode,omitempty"`
	Format    string               `json:"format"`
	Output    string               `json:"output"`
	Status    JobStatus            `json:"status"`
	Phase     string               `json:"phase"`
	Progress  Progress             `json:"progress"`
	Attempts  int                  `json:"attempts"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:        j.ID,
		URI:       docuri.Redact(j.URI),
		Mode:      j.Mode,
		Format:    j.Format,
		Output:    j.Output,
		Status:    j.Status,
		Phase:     j.Phase,
		Progress:  p,
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
