package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/bookcore/internal/backend"
	"github.com/dgallion1/bookcore/internal/config"
	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/worker"
)

// deckBackend serves a file as pages split on form feeds. A page holding
// "BROKEN" fails to load.
type deckBackend struct {
	pages []string
}

type deckPage struct {
	i    int
	text string
}

func (p *deckPage) Index() int { return p.i }
func (p *deckPage) Text() (string, error) { return p.text, nil }

func (b *deckBackend) Read(_ context.Context, req document.ReadRequest) (*document.Redirect, error) {
	data, err := os.ReadFile(req.URI.Path)
	if err != nil {
		return nil, err
	}
	b.pages = strings.Split(string(data), "\f")
	return nil, nil
}

func (b *deckBackend) PageCount() int { return len(b.pages) }

func (b *deckBackend) LoadPage(i int) (document.Page, error) {
	if strings.Contains(b.pages[i], "BROKEN") {
		return nil, errors.New("corrupt page")
	}
	return &deckPage{i: i, text: b.pages[i]}, nil
}

func (b *deckBackend) TOC() (*doctree.Tree, error) { return nil, nil }
func (b *deckBackend) Metadata() document.Metadata { return document.Metadata{} }
func (b *deckBackend) Close() error { return nil }

func testRegistry() *document.Registry {
	reg := backend.Default(backend.Options{})
	reg.MustRegister(document.Descriptor{
		Format:     "deck",
		Extensions: []string{"*.deck"},
		New:        func() document.Backend { return &deckBackend{} },
	})
	return reg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localRunner(t *testing.T) *worker.Local {
	t.Helper()
	open := document.NewOpener(testRegistry(), document.Options{CacheDir: t.TempDir()})
	return &worker.Local{Tasks: worker.Tasks{ExportTaskName: ExportTask(open)}}
}

func writeDoc(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	uri, err := docuri.FromFilename(p, testRegistry())
	if err != nil {
		t.Fatalf("resolve %s: %v", name, err)
	}
	return uri.String()
}

func runExport(t *testing.T, req ExportRequest) ([]ExportProgress, error) {
	t.Helper()
	s, err := localRunner(t).Start(context.Background(), ExportTaskName, req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var out []ExportProgress
	err = worker.Drain(s, func(raw json.RawMessage) error {
		var p ExportProgress
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func readOutput(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return string(data)
}

func TestExportText(t *testing.T) {
	uri := writeDoc(t, "deck.deck", "one\ftwo\fBROKEN\ffour")
	out := filepath.Join(t.TempDir(), "nested", "deck.txt")
	progress, err := runExport(t, ExportRequest{URI: uri, Format: FormatText, Output: out})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := readOutput(t, out); got != "one\ftwo\f\ffour" {
		t.Errorf("expected %q, got %q", "one\ftwo\f\ffour", got)
	}
	if len(progress) != 5 {
		t.Fatalf("expected 4 page values and a final one, got %d", len(progress))
	}
	if !progress[2].Skipped || progress[2].Error == "" {
		t.Errorf("expected page 2 skipped with an error, got %+v", progress[2])
	}
	last := progress[4]
	if !last.Done || last.Bytes != int64(len("one\ftwo\f\ffour")) {
		t.Errorf("expected final value with size, got %+v", last)
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 {
		t.Errorf("expected only the output file, got %d entries", len(entries))
	}
}

func TestExportMarkdown(t *testing.T) {
	uri := writeDoc(t, "notes.md", "# Notes\n\nSome **bold** and a [link](https://example.com).\n\n- first\n- second\n")
	out := filepath.Join(t.TempDir(), "notes.md")
	if _, err := runExport(t, ExportRequest{URI: uri, Format: FormatMarkdown, Output: out}); err != nil {
		t.Fatalf("export: %v", err)
	}
	got := readOutput(t, out)
	for _, want := range []string{"# Notes", "**bold**", "[link](https://example.com)", "- first", "- second"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got %q", want, got)
		}
	}
}

func TestExportMarkdownPlainPages(t *testing.T) {
	uri := writeDoc(t, "deck.deck", "alpha\fbeta")
	out := filepath.Join(t.TempDir(), "deck.md")
	if _, err := runExport(t, ExportRequest{URI: uri, Format: FormatMarkdown, Output: out}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := readOutput(t, out); got != "alpha\n\nbeta\n" {
		t.Errorf("expected one paragraph per page, got %q", got)
	}
}

func TestExportErrors(t *testing.T) {
	uri := writeDoc(t, "a.txt", "text")
	_, err := runExport(t, ExportRequest{URI: uri, Format: "pdf", Output: filepath.Join(t.TempDir(), "a.pdf")})
	if !errors.Is(err, document.ErrNotSupported) {
		t.Errorf("expected not supported, got %v", err)
	}

	missing := docuri.New("txt", filepath.Join(t.TempDir(), "missing.txt")).String()
	out := filepath.Join(t.TempDir(), "missing.txt")
	_, err = runExport(t, ExportRequest{URI: missing, Format: FormatText, Output: out})
	if !errors.Is(err, document.ErrDocumentIO) {
		t.Errorf("expected io error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("expected no output after a failed export")
	}
}

// crashRunner makes its first crashes starts look like a dead child process.
type crashRunner struct {
	next    worker.Runner
	crashes int32
	starts  atomic.Int32
}

type crashedStream struct{}

func (crashedStream) Next() (worker.Message, error) {
	return worker.Message{}, fmt.Errorf("%w: exit status 3", worker.ErrWorkerCrashed)
}
func (crashedStream) Close() error { return nil }

func (r *crashRunner) Start(ctx context.Context, name string, args any) (worker.Stream, error) {
	if r.starts.Add(1) <= r.crashes {
		return crashedStream{}, nil
	}
	return r.next.Start(ctx, name, args)
}

func testWorker(runner worker.Runner) *Worker {
	w := NewWorker(runner, testLogger())
	w.backoff = func(int) time.Duration { return 0 }
	return w
}

func TestWorkerRetriesCrash(t *testing.T) {
	uri := writeDoc(t, "a.txt", "hello")
	out := filepath.Join(t.TempDir(), "a.txt")
	r := &crashRunner{next: localRunner(t), crashes: 2}
	job := NewJob(uri, FormatText, out)
	testWorker(r).Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}
	if snap.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", snap.Attempts)
	}
	if snap.Progress.PagesDone != 1 || snap.Progress.Bytes != 5 {
		t.Errorf("expected 1 page and 5 bytes, got %+v", snap.Progress)
	}
}

func TestWorkerGivesUpAfterRetries(t *testing.T) {
	uri := writeDoc(t, "a.txt", "hello")
	r := &crashRunner{next: localRunner(t), crashes: MaxRetries}
	job := NewJob(uri, FormatText, filepath.Join(t.TempDir(), "a.txt"))
	testWorker(r).Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("expected failed, got %q", snap.Status)
	}
	if snap.Attempts != MaxRetries {
		t.Errorf("expected %d attempts, got %d", MaxRetries, snap.Attempts)
	}
}

func TestWorkerDoesNotRetryTaskFailure(t *testing.T) {
	missing := docuri.New("txt", filepath.Join(t.TempDir(), "missing.txt")).String()
	r := &crashRunner{next: localRunner(t)}
	job := NewJob(missing, FormatText, filepath.Join(t.TempDir(), "out.txt"))
	testWorker(r).Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Attempts != 1 {
		t.Errorf("expected one failed attempt, got %q after %d", snap.Status, snap.Attempts)
	}
	if len(snap.Progress.Errors) != 1 {
		t.Errorf("expected the task error recorded, got %v", snap.Progress.Errors)
	}
}

func TestWorkerSkipsCancelledJob(t *testing.T) {
	r := &crashRunner{next: localRunner(t)}
	job := NewJob("txt:///nowhere.txt", FormatText, filepath.Join(t.TempDir(), "out.txt"))
	job.Cancel()
	testWorker(r).Process(context.Background(), job)
	if r.starts.Load() != 0 {
		t.Error("expected a cancelled job never to start")
	}
}

func TestOrchestratorExport(t *testing.T) {
	uri := writeDoc(t, "book.txt", "Call me Ishmael.")
	cfg := config.Config{WorkerCount: 2, MaxQueueSize: 4, JobTTL: time.Hour, ExportDir: t.TempDir()}
	o := NewOrchestrator(cfg, localRunner(t), testLogger())
	o.Start(context.Background())
	defer o.Stop()

	job, err := o.SubmitExport(uri, "", FormatText)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.GetJob(job.ID) != job {
		t.Error("expected job to be tracked")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !job.Snapshot().Status.Terminal() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for export")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s := job.Snapshot().Status; s != StatusCompleted {
		t.Fatalf("expected completed, got %q", s)
	}
	if got := readOutput(t, job.Output); got != "Call me Ishmael." {
		t.Errorf("expected exported text, got %q", got)
	}
	if filepath.Dir(job.Output) != cfg.ExportDir {
		t.Errorf("expected output under %q, got %q", cfg.ExportDir, job.Output)
	}
}

func TestOrchestratorQueueFull(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 1, JobTTL: time.Hour, ExportDir: t.TempDir()}
	o := NewOrchestrator(cfg, localRunner(t), testLogger())

	if _, err := o.SubmitExport("txt:///a.txt", "", FormatText); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	job, err := o.SubmitExport("txt:///b.txt", "", FormatText)
	if err == nil {
		t.Fatal("expected queue full error")
	}
	if job.Snapshot().Status != StatusFailed {
		t.Errorf("expected rejected job to be failed, got %q", job.Snapshot().Status)
	}
	if o.QueueDepth() != 1 || o.JobCount() != 2 {
		t.Errorf("expected depth 1 and 2 jobs, got %d and %d", o.QueueDepth(), o.JobCount())
	}
	if _, err := o.SubmitExport("txt:///c.txt", "", "pdf"); err == nil {
		t.Error("expected unsupported format error")
	}
}

func TestOrchestratorCancelJob(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 2, JobTTL: time.Hour, ExportDir: t.TempDir()}
	o := NewOrchestrator(cfg, localRunner(t), testLogger())
	job, err := o.SubmitExport("txt:///a.txt", "", FormatText)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !o.CancelJob(job.ID) {
		t.Fatal("expected job to be found")
	}
	if o.CancelJob("nope") {
		t.Error("expected unknown job not to be found")
	}
	if s := job.Snapshot().Status; s != StatusCancelled {
		t.Errorf("expected cancelled, got %q", s)
	}
}
