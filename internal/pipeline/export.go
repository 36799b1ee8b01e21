package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
	"github.com/dgallion1/bookcore/internal/worker"
)

// ExportTaskName is the worker task an export runs as.
const ExportTaskName = "export"

// Export formats.
const (
	FormatText     = "txt"
	FormatMarkdown = "md"
)

// ExportRequest is the wire form of an export.
type ExportRequest struct {
	URI    string               `json:"uri"`
	Mode   document.ReadingMode `json:"mode,omitempty"`
	Format string               `json:"format"`
	Output string               `json:"output"`
}

// ExportProgress is emitted once per page and once more, with Done set, after
// the output is in place.
type ExportProgress struct {
	Page    int    `json:"page"`
	Total   int    `json:"total"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
}

type resultPage interface {
	Result() *structtext.Result
}

// ExportTask returns the worker task that writes a document's full text to a
// file. Text exports separate pages with form feeds, so a page that fails to
// decode leaves an empty page behind; Markdown exports leave it out. The output appears atomically or not at all.
func ExportTask(open document.Opener) worker.Task {
	return func(ctx context.Context, args json.RawMessage, emit worker.Emitter) error {
		var req ExportRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return fmt.Errorf("decode export request: %w", err)
		}
		if req.Format != FormatText && req.Format != FormatMarkdown {
			return document.Errorf(document.KindNotSupported, "export format %q", req.Format)
		}
		if req.Output == "" {
			return fmt.Errorf("export: no output path")
		}
		uri, err := docuri.Parse(req.URI)
		if err != nil {
			return err
		}

		h, err := open(ctx, uri)
		if err != nil {
			return err
		}
		defer h.Close()
		if req.Mode != "" && req.Mode != h.ReadingMode() {
			if err := h.SetReadingMode(ctx, req.Mode); err != nil {
				return err
			}
		}
		count, err := h.PageCount()
		if err != nil {
			return err
		}

		dir := filepath.Dir(req.Output)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
		tmp, err := os.CreateTemp(dir, ".export-*")
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				tmp.Close()
				os.Remove(tmp.Name())
			}
		}()

		w := bufio.NewWriter(tmp)
		written := 0
		for i := range count {
			if err := ctx.Err(); err != nil {
				return err
			}
			if i > 0 && req.Format == FormatText {
				w.WriteString("\f")
			}
			text, err := exportPage(h, i, req.Format)
			if err != nil {
				emit.Debugf("page %d skipped: %v", i, err)
				if err := emit.Value(ExportProgress{Page: i, Total: count, Skipped: true, Error: err.Error()}); err != nil {
					return err
				}
				continue
			}
			if written > 0 && req.Format == FormatMarkdown {
				w.WriteString("\n\n")
			}
			w.WriteString(text)
			written++
			if err := emit.Value(ExportProgress{Page: i, Total: count}); err != nil {
				return err
			}
		}
		if req.Format == FormatMarkdown && written > 0 {
			w.WriteString("\n")
		}

		if err := w.Flush(); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("sync export: %w", err)
		}
		info, err := tmp.Stat()
		if err != nil {
			return fmt.Errorf("stat export: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close export: %w", err)
		}
		if err := os.Rename(tmp.Name(), req.Output); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("commit export: %w", err)
		}
		committed = true
		return emit.Value(ExportProgress{Page: count - 1, Total: count, Done: true, Bytes: info.Size()})
	}
}

func exportPage(h *document.Handle, i int, format string) (string, error) {
	p, err := h.Page(i)
	if err != nil {
		return "", err
	}
	if format == FormatMarkdown {
		res, ok := p.(resultPage)
		if !ok {
			text, err := p.Text()
			if err != nil {
				return "", err
			}
			res = plainResult(text)
		}
		return pageMarkdown(res.Result())
	}
	return p.Text()
}

type plainResult string

func (p plainResult) Result() *structtext.Result {
	return &structtext.Result{Text: string(p)}
}
