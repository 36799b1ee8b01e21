package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/charset"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

// cleanView keeps readable markup and drops page chrome. Element ids survive so
// internal anchors still resolve.
var cleanView = bluemonday.UGCPolicy().
	SkipElementsContent("nav", "header", "footer", "aside", "form")

type htmlBackend struct {
	fluid
}

func (b *htmlBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	data, err := os.ReadFile(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := structtext.Extract(bytes.NewReader(data), "text/html")
	if err != nil {
		return nil, fmt.Errorf("extract html: %w", err)
	}
	if req.Mode == document.ModeCleanView {
		title := res.Title
		res, err = extractClean(data)
		if err != nil {
			return nil, err
		}
		res.Title = title
	}
	b.set(res, document.Metadata{Title: res.Title})
	return nil, nil
}

func (b *htmlBackend) ReadingModes() []document.ReadingMode {
	return []document.ReadingMode{document.ModeDefault, document.ModeCleanView}
}

// extractClean sanitizes the decoded markup before extraction. The sanitizer
// strips <title>, so callers restore it from the unsanitized pass.
func extractClean(data []byte) (*structtext.Result, error) {
	if len(data) == 0 {
		return structtext.NewExtractor().Result(), nil
	}
	rd, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return nil, fmt.Errorf("decode html: %w", err)
	}
	decoded, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("decode html: %w", err)
	}
	clean := cleanView.SanitizeBytes(decoded)
	res, err := structtext.Extract(bytes.NewReader(clean), "text/html; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("extract clean view: %w", err)
	}
	return res, nil
}
