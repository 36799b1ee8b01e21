package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

type markdownBackend struct {
	fluid
}

// Read renders the source to HTML and extracts that. Auto heading ids make
// "#section-name" links resolvable.
func (b *markdownBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	src, err := os.ReadFile(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	res, err := structtext.Extract(&buf, "text/html; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("extract markdown: %w", err)
	}
	title := stem(req.URI.Path)
	if len(res.Headings) > 0 && res.Headings[0].Title != "" {
		title = res.Headings[0].Title
	}
	b.set(res, document.Metadata{Title: title})
	return nil, nil
}
