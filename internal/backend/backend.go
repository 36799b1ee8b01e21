// Package backend holds the format implementations behind the document contract
// and the default registration table that orders them.
package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

// Options configure the default backends.
type Options struct {
	// FallbackPdftotext shells out to pdftotext when the native PDF reader fails.
	FallbackPdftotext bool
	Logger            *slog.Logger
}

const fluidCaps = document.CapTOCTree | document.CapMetadata | document.CapSinglePage |
	document.CapStructuredNavigation | document.CapTextStyle | document.CapLinks | document.CapInternalAnchors

// Descriptors returns the built-in backends in priority order. Compound
// extensions come before the containers they live in.
func Descriptors(opts Options) []document.Descriptor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return []document.Descriptor{
		{
			Format:       "fb2",
			Name:         "FictionBook",
			Extensions:   []string{"*.fb2", "*.fb2.zip"},
			Capabilities: fluidCaps,
			New:          func() document.Backend { return &fb2Backend{} },
		},
		{
			Format:       "epub",
			Name:         "EPUB",
			Extensions:   []string{"*.epub"},
			Capabilities: fluidCaps | document.CapAsyncRead,
			New:          func() document.Backend { return &epubBackend{} },
		},
		{
			Format:       "pdf",
			Name:         "PDF",
			Extensions:   []string{"*.pdf"},
			Capabilities: document.CapTOCTree | document.CapMetadata | document.CapAsyncRead,
			New: func() document.Backend {
				return &pdfBackend{fallback: opts.FallbackPdftotext, log: opts.Logger}
			},
		},
		{
			Format:     "docx",
			Name:       "Word document",
			Extensions: []string{"*.docx"},
			New:        func() document.Backend { return &docxBackend{} },
		},
		{
			Format:       "odt",
			Name:         "OpenDocument text",
			Extensions:   []string{"*.odt"},
			Capabilities: fluidCaps,
			New:          func() document.Backend { return &odtBackend{} },
		},
		{
			Format:       "html",
			Name:         "HTML",
			Extensions:   []string{"*.html", "*.htm", "*.xhtml"},
			Capabilities: fluidCaps,
			New:          func() document.Backend { return &htmlBackend{} },
		},
		{
			Format:       "markdown",
			Name:         "Markdown",
			Extensions:   []string{"*.md", "*.markdown"},
			Capabilities: fluidCaps,
			New:          func() document.Backend { return &markdownBackend{} },
		},
		{
			Format:       "txt",
			Name:         "Plain text",
			Extensions:   []string{"*.txt", "*.text"},
			Capabilities: document.CapTOCTree | document.CapSinglePage,
			New:          func() document.Backend { return &textBackend{} },
		},
		{
			Format:       "csv",
			Name:         "CSV",
			Extensions:   []string{"*.csv"},
			Capabilities: document.CapTOCTree | document.CapSinglePage | document.CapStructuredNavigation,
			New:          func() document.Backend { return &csvBackend{} },
		},
		{
			Format:     "zip",
			Name:       "ZIP archive",
			Extensions: []string{"*.zip"},
			New:        func() document.Backend { return &zipBackend{} },
		},
	}
}

// Default builds a registry holding every built-in backend.
func Default(opts Options) *document.Registry {
	reg := document.NewRegistry()
	for _, d := range Descriptors(opts) {
		reg.MustRegister(d)
	}
	return reg
}

// fluid is embedded by every backend that reduces its input to one HTML-derived page.
type fluid struct {
	*document.Fluid
}

func (f *fluid) Close() error { return nil }

func (f *fluid) set(res *structtext.Result, meta document.Metadata) {
	f.Fluid = document.NewFluid(res, meta)
}

// stem strips directories and every extension: "a/b.fb2.zip" becomes "b".
func stem(p string) string {
	base := filepath.Base(p)
	if i := strings.IndexByte(base[min(1, len(base)):], '.'); i >= 0 {
		return base[:i+1]
	}
	return base
}

// cacheFile writes data under dir, named by its content hash, and returns the
// path. Existing files with the same content are reused.
func cacheFile(dir string, data []byte, ext string) (string, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "bookcore")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	sum := sha256.Sum256(data)
	p := filepath.Join(dir, hex.EncodeToString(sum[:12])+ext)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename cache file: %w", err)
	}
	return p, nil
}
