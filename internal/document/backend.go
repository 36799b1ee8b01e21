// Package document is the uniform model every format backend is adapted to: a
// Document of pages with a TOC tree, metadata, capabilities and a text-position
// index, independent of the format that produced it.
package document

import (
	"context"
	"log/slog"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/doctree"
)

// ReadingMode selects how flowing-text backends derive their text and TOC.
type ReadingMode string

const (
	ModeDefault   ReadingMode = "default"
	ModeCleanView ReadingMode = "clean_view"
)

// ReadRequest is everything a backend receives when asked to read.
type ReadRequest struct {
	URI      docuri.URI
	Mode     ReadingMode
	CacheDir string          // Scratch space for converted or extracted artifacts.
	Resolver docuri.Resolver // Resolves member suffixes for archive backends.
	Logger   *slog.Logger
}

// Redirect tells the caller to open a different URI instead, e.g. an archive
// member or the HTML rendition of a DOCX file.
type Redirect struct {
	URI    docuri.URI `json:"uri"`
	Reason string     `json:"reason"`
}

// Backend is what a format implements. Read is called exactly once and does all
// parsing; every other method is only called after a successful Read.
type Backend interface {
	Read(ctx context.Context, req ReadRequest) (*Redirect, error)
	PageCount() int
	LoadPage(i int) (Page, error)
	TOC() (*doctree.Tree, error)
	Metadata() Metadata
	Close() error
}

// Page is one page of a document. Fluid documents have exactly one.
type Page interface {
	Index() int
	Text() (string, error)
}

// Metadata describes a document.
type Metadata struct {
	Title           string `json:"title,omitempty"`
	Author          string `json:"author,omitempty"`
	Publisher       string `json:"publisher,omitempty"`
	PublicationYear int    `json:"publication_year,omitempty"`
	ISBN            string `json:"isbn,omitempty"`
	Language        string `json:"language,omitempty"`
}

// LinkTarget is where activating a link leads.
type LinkTarget struct {
	URL        string `json:"url"`
	IsExternal bool   `json:"is_external"`
	Page       int    `json:"page"`
	Position   int    `json:"position"`
}
