package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/doctree"
)

// pdfBackend is the paginated backend. Text comes from ledongthuc/pdf page by
// page; the outline comes from pdfcpu. When the native reader cannot open the
// file and the fallback is enabled, pdftotext output split on form feeds
// stands in for the pages.
type pdfBackend struct {
	fallback bool
	log      *slog.Logger

	mu       sync.Mutex // guards reader, which is not safe for concurrent use
	file     *os.File
	reader   *pdflib.Reader
	extPages []string

	pages int
	meta  document.Metadata
	toc   *doctree.Tree
}

type pdfPage struct {
	index int
	text  string
}

func (p *pdfPage) Index() int { return p.index }
func (p *pdfPage) Text() (string, error) { return p.text, nil }

func (b *pdfBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	if req.Logger != nil {
		b.log = req.Logger
	}
	password := req.URI.Arg("password")

	if err := b.open(req.URI.Path, password); err != nil {
		if document.KindOf(err) == document.KindEncrypted || !b.fallback {
			return nil, err
		}
		b.log.Warn("native pdf reader failed, using pdftotext", "path", req.URI.Path, "error", err)
		text, ferr := extractPdftotext(ctx, req.URI.Path, password)
		if ferr != nil {
			return nil, fmt.Errorf("%w (fallback: %v)", err, ferr)
		}
		b.extPages = strings.Split(strings.TrimSuffix(text, "\f"), "\f")
		b.pages = len(b.extPages)
	}
	if err := ctx.Err(); err != nil {
		b.Close()
		return nil, err
	}

	if b.meta.Title == "" {
		b.meta.Title = stem(req.URI.Path)
	}
	b.toc = b.outline(req.URI.Path, password)
	return nil, nil
}

func (b *pdfBackend) open(p, password string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat pdf: %w", err)
	}
	// The reader asks for a password until it gets an empty one.
	asked := false
	r, err := pdflib.NewReaderEncrypted(f, fi.Size(), func() string {
		if asked {
			return ""
		}
		asked = true
		return password
	})
	if err != nil {
		f.Close()
		if errors.Is(err, pdflib.ErrInvalidPassword) {
			return document.Errorf(document.KindEncrypted, "pdf needs a password: %w", err)
		}
		return fmt.Errorf("parse pdf: %w", err)
	}
	b.file, b.reader = f, r
	b.pages = r.NumPage()
	b.meta = pdfInfo(r)
	return nil
}

// pdfInfo reads the document information dictionary.
func pdfInfo(r *pdflib.Reader) document.Metadata {
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return document.Metadata{}
	}
	text := func(key string) string { return strings.TrimSpace(info.Key(key).Text()) }
	return document.Metadata{
		Title:           text("Title"),
		Author:          text("Author"),
		PublicationYear: leadingYear(strings.TrimPrefix(text("CreationDate"), "D:")),
	}
}

// outline builds the TOC from the bookmark tree. A missing or unreadable
// outline leaves the document with the default TOC.
func (b *pdfBackend) outline(p, password string) *doctree.Tree {
	if b.pages == 0 {
		return nil
	}
	f, err := os.Open(p)
	if err != nil {
		return nil
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.UserPW, conf.OwnerPW = password, password
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		b.log.Debug("pdf outline unavailable", "path", p, "error", err)
		return nil
	}
	marks, err := pdfcpu.Bookmarks(pctx)
	if err != nil || len(marks) == 0 {
		return nil
	}

	tree := doctree.NewTree(b.meta.Title, doctree.Pager{First: 0, Last: b.pages - 1})
	builder := doctree.NewBuilder(tree)
	var walk func([]pdfcpu.Bookmark, int)
	walk = func(marks []pdfcpu.Bookmark, level int) {
		for _, m := range marks {
			page := min(max(m.PageFrom-1, 0), b.pages-1)
			builder.PushOpen(doctree.Section{
				Title: strings.TrimSpace(m.Title),
				Level: level,
				Pager: doctree.Pager{First: page, Last: page},
				Data:  map[string]string{"page": strconv.Itoa(page + 1)},
			})
			walk(m.Kids, level+1)
		}
	}
	walk(marks, 1)
	return builder.Finish(0, b.pages-1)
}

func (b *pdfBackend) PageCount() int { return b.pages }

func (b *pdfBackend) LoadPage(i int) (_ document.Page, err error) {
	if i < 0 || i >= b.pages {
		return nil, document.Errorf(document.KindPagination, "page %d out of range [0, %d)", i, b.pages)
	}
	if b.extPages != nil {
		return &pdfPage{index: i, text: b.extPages[i]}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reader == nil {
		return nil, document.Errorf(document.KindClosed, "pdf is closed")
	}
	// Malformed content streams can panic deep inside the parser.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract page %d: %v", i+1, r)
		}
	}()
	page := b.reader.Page(i + 1)
	if page.V.IsNull() {
		return &pdfPage{index: i}, nil
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", i+1, err)
	}
	return &pdfPage{index: i, text: text}, nil
}

func (b *pdfBackend) TOC() (*doctree.Tree, error) { return b.toc, nil }

func (b *pdfBackend) Metadata() document.Metadata { return b.meta }

func (b *pdfBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reader = nil
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

func extractPdftotext(ctx context.Context, path, password string) (string, error) {
	args := []string{"-layout"}
	if password != "" {
		args = append(args, "-upw", password)
	}
	args = append(args, path, "-")
	out, err := exec.CommandContext(ctx, "pdftotext", args...).Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}
