package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgallion1/bookcore/internal/docuri"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/worker"
)

// TaskName is the worker task a search runs as.
const TaskName = "search"

// Request is the wire form of a search. The document travels as its URI
// string and the worker opens its own instance in the given reading mode. Pages bounds a paginated scan;
// Range bounds the text of a single-page document. At most one may be set.
type Request struct {
	URI    string               `json:"uri"`
	Mode   document.ReadingMode `json:"mode,omitempty"`
	Query  Query                `json:"query"`
	Pages  *doctree.Pager       `json:"pages,omitempty"`
	Range  *doctree.TextRange   `json:"range,omitempty"`
	Radius int                  `json:"radius,omitempty"`
}

// Result is one match.
type Result struct {
	Page     int               `json:"page"`
	Position doctree.TextRange `json:"position"`
	Section  string            `json:"section"`
	Excerpt  string            `json:"excerpt"`
}

// PageResult is everything found on one page. Pages that could not be decoded
// are reported as skipped and the scan moves on.
type PageResult struct {
	Page    int      `json:"page"`
	Matches []Result `json:"matches,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Task returns the worker task that executes a Request.
func Task(open document.Opener) worker.Task {
	return func(ctx context.Context, args json.RawMessage, emit worker.Emitter) error {
		var req Request
		if err := json.Unmarshal(args, &req); err != nil {
			return fmt.Errorf("decode search request: %w", err)
		}
		re, err := Compile(req.Query)
		if err != nil {
			return err
		}
		uri, err := docuri.Parse(req.URI)
		if err != nil {
			return err
		}
		radius := req.Radius
		if radius <= 0 {
			radius = DefaultRadius
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
		toc, err := h.TOC()
		if err != nil {
			emit.Debugf("no toc, results carry no section: %v", err)
		}
		fluid := h.Capabilities().Has(document.CapSinglePage)

		if req.Range != nil && !fluid {
			return document.Errorf(document.KindInvalidRange, "text range on a %d page document", count)
		}
		pages := doctree.Pager{First: 0, Last: count - 1}
		if req.Pages != nil {
			pages.First = max(req.Pages.First, 0)
			pages.Last = min(req.Pages.Last, count-1)
		}
		emit.Debugf("searching %q over pages %v", req.Query.Term, pages)

		for i := pages.First; i <= pages.Last; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := h.PageText(i)
			if err != nil {
				if err := emit.Value(PageResult{Page: i, Skipped: true, Error: err.Error()}); err != nil {
					return err
				}
				continue
			}
			lo, hi := 0, len(text)
			if req.Range != nil {
				lo = min(max(req.Range.Start, 0), len(text))
				hi = min(max(req.Range.Stop, lo), len(text))
			}

			pr := PageResult{Page: i}
			for _, m := range re.FindAllStringIndex(text[lo:hi], -1) {
				if m[0] == m[1] {
					continue
				}
				pos := doctree.TextRange{Start: lo + m[0], Stop: lo + m[1]}
				pr.Matches = append(pr.Matches, Result{
					Page:     i,
					Position: pos,
					Section:  sectionTitle(toc, i, pos.Start, fluid),
					Excerpt:  Excerpt(text, pos.Start, pos.Stop, radius),
				})
			}
			if err := emit.Value(pr); err != nil {
				return err
			}
		}
		return nil
	}
}

// sectionTitle names the most specific section holding the match; the root
// does not count.
func sectionTitle(toc *doctree.Tree, page, pos int, fluid bool) string {
	if toc == nil {
		return ""
	}
	var s *doctree.Section
	if fluid {
		s = toc.SectionForPosition(pos)
	} else {
		s = toc.SectionForPage(page)
	}
	if s == nil || s.ID == doctree.RootID {
		return ""
	}
	return s.Title
}
