package document

import (
	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/structtext"
)

// Fluid implements the page side of a Backend for documents without native
// pagination: one page holding the whole extracted text, sections bounded by
// text ranges under the shared {0,0} pager. Backends embed it and set it in Read.
type Fluid struct {
	res  *structtext.Result
	meta Metadata
	toc  *doctree.Tree
}

// NewFluid wraps an extraction result. An empty meta.Title falls back to the
// document's own <title>.
func NewFluid(res *structtext.Result, meta Metadata) *Fluid {
	if meta.Title == "" {
		meta.Title = res.Title
	}
	return &Fluid{res: res, meta: meta}
}

func (f *Fluid) PageCount() int { return 1 }

func (f *Fluid) LoadPage(i int) (Page, error) {
	if i != 0 {
		return nil, Errorf(KindPagination, "page %d of a single-page document", i)
	}
	return &FluidPage{res: f.res}, nil
}

// TOC nests the headings found during extraction. Each heading's range runs
// until the next heading of the same or a shallower level.
func (f *Fluid) TOC() (*doctree.Tree, error) {
	if f.toc != nil {
		return f.toc, nil
	}
	root := doctree.NewTree(f.meta.Title, doctree.Pager{})
	root.Root().TextRange = &doctree.TextRange{Start: 0, Stop: len(f.res.Text)}
	b := doctree.NewBuilder(root)
	for _, h := range f.res.Headings {
		if h.Title == "" {
			continue
		}
		b.PushOpen(doctree.Section{
			Title:     h.Title,
			Level:     h.Level,
			TextRange: &doctree.TextRange{Start: h.Range.Start, Stop: h.Range.Start},
		})
	}
	f.toc = b.Finish(len(f.res.Text), 0)
	return f.toc, nil
}

func (f *Fluid) Metadata() Metadata { return f.meta }

// Result exposes the extraction for search and export.
func (f *Fluid) Result() *structtext.Result { return f.res }

// ResolveLink maps an internal href to a text position on page 0.
func (f *Fluid) ResolveLink(href string) (LinkTarget, error) {
	if structtext.IsExternal(href) {
		return LinkTarget{URL: href, IsExternal: true}, nil
	}
	r, ok := f.res.Resolve(href)
	if !ok {
		return LinkTarget{}, Errorf(KindPagination, "no anchor for %q", href)
	}
	return LinkTarget{URL: href, Page: 0, Position: r.Start}, nil
}

// FluidPage is the single page of a fluid document.
type FluidPage struct {
	res *structtext.Result
}

func (p *FluidPage) Index() int { return 0 }
func (p *FluidPage) Text() (string, error) { return p.res.Text, nil }
func (p *FluidPage) Semantic() structtext.RangeMap { return p.res.Semantic }
func (p *FluidPage) Style() structtext.RangeMap { return p.res.Style }
func (p *FluidPage) Links() []structtext.Link { return p.res.Links }
func (p *FluidPage) Result() *structtext.Result { return p.res }
