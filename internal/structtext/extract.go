// Package structtext flattens an HTML tree into readable text while recording where
// each semantic and typographic feature lands in that text.
package structtext

import (
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/dgallion1/bookcore/internal/doctree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// ErrParse is returned when markup cannot be decoded at all.
var ErrParse = errors.New("structured text: parse failed")

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
}

type sep int

const (
	sepNone sep = iota
	sepSpace
	sepLine
	sepBlank
)

var sepText = [...]string{sepNone: "", sepSpace: " ", sepLine: "\n", sepBlank: "\n\n"}

type frame struct {
	semantic []Category
	style    []Category
	level    int
	href     string
	id       string
	start    int
}

// Extractor accumulates one or more HTML trees into a single flattened buffer.
// Offsets are byte offsets into the final text: separators are held pending and
// written only in front of the next visible character, so nothing recorded ever
// shifts.
type Extractor struct {
	buf      strings.Builder
	pending  sep
	raw      []byte // preformatted whitespace awaiting the next character
	pre      int
	frames   []frame
	marks    []string
	title    string
	semantic RangeMap
	style    RangeMap
	links    []Link
	anchors  map[string]doctree.TextRange
	headings []Heading
}

// NewExtractor returns an empty extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		semantic: RangeMap{},
		style:    RangeMap{},
		anchors:  map[string]doctree.TextRange{},
	}
}

// Extract decodes r (honouring contentType and any <meta charset>) and extracts it.
// On failure the returned Result is empty and the error wraps ErrParse.
func Extract(r io.Reader, contentType string) (*Result, error) {
	rd, err := charset.NewReader(r, contentType)
	if errors.Is(err, io.EOF) {
		// Empty input is an empty document.
		return NewExtractor().Result(), nil
	}
	if err != nil {
		return NewExtractor().Result(), fmt.Errorf("%w: %w", ErrParse, err)
	}
	doc, err := html.Parse(rd)
	if err != nil {
		return NewExtractor().Result(), fmt.Errorf("%w: %w", ErrParse, err)
	}
	return ExtractNode(doc), nil
}

// ExtractNode extracts an already parsed tree.
func ExtractNode(n *html.Node) *Result {
	e := NewExtractor()
	e.Append(n, "")
	return e.Result()
}

// Append walks n into the buffer. A non-empty prefix namespaces the anchors and
// relative links of n so several documents can share one buffer: an element id
// "x" is recorded as "prefix#x".
func (e *Extractor) Append(n *html.Node, prefix string) {
	if e.title == "" {
		e.title = findTitle(n)
	}
	e.pend(sepBlank)
	e.walk(n, prefix)
	e.pend(sepBlank)
}

// Mark records name as an anchor at the position of the next visible character.
func (e *Extractor) Mark(name string) {
	e.marks = append(e.marks, name)
}

// Len is the current length of the flattened text.
func (e *Extractor) Len() int { return e.buf.Len() }

// Result finalizes the buffer. Pending marks land at the end of the text.
func (e *Extractor) Result() *Result {
	e.flushMarks(e.buf.Len())
	return &Result{
		Title:    e.title,
		Text:     e.buf.String(),
		Semantic: e.semantic,
		Style:    e.style,
		Links:    e.links,
		Anchors:  e.anchors,
		Headings: e.headings,
	}
}

func (e *Extractor) walk(n *html.Node, prefix string) {
	switch n.Type {
	case html.TextNode:
		e.text(n.Data)
		return
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			e.walk(c, prefix)
		}
		return
	case html.ElementNode:
	default:
		return
	}

	if skipped(n) {
		return
	}
	switch n.DataAtom {
	case atom.Br:
		e.lineBreak()
		return
	case atom.Hr:
		e.pend(sepLine)
		return
	}

	f := frame{start: -1}
	classify(n, &f)
	for _, a := range n.Attr {
		switch {
		case a.Key == "id" && a.Val != "":
			f.id = anchorName(prefix, a.Val)
		case a.Key == "name" && n.DataAtom == atom.A && a.Val != "" && f.id == "":
			f.id = anchorName(prefix, a.Val)
		case a.Key == "href" && n.DataAtom == atom.A && a.Val != "":
			f.href = rewriteHref(prefix, a.Val)
			f.semantic = append(f.semantic, LinkRange)
		}
	}

	block := isBlock(n.DataAtom)
	if block {
		e.pend(sepLine)
	}
	if n.DataAtom == atom.Pre {
		e.pre++
	}
	e.frames = append(e.frames, f)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c, prefix)
	}
	f = e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if n.DataAtom == atom.Pre {
		e.pre--
		if e.pre == 0 {
			// Whitespace ending a pre never reaches the next block.
			e.raw = e.raw[:0]
		}
	}
	e.close(f)

	switch {
	case block:
		e.pend(sepLine)
	case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
		e.pend(sepSpace)
	}
}

func (e *Extractor) text(s string) {
	for _, r := range s {
		switch {
		case e.pre > 0 && (r == ' ' || r == '\t' || r == '\n'):
			e.raw = append(e.raw, byte(r))
		case unicode.IsSpace(r):
			e.pend(sepSpace)
		case r == '\u00ad' || r == '\u200b' || r == '\ufeff' || unicode.IsControl(r):
		default:
			e.emit(r)
		}
	}
}

func (e *Extractor) pend(s sep) {
	e.pending = max(e.pending, s)
}

// lineBreak escalates the pending separator by one line, capped at a blank line.
func (e *Extractor) lineBreak() {
	if e.pending < sepLine {
		e.pending = sepLine
	} else {
		e.pending = sepBlank
	}
}

func (e *Extractor) emit(r rune) {
	if e.buf.Len() > 0 {
		if len(e.raw) > 0 {
			if e.pending >= sepLine && e.raw[0] != '\n' {
				e.buf.WriteByte('\n')
			}
			e.buf.Write(e.raw)
		} else {
			e.buf.WriteString(sepText[e.pending])
		}
	}
	e.pending = sepNone
	e.raw = e.raw[:0]

	pos := e.buf.Len()
	for i := len(e.frames) - 1; i >= 0 && e.frames[i].start < 0; i-- {
		e.frames[i].start = pos
	}
	e.flushMarks(pos)
	e.buf.WriteRune(r)
}

func (e *Extractor) flushMarks(pos int) {
	for _, m := range e.marks {
		if _, ok := e.anchors[m]; !ok {
			e.anchors[m] = doctree.TextRange{Start: pos, Stop: pos}
		}
	}
	e.marks = e.marks[:0]
}

func (e *Extractor) close(f frame) {
	if f.start < 0 {
		// Nothing visible inside; an id still resolves to where the next text lands.
		if f.id != "" {
			e.marks = append(e.marks, f.id)
		}
		return
	}
	r := doctree.TextRange{Start: f.start, Stop: e.buf.Len()}
	for _, c := range f.semantic {
		e.semantic.add(c, r)
	}
	for _, c := range f.style {
		e.style.add(c, r)
	}
	if f.href != "" {
		e.links = append(e.links, Link{Range: r, Href: f.href})
	}
	if f.id != "" {
		if _, ok := e.anchors[f.id]; !ok {
			e.anchors[f.id] = r
		}
	}
	if f.level > 0 {
		e.headings = append(e.headings, Heading{
			Level: f.level,
			Title: strings.Join(strings.Fields(r.Slice(e.buf.String())), " "),
			Range: r,
		})
	}
}

func classify(n *html.Node, f *frame) {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		f.level = int(n.Data[1] - '0')
		f.semantic = append(f.semantic, HeadingLevel(f.level), HeadingAny)
	case atom.Ul, atom.Ol, atom.Dl:
		f.semantic = append(f.semantic, List)
	case atom.Li, atom.Dt, atom.Dd:
		f.semantic = append(f.semantic, ListItem)
	case atom.Blockquote, atom.Q:
		f.semantic = append(f.semantic, Quote)
	case atom.Table:
		f.semantic = append(f.semantic, Table)
	case atom.Pre:
		f.semantic = append(f.semantic, CodeBlock)
	case atom.Figure:
		f.semantic = append(f.semantic, Figure)
	case atom.P:
		f.semantic = append(f.semantic, Paragraph)
	case atom.B, atom.Strong:
		f.style = append(f.style, Bold)
	case atom.I, atom.Em, atom.Cite, atom.Dfn, atom.Var:
		f.style = append(f.style, Italic)
	case atom.U, atom.Ins:
		f.style = append(f.style, Underline)
	case atom.S, atom.Strike, atom.Del:
		f.style = append(f.style, Strikethrough)
	case atom.Mark:
		f.style = append(f.style, Highlight)
	case atom.Sup:
		f.style = append(f.style, Superscript)
	case atom.Sub:
		f.style = append(f.style, Subscript)
	case atom.Big:
		f.style = append(f.style, DisplayLarge)
	case atom.Small:
		f.style = append(f.style, DisplaySmall)
	}
}

func skipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg,
		atom.Input, atom.Select, atom.Option, atom.Textarea, atom.Button, atom.Iframe:
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "hidden" {
			return true
		}
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Address, atom.Article, atom.Aside, atom.Blockquote, atom.Body, atom.Caption,
		atom.Dd, atom.Details, atom.Dialog, atom.Div, atom.Dl, atom.Dt, atom.Fieldset,
		atom.Figcaption, atom.Figure, atom.Footer, atom.Form, atom.H1, atom.H2, atom.H3,
		atom.H4, atom.H5, atom.H6, atom.Header, atom.Li, atom.Main, atom.Nav, atom.Ol,
		atom.P, atom.Pre, atom.Section, atom.Summary, atom.Table, atom.Tbody, atom.Tfoot,
		atom.Thead, atom.Tr, atom.Ul:
		return true
	}
	return false
}

func anchorName(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "#" + id
}

// rewriteHref resolves a link against the document it was found in so it can be
// looked up in the shared anchor table.
func rewriteHref(prefix, href string) string {
	if prefix == "" || IsExternal(href) {
		return href
	}
	if strings.HasPrefix(href, "#") {
		return prefix + href
	}
	target, frag, _ := strings.Cut(href, "#")
	target = path.Join(path.Dir(prefix), target)
	if frag != "" {
		return target + "#" + frag
	}
	return target
}

// IsExternal reports whether href leaves the document.
func IsExternal(href string) bool {
	if i := strings.Index(href, ":"); i > 0 {
		scheme := href[:i]
		return !strings.ContainsAny(scheme, "/#?")
	}
	return strings.HasPrefix(href, "//")
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		return strings.Join(strings.Fields(sb.String()), " ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
