package pipeline

import (
	"html"
	"slices"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/structtext"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// pageMarkdown converts a structured page to Markdown.
func pageMarkdown(res *structtext.Result) (string, error) {
	md, err := mdConverter.ConvertString(pageHTML(res))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// pageHTML rebuilds minimal HTML from flattened text: one block per line,
// tagged by the semantic category covering the line start, with bold, italic
// and links restored inline.
func pageHTML(res *structtext.Result) string {
	var sb strings.Builder
	container := ""
	closeContainer := func() {
		if container != "" {
			sb.WriteString("</" + container + ">")
			container = ""
		}
	}
	openContainer := func(tag string) {
		if container != tag {
			closeContainer()
			sb.WriteString("<" + tag + ">")
			container = tag
		}
	}

	in := newInlineRenderer(res)
	start := 0
	for start <= len(res.Text) {
		end := strings.IndexByte(res.Text[start:], '\n')
		if end < 0 {
			end = len(res.Text)
		} else {
			end += start
		}
		if end > start {
			cats := res.Semantic.At(start)
			inline := in.render(start, end)
			switch {
			case headingLevel(cats) > 0:
				closeContainer()
				h := "h" + strconv.Itoa(headingLevel(cats))
				sb.WriteString("<" + h + ">" + inline + "</" + h + ">")
			case slices.Contains(cats, structtext.CodeBlock):
				if container == "pre" {
					sb.WriteString("\n")
				}
				openContainer("pre")
				sb.WriteString(html.EscapeString(res.Text[start:end]))
			case slices.Contains(cats, structtext.ListItem):
				openContainer("ul")
				sb.WriteString("<li>" + inline + "</li>")
			case slices.Contains(cats, structtext.Quote):
				openContainer("blockquote")
				sb.WriteString("<p>" + inline + "</p>")
			default:
				closeContainer()
				sb.WriteString("<p>" + inline + "</p>")
			}
		}
		start = end + 1
	}
	closeContainer()
	return sb.String()
}

func headingLevel(cats []structtext.Category) int {
	for level := 1; level <= 6; level++ {
		if slices.Contains(cats, structtext.HeadingLevel(level)) {
			return level
		}
	}
	return 0
}

// span is a bold, italic or link range. Spans of one kind never overlap.
type span struct {
	doctree.TextRange
	href string
}

// spanCursor walks spans sorted by start. Lines are rendered in order, so the
// cursor only moves forward and a page costs one pass over its spans.
type spanCursor struct {
	spans []span
	i     int
}

func newCursor(spans []span) *spanCursor {
	slices.SortFunc(spans, func(a, b span) int { return a.Start - b.Start })
	return &spanCursor{spans: spans}
}

func (c *spanCursor) seek(pos int) {
	for c.i < len(c.spans) && c.spans[c.i].Stop <= pos {
		c.i++
	}
}

// at returns the span covering pos. pos must not decrease between calls.
func (c *spanCursor) at(pos int) (span, bool) {
	c.seek(pos)
	if c.i < len(c.spans) && c.spans[c.i].Start <= pos {
		return c.spans[c.i], true
	}
	return span{}, false
}

// cuts appends the span bounds strictly inside (start, end).
func (c *spanCursor) cuts(dst []int, start, end int) []int {
	c.seek(start)
	for j := c.i; j < len(c.spans) && c.spans[j].Start < end; j++ {
		for _, b := range []int{c.spans[j].Start, c.spans[j].Stop} {
			if b > start && b < end {
				dst = append(dst, b)
			}
		}
	}
	return dst
}

type inlineRenderer struct {
	text                string
	bold, italic, links *spanCursor
}

func newInlineRenderer(res *structtext.Result) *inlineRenderer {
	style := func(c structtext.Category) *spanCursor {
		rs := res.Style.Get(c)
		spans := make([]span, len(rs))
		for i, r := range rs {
			spans[i] = span{TextRange: r}
		}
		return newCursor(spans)
	}
	links := make([]span, len(res.Links))
	for i, l := range res.Links {
		links[i] = span{TextRange: l.Range, href: l.Href}
	}
	return &inlineRenderer{
		text:   res.Text,
		bold:   style(structtext.Bold),
		italic: style(structtext.Italic),
		links:  newCursor(links),
	}
}

// render renders text[start:end], cutting it wherever emphasis or a link begins
// or ends.
func (in *inlineRenderer) render(start, end int) string {
	cuts := []int{start, end}
	cuts = in.bold.cuts(cuts, start, end)
	cuts = in.italic.cuts(cuts, start, end)
	cuts = in.links.cuts(cuts, start, end)
	slices.Sort(cuts)
	cuts = slices.Compact(cuts)

	var sb strings.Builder
	for i := 0; i+1 < len(cuts); i++ {
		a, b := cuts[i], cuts[i+1]
		seg := html.EscapeString(in.text[a:b])
		if _, ok := in.italic.at(a); ok {
			seg = "<em>" + seg + "</em>"
		}
		if _, ok := in.bold.at(a); ok {
			seg = "<strong>" + seg + "</strong>"
		}
		if l, ok := in.links.at(a); ok {
			seg = `<a href="` + html.EscapeString(l.href) + `">` + seg + "</a>"
		}
		sb.WriteString(seg)
	}
	return sb.String()
}
