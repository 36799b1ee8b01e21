package backend

import (
	"context"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/doctree"
)

// docxBackend never serves pages itself: it renders the document to HTML in
// the cache directory and redirects there.
type docxBackend struct{}

func (b *docxBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	f, err := os.Open(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat docx: %w", err)
	}
	doc, err := docx.Parse(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "<html><head><title>%s</title></head><body>", html.EscapeString(stem(req.URI.Path)))
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			writeDocxParagraph(&out, it)
		case *docx.Table:
			writeDocxTable(&out, it)
		}
	}
	out.WriteString("</body></html>")

	p, err := cacheFile(req.CacheDir, []byte(out.String()), ".html")
	if err != nil {
		return nil, err
	}
	return &document.Redirect{
		URI:    req.URI.CreateCopy("html", p, nil),
		Reason: "docx rendered as html",
	}, nil
}

func (b *docxBackend) PageCount() int { return 0 }

func (b *docxBackend) LoadPage(i int) (document.Page, error) {
	return nil, document.Errorf(document.KindNotSupported, "docx is served through its html rendition")
}

func (b *docxBackend) TOC() (*doctree.Tree, error) { return nil, nil }

func (b *docxBackend) Metadata() document.Metadata { return document.Metadata{} }

func (b *docxBackend) Close() error { return nil }

func writeDocxParagraph(out *strings.Builder, para *docx.Paragraph) {
	tag := "p"
	if level := docxHeadingLevel(para); level > 0 {
		tag = fmt.Sprintf("h%d", level)
	}
	out.WriteString("<" + tag + ">")
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		var text strings.Builder
		for _, rc := range run.Children {
			switch t := rc.(type) {
			case *docx.Text:
				text.WriteString(t.Text)
			case *docx.Tab:
				text.WriteString("\t")
			}
		}
		if text.Len() == 0 {
			continue
		}
		start, end := runEmphasis(run)
		out.WriteString(start + html.EscapeString(text.String()) + end)
	}
	out.WriteString("</" + tag + ">")
}

func writeDocxTable(out *strings.Builder, tbl *docx.Table) {
	out.WriteString("<table>")
	for _, row := range tbl.TableRows {
		out.WriteString("<tr>")
		for _, cell := range row.TableCells {
			out.WriteString("<td>")
			for _, para := range cell.Paragraphs {
				writeDocxParagraph(out, para)
			}
			out.WriteString("</td>")
		}
		out.WriteString("</tr>")
	}
	out.WriteString("</table>")
}

func runEmphasis(run *docx.Run) (start, end string) {
	props := run.RunProperties
	if props == nil {
		return "", ""
	}
	if props.Bold != nil {
		start, end = start+"<strong>", "</strong>"+end
	}
	if props.Italic != nil {
		start, end = start+"<em>", "</em>"+end
	}
	return start, end
}

// docxHeadingLevel recognises both style ids ("Heading2") and style names
// ("heading 2").
func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if style == "title" {
		return 1
	}
	if rest, ok := strings.CutPrefix(style, "heading"); ok && len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
		return int(rest[0] - '0')
	}
	return 0
}
