package backend

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

type odtMeta struct {
	Title          string `xml:"meta>title"`
	Creator        string `xml:"meta>creator"`
	InitialCreator string `xml:"meta>initial-creator"`
	Language       string `xml:"meta>language"`
	CreationDate   string `xml:"meta>creation-date"`
}

func (m odtMeta) metadata() document.Metadata {
	author := strings.TrimSpace(m.InitialCreator)
	if author == "" {
		author = strings.TrimSpace(m.Creator)
	}
	return document.Metadata{
		Title:           strings.TrimSpace(m.Title),
		Author:          author,
		PublicationYear: leadingYear(m.CreationDate),
		Language:        strings.TrimSpace(m.Language),
	}
}

var odtTags = map[string]string{
	"p":          "p",
	"list":       "ul",
	"list-item":  "li",
	"table":      "table",
	"table-row":  "tr",
	"table-cell": "td",
	"note-body":  "div",
}

var odtSkipped = map[string]bool{
	"note-citation":   true,
	"annotation":      true,
	"tracked-changes": true,
	"image":           true,
	"sequence-decls":  true,
}

type odtBackend struct {
	fluid
}

func (b *odtBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	zr, err := zip.OpenReader(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("open odt: %w", err)
	}
	defer zr.Close()

	var meta document.Metadata
	if rc, err := zr.Open("meta.xml"); err == nil {
		var m odtMeta
		if err := xml.NewDecoder(rc).Decode(&m); err == nil {
			meta = m.metadata()
		}
		rc.Close()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := zr.Open("content.xml")
	if err != nil {
		return nil, fmt.Errorf("odt content: %w", err)
	}
	defer rc.Close()
	res, err := parseODT(rc)
	if err != nil {
		return nil, err
	}
	if meta.Title == "" {
		meta.Title = stem(req.URI.Path)
	}
	b.set(res, meta)
	return nil, nil
}

// parseODT renders office:text as HTML. Automatic styles are consulted so spans
// set in bold or italic keep their emphasis.
func parseODT(r io.Reader) (*structtext.Result, error) {
	d := xml.NewDecoder(r)
	w := newHTMLWriter()
	styles := map[string]string{}
	var styleName string
	inText := false

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse odt: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if odtSkipped[name] {
				if err := d.Skip(); err != nil {
					return nil, fmt.Errorf("parse odt: %w", err)
				}
				continue
			}
			switch {
			case name == "style":
				styleName = attr(t, "name")
				w.open("")
			case name == "text-properties":
				if tag := emphasisTag(t); tag != "" && styleName != "" {
					styles[styleName] = tag
				}
				w.open("")
			case name == "text" && t.Name.Space == "urn:oasis:names:tc:opendocument:xmlns:office:1.0":
				inText = true
				w.open("")
			case !inText:
				w.open("")
			case name == "h":
				level, _ := strconv.Atoi(attr(t, "outline-level"))
				w.open(fmt.Sprintf("h%d", min(max(level, 1), 6)))
			case name == "span":
				w.open(styles[attr(t, "style-name")])
			case name == "a":
				w.open("a", "href", attr(t, "href"))
			case name == "bookmark" || name == "bookmark-start":
				w.anchor(attr(t, "name"))
				w.open("")
			case name == "s":
				n, _ := strconv.Atoi(attr(t, "c"))
				w.text(strings.Repeat(" ", max(n, 1)))
				w.open("")
			case name == "tab":
				w.text("\t")
				w.open("")
			case name == "line-break":
				w.void("br")
				w.open("")
			default:
				w.open(odtTags[name])
			}
		case xml.EndElement:
			if t.Name.Local == "style" {
				styleName = ""
			}
			w.close()
		case xml.CharData:
			if inText {
				w.text(string(t))
			}
		}
	}

	res, err := structtext.Extract(w.reader(), "text/html; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("extract odt: %w", err)
	}
	return res, nil
}

func emphasisTag(t xml.StartElement) string {
	switch {
	case attr(t, "font-weight") == "bold":
		return "strong"
	case attr(t, "font-style") == "italic":
		return "em"
	}
	return ""
}
