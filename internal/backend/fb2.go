package backend

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

type fb2Author struct {
	First  string `xml:"first-name"`
	Middle string `xml:"middle-name"`
	Last   string `xml:"last-name"`
	Nick   string `xml:"nickname"`
}

func (a fb2Author) String() string {
	name := strings.Join(strings.Fields(strings.Join([]string{a.First, a.Middle, a.Last}, " ")), " ")
	if name == "" {
		return strings.TrimSpace(a.Nick)
	}
	return name
}

type fb2Description struct {
	TitleInfo struct {
		BookTitle string      `xml:"book-title"`
		Authors   []fb2Author `xml:"author"`
		Lang      string      `xml:"lang"`
		Date      string      `xml:"date"`
	} `xml:"title-info"`
	PublishInfo struct {
		Publisher string `xml:"publisher"`
		Year      string `xml:"year"`
		ISBN      string `xml:"isbn"`
	} `xml:"publish-info"`
}

func (d fb2Description) metadata() document.Metadata {
	ti, pi := d.TitleInfo, d.PublishInfo
	var authors []string
	for _, a := range ti.Authors {
		if s := a.String(); s != "" {
			authors = append(authors, s)
		}
	}
	return document.Metadata{
		Title:           strings.TrimSpace(ti.BookTitle),
		Author:          strings.Join(authors, ", "),
		Publisher:       strings.TrimSpace(pi.Publisher),
		PublicationYear: leadingYear(pi.Year, ti.Date),
		ISBN:            strings.TrimSpace(pi.ISBN),
		Language:        strings.TrimSpace(ti.Lang),
	}
}

// leadingYear returns the first candidate that starts with four digits.
func leadingYear(candidates ...string) int {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if len(c) < 4 {
			continue
		}
		if y, err := strconv.Atoi(c[:4]); err == nil && y > 0 {
			return y
		}
	}
	return 0
}

// fb2Tags maps FictionBook inline and block elements onto HTML.
var fb2Tags = map[string]string{
	"p":             "p",
	"v":             "p",
	"subtitle":      "h6",
	"text-author":   "p",
	"emphasis":      "em",
	"strong":        "strong",
	"strikethrough": "s",
	"sup":           "sup",
	"sub":           "sub",
	"code":          "code",
	"poem":          "div",
	"stanza":        "div",
	"epigraph":      "blockquote",
	"cite":          "blockquote",
	"annotation":    "div",
	"table":         "table",
	"tr":            "tr",
	"td":            "td",
	"th":            "th",
}

type fb2Backend struct {
	fluid
}

func (b *fb2Backend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	data, err := readFB2(req.URI.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, meta, err := parseFB2(data)
	if err != nil {
		return nil, err
	}
	if meta.Title == "" {
		meta.Title = stem(req.URI.Path)
	}
	b.set(res, meta)
	return nil, nil
}

// readFB2 returns the book itself, unpacking it when it is the first .fb2
// member of a zip.
func readFB2(p string) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(p), ".zip") {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read fb2: %w", err)
		}
		return data, nil
	}
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open fb2 archive: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".fb2") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, document.Errorf(document.KindArchiveNoDocuments, "no .fb2 member in %s", p)
}

// parseFB2 translates the book into HTML in one token pass. Nested <section>
// depth sets the heading level of each <title>.
func parseFB2(data []byte) (*structtext.Result, document.Metadata, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false

	var meta document.Metadata
	w := newHTMLWriter()
	depth, inBody := 0, false
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, meta, fmt.Errorf("parse fb2: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch {
			case name == "description":
				var desc fb2Description
				if err := d.DecodeElement(&desc, &t); err != nil {
					return nil, meta, fmt.Errorf("parse fb2 description: %w", err)
				}
				meta = desc.metadata()
				continue
			case name == "binary" || name == "image" || name == "stylesheet":
				if err := d.Skip(); err != nil {
					return nil, meta, fmt.Errorf("parse fb2: %w", err)
				}
				continue
			case name == "body":
				inBody = true
				w.open("div", "id", attr(t, "id"))
			case !inBody:
				w.open("")
			case name == "section":
				depth++
				w.open("section", "id", attr(t, "id"))
			case name == "title":
				w.open(fmt.Sprintf("h%d", min(max(depth, 1), 6)), "id", attr(t, "id"))
			case name == "a":
				w.open("a", "href", attr(t, "href"), "id", attr(t, "id"))
			case name == "empty-line":
				w.void("br")
				w.open("")
			default:
				tag := fb2Tags[name]
				if tag == "" {
					w.open("")
					w.anchor(attr(t, "id"))
				} else {
					w.open(tag, "id", attr(t, "id"))
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "section":
				depth--
			case "body":
				inBody = false
			}
			w.close()
		case xml.CharData:
			if inBody {
				w.text(string(t))
			}
		}
	}

	res, err := structtext.Extract(w.reader(), "text/html; charset=utf-8")
	if err != nil {
		return nil, meta, fmt.Errorf("extract fb2: %w", err)
	}
	return res, meta, nil
}
