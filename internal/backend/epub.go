package backend

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/doctree"
	"github.com/dgallion1/bookcore/internal/structtext"
)

// Font obfuscation is the only encryption a reader can undo without keys.
var fontObfuscation = map[string]bool{
	"http://www.idpf.org/2008/embedding": true,
	"http://ns.adobe.com/pdf/enc#RC":     true,
}

type opfPackage struct {
	Metadata struct {
		Titles      []string `xml:"title"`
		Creators    []string `xml:"creator"`
		Publisher   string   `xml:"publisher"`
		Language    string   `xml:"language"`
		Dates       []string `xml:"date"`
		Identifiers []struct {
			Scheme string `xml:"scheme,attr"`
			Value  string `xml:",chardata"`
		} `xml:"identifier"`
	} `xml:"metadata"`
	Items []struct {
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
}

func (p opfPackage) metadata() document.Metadata {
	m := p.Metadata
	meta := document.Metadata{
		Publisher:       strings.TrimSpace(m.Publisher),
		Language:        strings.TrimSpace(m.Language),
		PublicationYear: leadingYear(m.Dates...),
	}
	if len(m.Titles) > 0 {
		meta.Title = strings.TrimSpace(m.Titles[0])
	}
	var creators []string
	for _, c := range m.Creators {
		if c = strings.TrimSpace(c); c != "" {
			creators = append(creators, c)
		}
	}
	meta.Author = strings.Join(creators, ", ")
	for _, id := range m.Identifiers {
		v := strings.TrimSpace(id.Value)
		switch {
		case strings.EqualFold(id.Scheme, "isbn"):
			meta.ISBN = v
		case strings.HasPrefix(strings.ToLower(v), "urn:isbn:"):
			meta.ISBN = v[len("urn:isbn:"):]
		}
	}
	return meta
}

// tocFile finds the NCX, or failing that the EPUB 3 navigation document.
func (p opfPackage) tocFile() (href string, nav bool) {
	for _, it := range p.Items {
		if it.MediaType == "application/x-dtbncx+xml" {
			return it.Href, false
		}
	}
	for _, it := range p.Items {
		if strings.Contains(" "+it.Properties+" ", " nav ") {
			return it.Href, true
		}
	}
	return "", false
}

type encryption struct {
	Methods []struct {
		Algorithm string `xml:"Algorithm,attr"`
	} `xml:"EncryptedData>EncryptionMethod"`
}

type ncxDoc struct {
	Points []ncxPoint `xml:"navMap>navPoint"`
}

type ncxPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxPoint `xml:"navPoint"`
}

// tocEntry is a navigation point with its target relative to the package
// document, the form spine items are prefixed with.
type tocEntry struct {
	title  string
	target string
	level  int
}

type epubBackend struct {
	fluid
	toc *doctree.Tree
}

// Read concatenates the spine into one text. Every item's anchors are prefixed
// with its manifest href and the item itself is marked at its first character,
// so both "ch2.xhtml" and "ch2.xhtml#sec" resolve.
func (b *epubBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	zr, err := zip.OpenReader(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer zr.Close()
	if err := checkEncryption(&zr.Reader); err != nil {
		return nil, err
	}

	rc, err := epub.OpenReader(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer rc.Close()
	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}
	book := rc.Rootfiles[0]
	opfDir := path.Dir(book.FullPath)

	var opf opfPackage
	if err := decodeMember(&zr.Reader, book.FullPath, &opf); err != nil {
		return nil, fmt.Errorf("parse package document: %w", err)
	}

	e := structtext.NewExtractor()
	for _, ref := range book.Spine.Itemrefs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ref.Item == nil {
			continue
		}
		node, err := parseItem(ref.Item)
		if err != nil {
			log.Warn("skipping spine item", "href", ref.Item.HREF, "error", err)
			continue
		}
		prefix := path.Clean(ref.Item.HREF)
		e.Mark(prefix)
		e.Append(node, prefix)
	}
	res := e.Result()

	meta := opf.metadata()
	if meta.Title == "" {
		meta.Title = stem(req.URI.Path)
	}
	b.set(res, meta)

	if href, nav := opf.tocFile(); href != "" {
		entries, err := readTOC(&zr.Reader, opfDir, href, nav)
		if err != nil {
			log.Warn("ignoring epub table of contents", "href", href, "error", err)
		} else if len(entries) > 0 {
			b.toc = buildTOC(meta.Title, res, entries)
		}
	}
	return nil, nil
}

// TOC prefers the navigation document and falls back to headings.
func (b *epubBackend) TOC() (*doctree.Tree, error) {
	if b.toc != nil {
		return b.toc, nil
	}
	return b.Fluid.TOC()
}

func checkEncryption(zr *zip.Reader) error {
	var enc encryption
	if err := decodeMember(zr, "META-INF/encryption.xml", &enc); err != nil {
		return nil
	}
	for _, m := range enc.Methods {
		if !fontObfuscation[m.Algorithm] {
			return document.Errorf(document.KindRestricted, "epub content is encrypted with %s", m.Algorithm)
		}
	}
	return nil
}

func decodeMember(zr *zip.Reader, name string, v any) error {
	f, err := zr.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	d := xml.NewDecoder(f)
	d.CharsetReader = charset.NewReaderLabel
	return d.Decode(v)
}

func parseItem(item *epub.Item) (*html.Node, error) {
	r, err := item.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rd, err := charset.NewReader(r, "application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	return html.Parse(rd)
}

// readTOC flattens the NCX or nav document in reading order. Targets are
// rewritten relative to opfDir.
func readTOC(zr *zip.Reader, opfDir, href string, nav bool) ([]tocEntry, error) {
	name := path.Join(opfDir, href)
	tocDir := path.Dir(href)
	var entries []tocEntry
	add := func(title, src string, level int) {
		title = strings.Join(strings.Fields(title), " ")
		if title == "" {
			return
		}
		if src != "" && !structtext.IsExternal(src) {
			src = strings.TrimSuffix(path.Join(tocDir, src), "#")
		}
		entries = append(entries, tocEntry{title: title, target: src, level: level})
	}

	if !nav {
		var doc ncxDoc
		if err := decodeMember(zr, name, &doc); err != nil {
			return nil, err
		}
		var walk func([]ncxPoint, int)
		walk = func(points []ncxPoint, level int) {
			for _, p := range points {
				add(p.Label, p.Content.Src, level)
				walk(p.Children, level+1)
			}
		}
		walk(doc.Points, 1)
		return entries, nil
	}

	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	root, err := html.Parse(f)
	if err != nil {
		return nil, err
	}
	if toc := findNav(root); toc != nil {
		walkNavList(toc, 1, add)
	}
	return entries, nil
}

func findNav(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
		for _, a := range n.Attr {
			if (a.Key == "epub:type" || a.Key == "type") && a.Val == "toc" {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNav(c); found != nil {
			return found
		}
	}
	return nil
}

// walkNavList visits <li> entries of the nested <ol> lists under n.
func walkNavList(n *html.Node, level int, add func(title, src string, level int)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Li:
			for l := c.FirstChild; l != nil; l = l.NextSibling {
				if l.Type != html.ElementNode {
					continue
				}
				switch l.DataAtom {
				case atom.A:
					add(nodeText(l), attrOf(l, "href"), level)
				case atom.Span:
					add(nodeText(l), "", level)
				case atom.Ol, atom.Ul:
					walkNavList(l, level+1, add)
				}
			}
		default:
			walkNavList(c, level, add)
		}
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// buildTOC positions every entry at its resolved anchor. Entries whose target
// cannot be found start where the previous one did.
func buildTOC(title string, res *structtext.Result, entries []tocEntry) *doctree.Tree {
	tree := doctree.NewTree(title, doctree.Pager{})
	tree.Root().TextRange = &doctree.TextRange{Start: 0, Stop: len(res.Text)}
	b := doctree.NewBuilder(tree)
	pos := 0
	for _, en := range entries {
		if r, ok := res.Resolve(en.target); ok {
			pos = r.Start
		} else if file, _, _ := strings.Cut(en.target, "#"); file != en.target {
			if r, ok := res.Resolve(file); ok {
				pos = r.Start
			}
		}
		b.PushOpen(doctree.Section{
			Title:     en.title,
			Level:     en.level,
			TextRange: &doctree.TextRange{Start: pos, Stop: pos},
			Data:      map[string]string{"href": en.target},
		})
	}
	return b.Finish(len(res.Text), 0)
}
