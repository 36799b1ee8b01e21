package backend

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func openFile(t *testing.T, p string, opts document.Options) *document.Handle {
	t.Helper()
	if opts.CacheDir == "" {
		opts.CacheDir = t.TempDir()
	}
	h, err := document.OpenFile(context.Background(), Default(Options{}), p, opts)
	if err != nil {
		t.Fatalf("open %s: %v", filepath.Base(p), err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func pageText(t *testing.T, h *document.Handle, i int) string {
	t.Helper()
	text, err := h.PageText(i)
	if err != nil {
		t.Fatalf("page %d: %v", i, err)
	}
	return text
}

func tocTitles(t *testing.T, h *document.Handle) []string {
	t.Helper()
	toc, err := h.TOC()
	if err != nil {
		t.Fatalf("toc: %v", err)
	}
	return toc.Titles()
}

func TestDefaultRegistry(t *testing.T) {
	reg := Default(Options{})
	want := []string{"fb2", "epub", "pdf", "docx", "odt", "html", "markdown", "txt", "csv", "zip"}
	if got := reg.Formats(); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	cases := map[string]string{
		".fb2.zip": "fb2",
		".zip":     "zip",
		".htm":     "html",
		".xhtml":   "html",
		".md":      "markdown",
		".text":    "txt",
	}
	for suffix, format := range cases {
		if got, ok := reg.FormatForSuffix(suffix); !ok || got != format {
			t.Errorf("%s: expected %q, got %q (%v)", suffix, format, got, ok)
		}
	}
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"/a/b/book.fb2.zip": "book",
		"notes.txt":         "notes",
		".hidden":           ".hidden",
		"plain":             "plain",
	}
	for in, want := range cases {
		if got := stem(in); got != want {
			t.Errorf("stem(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestCacheFile_ReusesContent(t *testing.T) {
	dir := t.TempDir()
	a, err := cacheFile(dir, []byte("same"), ".txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := cacheFile(dir, []byte("same"), ".txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("expected identical paths, got %q and %q", a, b)
	}
	if filepath.Ext(a) != ".txt" {
		t.Errorf("expected .txt extension, got %q", a)
	}
}

func TestText_Paragraphs(t *testing.T) {
	p := writeFile(t, "notes.txt", []byte("First line.\nSecond line.\n\n\n\nThird <para>."))
	h := openFile(t, p, document.Options{})

	if got := pageText(t, h, 0); got != "First line.\nSecond line.\nThird <para>." {
		t.Errorf("unexpected text %q", got)
	}
	meta, err := h.Metadata()
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", meta.Title)
	}
	if n, _ := h.PageCount(); n != 1 {
		t.Errorf("expected 1 page, got %d", n)
	}
}

func TestText_LongLine(t *testing.T) {
	line := strings.Repeat("word ", 300_000)
	p := writeFile(t, "big.txt", []byte(line+"\r\nend"))
	h := openFile(t, p, document.Options{})

	want := strings.TrimSpace(line) + "\nend"
	if got := pageText(t, h, 0); got != want {
		t.Errorf("expected %d bytes ending in %q, got %d bytes", len(want), "end", len(got))
	}
}

func TestEmptyFilesOpen(t *testing.T) {
	for _, name := range []string{"empty.html", "empty.md", "empty.txt"} {
		t.Run(name, func(t *testing.T) {
			h := openFile(t, writeFile(t, name, nil), document.Options{})
			if got := pageText(t, h, 0); got != "" {
				t.Errorf("expected empty text, got %q", got)
			}
			toc, err := h.TOC()
			if err != nil {
				t.Fatalf("toc: %v", err)
			}
			if toc.Len() != 1 {
				t.Errorf("expected a root-only toc, got %d nodes", toc.Len())
			}
		})
	}

	h := openFile(t, writeFile(t, "blank.html", nil), document.Options{Mode: document.ModeCleanView})
	if got := pageText(t, h, 0); got != "" {
		t.Errorf("expected empty clean view text, got %q", got)
	}
}

func TestText_Encodings(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"utf8 bom", []byte("\xef\xbb\xbfcafé"), "café"},
		{"windows-1252", []byte("caf\xe9"), "café"},
		{"utf16 le", []byte{0xff, 0xfe, 'h', 0, 'i', 0}, "hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeText(tc.data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCSV_SectionsOfRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("name,qty\n")
	for i := range 25 {
		b.WriteString("item,")
		b.WriteString(strings.Repeat("1", i%3+1))
		b.WriteString("\n")
	}
	h := openFile(t, writeFile(t, "stock.csv", []byte(b.String())), document.Options{})

	want := []string{"Rows 2-21", "Rows 22-26"}
	if got := tocTitles(t, h); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	text := pageText(t, h, 0)
	if !strings.HasPrefix(text, "Rows 2-21\nname qty\nitem 1\n") {
		t.Errorf("unexpected text start %q", text[:min(len(text), 40)])
	}
}

const sampleHTML = `<html><head><title>Guide</title></head><body>
<nav>Menu Home About</nav>
<h1>Start</h1><p>Read <a href="#more">more</a>.</p>
<h2 id="more">More</h2><p>Details <b>here</b>.</p>
<footer>Copyright</footer>
</body></html>`

func TestHTML_TOCAndLinks(t *testing.T) {
	h := openFile(t, writeFile(t, "guide.html", []byte(sampleHTML)), document.Options{})
	text := pageText(t, h, 0)

	if want := []string{"Start", "More"}; !slices.Equal(tocTitles(t, h), want) {
		t.Errorf("expected %v, got %v", want, tocTitles(t, h))
	}
	target, err := h.ResolveLink("#more")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := strings.Index(text, "More"); target.Position != want {
		t.Errorf("expected position %d, got %d", want, target.Position)
	}
	ext, err := h.ResolveLink("https://example.com/x")
	if err != nil || !ext.IsExternal {
		t.Errorf("expected external link, got %+v %v", ext, err)
	}
	meta, _ := h.Metadata()
	if meta.Title != "Guide" {
		t.Errorf("expected title %q, got %q", "Guide", meta.Title)
	}
	if !h.Capabilities().Has(document.CapLinks | document.CapInternalAnchors) {
		t.Errorf("expected link capabilities, got %s", h.Capabilities())
	}
}

func TestHTML_CleanView(t *testing.T) {
	h := openFile(t, writeFile(t, "guide.html", []byte(sampleHTML)), document.Options{})
	if !strings.Contains(pageText(t, h, 0), "Menu") {
		t.Fatalf("expected navigation text in default mode")
	}

	if err := h.SetReadingMode(context.Background(), document.ModeCleanView); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	text := pageText(t, h, 0)
	if strings.Contains(text, "Menu") || strings.Contains(text, "Copyright") {
		t.Errorf("expected page chrome removed, got %q", text)
	}
	if !strings.Contains(text, "Details here.") {
		t.Errorf("expected body text kept, got %q", text)
	}
	if _, err := h.ResolveLink("#more"); err != nil {
		t.Errorf("expected anchors to survive clean view: %v", err)
	}
	meta, _ := h.Metadata()
	if meta.Title != "Guide" {
		t.Errorf("expected title %q, got %q", "Guide", meta.Title)
	}
}

func TestMarkdown(t *testing.T) {
	src := "# Intro\n\nSee [next](#next-part) and **bold**.\n\n## Next part\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	h := openFile(t, writeFile(t, "readme.md", []byte(src)), document.Options{})
	text := pageText(t, h, 0)

	if want := []string{"Intro", "Next part"}; !slices.Equal(tocTitles(t, h), want) {
		t.Errorf("expected %v, got %v", want, tocTitles(t, h))
	}
	target, err := h.ResolveLink("#next-part")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := strings.Index(text, "Next part"); target.Position != want {
		t.Errorf("expected position %d, got %d", want, target.Position)
	}
	page, err := h.Page(0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	sem, err := document.PageSemantic(page)
	if err != nil {
		t.Fatalf("semantic: %v", err)
	}
	if len(sem.Get(structtext.Table)) != 1 {
		t.Errorf("expected one table range, got %v", sem.Get(structtext.Table))
	}
	meta, _ := h.Metadata()
	if meta.Title != "Intro" {
		t.Errorf("expected title %q, got %q", "Intro", meta.Title)
	}
}
