package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/bookcore/internal/structtext"
)

func extractHTML(t *testing.T, s string) *structtext.Result {
	t.Helper()
	res, err := structtext.Extract(strings.NewReader(s), "text/html; charset=utf-8")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return res
}

func TestPageMarkdownInline(t *testing.T) {
	res := extractHTML(t, `<p><b>one</b> and <i>two</i></p>`+
		`<p>plain <a href="https://x.io">link</a> <b>three</b></p><p><b>a<br>b</b></p><p>last</p>`)
	md, err := pageMarkdown(res)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	for _, want := range []string{"**one** and *two*", "[link](https://x.io) **three**", "**a**", "**b**"} {
		if !strings.Contains(md, want) {
			t.Errorf("expected output to contain %q, got %q", want, md)
		}
	}
	if !strings.HasSuffix(md, "\n\nlast") {
		t.Errorf("expected plain last paragraph, got %q", md)
	}
}

func TestPageMarkdownManyLines(t *testing.T) {
	var sb strings.Builder
	for i := range 2000 {
		fmt.Fprintf(&sb, `<p>line <b>b%d</b> <a href="#n%d">n</a></p>`, i, i)
	}
	md, err := pageMarkdown(extractHTML(t, sb.String()))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got := strings.Count(md, "**b"); got != 2000 {
		t.Errorf("expected 2000 bold runs, got %d", got)
	}
	if !strings.Contains(md, "**b1999** [n](#n1999)") {
		t.Errorf("expected last line formatted, got %q", md[max(0, len(md)-80):])
	}
}
