package backend

import (
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strings"
)

// htmlWriter accumulates the HTML rendition of an XML-based document. The
// FictionBook and OpenDocument readers translate their elements into it and
// hand the result to the HTML extractor.
type htmlWriter struct {
	b     strings.Builder
	stack []string
}

func newHTMLWriter() *htmlWriter {
	w := &htmlWriter{}
	w.b.WriteString("<html><body>")
	return w
}

// open writes a start tag and remembers it so close emits the matching end tag.
// An empty tag is pushed so that every XML start has exactly one close.
func (w *htmlWriter) open(tag string, attrs ...string) {
	w.stack = append(w.stack, tag)
	if tag == "" {
		return
	}
	w.b.WriteString("<" + tag)
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i+1] == "" {
			continue
		}
		fmt.Fprintf(&w.b, " %s=\"%s\"", attrs[i], html.EscapeString(attrs[i+1]))
	}
	w.b.WriteString(">")
}

func (w *htmlWriter) close() {
	if len(w.stack) == 0 {
		return
	}
	tag := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	if tag != "" {
		w.b.WriteString("</" + tag + ">")
	}
}

func (w *htmlWriter) void(tag string) { w.b.WriteString("<" + tag + ">") }
func (w *htmlWriter) text(s string)   { w.b.WriteString(html.EscapeString(s)) }

func (w *htmlWriter) anchor(id string) {
	if id != "" {
		fmt.Fprintf(&w.b, "<a id=\"%s\"></a>", html.EscapeString(id))
	}
}

func (w *htmlWriter) reader() io.Reader {
	for len(w.stack) > 0 {
		w.close()
	}
	return strings.NewReader(w.b.String() + "</body></html>")
}

// attr returns the value of the first attribute with the given local name.
func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
