package backend

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

type textBackend struct {
	fluid
}

// Read splits the file into blank-line separated paragraphs. Lines inside a
// paragraph keep their breaks.
func (b *textBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	data, err := os.ReadFile(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decode text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out strings.Builder
	out.WriteString("<html><body>")
	open := false
	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			if open {
				out.WriteString("</p>")
				open = false
			}
			continue
		}
		if open {
			out.WriteString("<br>")
		} else {
			out.WriteString("<p>")
			open = true
		}
		out.WriteString(html.EscapeString(line))
	}
	if open {
		out.WriteString("</p>")
	}
	out.WriteString("</body></html>")

	res, err := structtext.Extract(strings.NewReader(out.String()), "text/html; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	b.set(res, document.Metadata{Title: stem(req.URI.Path)})
	return nil, nil
}

// decodeText honours a byte-order mark, accepts valid UTF-8 and otherwise
// assumes Windows-1252.
func decodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder(), data)
		return string(out), err
	case utf8.Valid(data):
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	return string(out), err
}
