package backend

import (
	"context"
	"encoding/csv"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/structtext"
)

// rowsPerSection is how many data rows share one TOC entry.
const rowsPerSection = 20

type csvBackend struct {
	fluid
}

// Read renders the rows as tables of rowsPerSection rows, each under a
// "Rows a-b" heading numbered by line in the file.
func (b *csvBackend) Read(ctx context.Context, req document.ReadRequest) (*document.Redirect, error) {
	f, err := os.Open(req.URI.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out strings.Builder
	out.WriteString("<html><body>")
	if len(records) > 0 {
		headers := records[0]
		rows := records[1:]
		for i := 0; i < len(rows); i += rowsPerSection {
			end := min(i+rowsPerSection, len(rows))
			fmt.Fprintf(&out, "<h1>Rows %d-%d</h1><table>", i+2, end+1)
			writeRow(&out, "th", headers)
			for _, row := range rows[i:end] {
				writeRow(&out, "td", row)
			}
			out.WriteString("</table>")
		}
		if len(rows) == 0 {
			out.WriteString("<table>")
			writeRow(&out, "th", headers)
			out.WriteString("</table>")
		}
	}
	out.WriteString("</body></html>")

	res, err := structtext.Extract(strings.NewReader(out.String()), "text/html; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("extract csv: %w", err)
	}
	b.set(res, document.Metadata{Title: stem(req.URI.Path)})
	return nil, nil
}

func writeRow(out *strings.Builder, cell string, values []string) {
	out.WriteString("<tr>")
	for _, v := range values {
		fmt.Fprintf(out, "<%s>%s</%s>", cell, html.EscapeString(v), cell)
	}
	out.WriteString("</tr>")
}
