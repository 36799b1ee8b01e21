// Package search finds terms in documents. Scans run as worker tasks that open
// their own copy of the document and stream results back page by page.
package search

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrEmptyQuery is returned for a term with no visible characters.
	ErrEmptyQuery    = errors.New("empty search term")
	ErrPagesAndRange = errors.New("search takes a page range or a text range, not both")
)

// DefaultRadius is the excerpt context on each side of a match, in bytes.
const DefaultRadius = 25

// Query is what the user typed plus the match options.
type Query struct {
	Term          string `json:"term"`
	Regex         bool   `json:"regex,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	WholeWord     bool   `json:"whole_word,omitempty"`
}

// Compile turns q into a regular expression. Literal terms match any run of
// whitespace where the term has whitespace, so "a  b" finds "a b" and "a\nb".
func Compile(q Query) (*regexp.Regexp, error) {
	var pattern string
	if q.Regex {
		if q.Term == "" {
			return nil, ErrEmptyQuery
		}
		pattern = q.Term
	} else {
		fields := strings.Fields(q.Term)
		if len(fields) == 0 {
			return nil, ErrEmptyQuery
		}
		for i, f := range fields {
			fields[i] = regexp.QuoteMeta(f)
		}
		pattern = strings.Join(fields, `\s+`)
	}
	if q.WholeWord {
		pattern = `\b(?:` + pattern + `)\b`
	}
	if !q.CaseSensitive {
		pattern = `(?i)` + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", q.Term, err)
	}
	return re, nil
}

// Excerpt returns the text around [start, stop) with radius bytes of context
// on each side. When the window holds more than three words, words cut by the
// window edges are dropped. Whitespace is collapsed to single spaces.
func Excerpt(text string, start, stop, radius int) string {
	start = min(max(start, 0), len(text))
	stop = min(max(stop, start), len(text))
	lo := max(start-radius, 0)
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	hi := min(stop+radius, len(text))
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}

	if len(strings.Fields(text[lo:hi])) > 3 {
		if lo > 0 && !isSpaceBefore(text, lo) {
			if i := strings.IndexFunc(text[lo:start], unicode.IsSpace); i >= 0 {
				lo += i
			}
		}
		if hi < len(text) && !isSpaceAt(text, hi) {
			if i := strings.LastIndexFunc(text[stop:hi], unicode.IsSpace); i >= 0 {
				hi = stop + i
			}
		}
	}
	return strings.Join(strings.Fields(text[lo:hi]), " ")
}

func isSpaceBefore(text string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r)
}

func isSpaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}
