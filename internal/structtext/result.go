package structtext

import (
	"strings"

	"github.com/dgallion1/bookcore/internal/doctree"
)

// Link is an anchor with an href and the text it covers.
type Link struct {
	Range doctree.TextRange `json:"range"`
	Href  string            `json:"href"`
}

// Heading is an h1..h6 element found during extraction.
type Heading struct {
	Level int               `json:"level"`
	Title string            `json:"title"`
	Range doctree.TextRange `json:"range"`
}

// Result is the flattened text plus everything recorded against it.
type Result struct {
	Title    string                       `json:"title,omitempty"`
	Text     string                       `json:"text"`
	Semantic RangeMap                     `json:"semantic"`
	Style    RangeMap                     `json:"style"`
	Links    []Link                       `json:"links,omitempty"`
	Anchors  map[string]doctree.TextRange `json:"anchors,omitempty"`
	Headings []Heading                    `json:"headings,omitempty"`
}

// LinkAt returns the link covering pos.
func (r *Result) LinkAt(pos int) (Link, bool) {
	for _, l := range r.Links {
		if l.Range.Contains(pos) {
			return l, true
		}
	}
	return Link{}, false
}

// Resolve finds the anchor an internal href points at. It accepts "#id",
// "prefix#id" and bare "prefix" forms.
func (r *Result) Resolve(href string) (doctree.TextRange, bool) {
	if rng, ok := r.Anchors[href]; ok {
		return rng, true
	}
	base, frag, hasFrag := strings.Cut(href, "#")
	if !hasFrag {
		return doctree.TextRange{}, false
	}
	if base == "" {
		rng, ok := r.Anchors[frag]
		return rng, ok
	}
	if frag == "" {
		rng, ok := r.Anchors[base]
		return rng, ok
	}
	return doctree.TextRange{}, false
}
