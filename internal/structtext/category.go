package structtext

import (
	"fmt"
	"slices"

	"github.com/dgallion1/bookcore/internal/doctree"
)

// Category names a semantic or style feature recorded against the flattened text.
type Category int

const (
	Heading1 Category = iota + 1
	Heading2
	Heading3
	Heading4
	Heading5
	Heading6
	HeadingAny
	LinkRange
	List
	ListItem
	Quote
	Table
	CodeBlock
	Figure
	Paragraph

	Bold
	Italic
	Underline
	Strikethrough
	Highlight
	Superscript
	Subscript
	DisplayLarge
	DisplaySmall
)

var categoryNames = map[Category]string{
	Heading1:      "heading_1",
	Heading2:      "heading_2",
	Heading3:      "heading_3",
	Heading4:      "heading_4",
	Heading5:      "heading_5",
	Heading6:      "heading_6",
	HeadingAny:    "heading",
	LinkRange:     "link",
	List:          "list",
	ListItem:      "list_item",
	Quote:         "quote",
	Table:         "table",
	CodeBlock:     "code_block",
	Figure:        "figure",
	Paragraph:     "paragraph",
	Bold:          "bold",
	Italic:        "italic",
	Underline:     "underline",
	Strikethrough: "strikethrough",
	Highlight:     "highlight",
	Superscript:   "superscript",
	Subscript:     "subscript",
	DisplayLarge:  "display_large",
	DisplaySmall:  "display_small",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// MarshalText lets categories key JSON objects by name.
func (c Category) MarshalText() ([]byte, error) {
	if _, ok := categoryNames[c]; !ok {
		return nil, fmt.Errorf("unknown category %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	for k, v := range categoryNames {
		if v == string(b) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", b)
}

// HeadingLevel returns the category for an h1..h6 level.
func HeadingLevel(level int) Category {
	if level < 1 || level > 6 {
		return HeadingAny
	}
	return Heading1 + Category(level-1)
}

// RangeMap maps a category to its ranges in document order.
// Ranges within one category never overlap.
type RangeMap map[Category][]doctree.TextRange

// add appends r, dropping earlier ranges it encloses. Elements close innermost
// first, so a nested element of the same category is always recorded before
// its enclosing one.
func (m RangeMap) add(c Category, r doctree.TextRange) {
	rs := m[c]
	for len(rs) > 0 && rs[len(rs)-1].Start >= r.Start {
		rs = rs[:len(rs)-1]
	}
	m[c] = append(rs, r)
}

// Get returns the ranges recorded for c.
func (m RangeMap) Get(c Category) []doctree.TextRange { return m[c] }

// At lists the categories whose ranges contain pos, in category order.
func (m RangeMap) At(pos int) []Category {
	var out []Category
	for c, rs := range m {
		i, found := slices.BinarySearchFunc(rs, pos, func(r doctree.TextRange, p int) int {
			switch {
			case r.Stop <= p:
				return -1
			case r.Start > p:
				return 1
			}
			return 0
		})
		if found && rs[i].Contains(pos) {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// Categories lists the categories present, sorted.
func (m RangeMap) Categories() []Category {
	out := make([]Category, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
