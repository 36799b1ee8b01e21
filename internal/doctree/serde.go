package doctree

import (
	"errors"
	"fmt"
)

// ErrEmptyDump is returned when loading a dump that lacks even the root record.
var ErrEmptyDump = errors.New("empty toc dump")

// Record is the flat, wire-safe form of one Section.
type Record struct {
	Title     string            `json:"title"`
	Level     int               `json:"level"`
	Pager     [2]int            `json:"pager"`
	TextRange *[2]int           `json:"text_range"`
	Data      map[string]string `json:"data,omitempty"`
}

// Dump flattens the tree into records: the root first, then every section in preorder.
func Dump(t *Tree) []Record {
	out := make([]Record, 0, t.Len())
	out = append(out, toRecord(t.Root()))
	t.Walk(func(s *Section) bool {
		out = append(out, toRecord(s))
		return true
	})
	return out
}

// Load rebuilds a tree from records produced by Dump, feeding them through a Builder
// in emitted order.
func Load(records []Record) (*Tree, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDump
	}
	rootRec := records[0]
	rootPager, err := NewPager(rootRec.Pager[0], rootRec.Pager[1])
	if err != nil {
		return nil, fmt.Errorf("load root: %w", err)
	}
	tree := NewTree(rootRec.Title, rootPager)
	root := tree.Root()
	root.Data = rootRec.Data
	if rootRec.TextRange != nil {
		r, err := NewTextRange(rootRec.TextRange[0], rootRec.TextRange[1])
		if err != nil {
			return nil, fmt.Errorf("load root: %w", err)
		}
		root.TextRange = &r
	}

	b := NewBuilder(tree)
	for i, rec := range records[1:] {
		s, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("load record %d: %w", i+1, err)
		}
		if s.Level <= 0 {
			return nil, fmt.Errorf("load record %d: level %d must be positive", i+1, s.Level)
		}
		b.Push(s)
	}
	return tree, nil
}

func toRecord(s *Section) Record {
	rec := Record{
		Title: s.Title,
		Level: s.Level,
		Pager: [2]int{s.Pager.First, s.Pager.Last},
		Data:  s.Data,
	}
	if s.TextRange != nil {
		rec.TextRange = &[2]int{s.TextRange.Start, s.TextRange.Stop}
	}
	return rec
}

func fromRecord(rec Record) (Section, error) {
	pager, err := NewPager(rec.Pager[0], rec.Pager[1])
	if err != nil {
		return Section{}, err
	}
	s := Section{Title: rec.Title, Level: rec.Level, Pager: pager, Data: rec.Data}
	if rec.TextRange != nil {
		r, err := NewTextRange(rec.TextRange[0], rec.TextRange[1])
		if err != nil {
			return Section{}, err
		}
		s.TextRange = &r
	}
	return s, nil
}
