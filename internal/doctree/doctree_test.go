package doctree

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func TestPagerContains(t *testing.T) {
	p, err := NewPager(2, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := -1; i <= 7; i++ {
		want := 2 <= i && i <= 5
		if got := p.Contains(i); got != want {
			t.Errorf("Contains(%d): expected %v, got %v", i, want, got)
		}
	}
	if p.Len() != 3 {
		t.Errorf("expected len 3, got %d", p.Len())
	}
	if p.Count() != 4 {
		t.Errorf("expected count 4, got %d", p.Count())
	}
	if got := slices.Collect(p.All()); !slices.Equal(got, []int{2, 3, 4, 5}) {
		t.Errorf("expected [2 3 4 5], got %v", got)
	}
}

func TestTextRangeContains(t *testing.T) {
	r, err := NewTextRange(3, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for p := 0; p <= 8; p++ {
		want := 3 <= p && p < 6
		if got := r.Contains(p); got != want {
			t.Errorf("Contains(%d): expected %v, got %v", p, want, got)
		}
	}
	if got := r.Slice("abcdefgh"); got != "def" {
		t.Errorf("expected %q, got %q", "def", got)
	}
	if got := r.Slice("abcd"); got != "d" {
		t.Errorf("expected clamped %q, got %q", "d", got)
	}
}

func TestInvalidRanges(t *testing.T) {
	if _, err := NewTextRange(5, 4); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := NewTextRange(-1, 4); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := NewPager(3, 2); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := NewTextRange(4, 4); err != nil {
		t.Errorf("empty range should be valid, got %v", err)
	}
}

func TestTextRangeOverlaps(t *testing.T) {
	a := TextRange{Start: 0, Stop: 5}
	b := TextRange{Start: 5, Stop: 8}
	c := TextRange{Start: 4, Stop: 6}
	if a.Overlaps(b) {
		t.Error("adjacent ranges should not overlap")
	}
	if !a.Overlaps(c) || !b.Overlaps(c) {
		t.Error("expected overlap with straddling range")
	}
	if !(TextRange{Start: 0, Stop: 10}).ContainsRange(c) {
		t.Error("expected containment")
	}
}

func levels(t *Tree) []int {
	var out []int
	t.Walk(func(s *Section) bool {
		out = append(out, s.Level)
		return true
	})
	return out
}

func checkLevels(t *testing.T, tree *Tree) {
	t.Helper()
	tree.Walk(func(s *Section) bool {
		p := tree.ParentOf(s.ID)
		if p == nil {
			t.Errorf("section %q has no parent", s.Title)
			return true
		}
		if s.Level <= p.Level {
			t.Errorf("section %q (level %d) under %q (level %d)", s.Title, s.Level, p.Title, p.Level)
		}
		return true
	})
}

func TestBuilderNesting(t *testing.T) {
	in := []int{1, 2, 2, 3, 2, 1}
	tree := NewTree("book", Pager{})
	b := NewBuilder(tree)
	for i, lvl := range in {
		b.Push(Section{Title: string(rune('a' + i)), Level: lvl})
	}

	if got := levels(tree); !slices.Equal(got, in) {
		t.Fatalf("expected levels %v, got %v", in, got)
	}
	checkLevels(t, tree)

	if got := tree.Titles(); !slices.Equal(got, []string{"a", "b", "c", "d", "e", "f"}) {
		t.Errorf("unexpected title order %v", got)
	}
	root := tree.Root()
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 top-level sections, got %d", len(root.Children))
	}
	a := tree.Node(root.Children[0])
	if len(a.Children) != 3 {
		t.Errorf("expected a to have 3 children, got %d", len(a.Children))
	}
	c := tree.Node(a.Children[1])
	if c.Title != "c" || len(c.Children) != 1 {
		t.Errorf("expected c with one child, got %q with %d", c.Title, len(c.Children))
	}
	if !tree.IsRoot(RootID) || tree.IsRoot(a.ID) {
		t.Error("IsRoot mismatch")
	}
}

func TestBuilderSkippedLevel(t *testing.T) {
	tree := NewTree("book", Pager{})
	b := NewBuilder(tree)
	a := b.Push(Section{Title: "a", Level: 1})
	d := b.Push(Section{Title: "deep", Level: 4})
	if tree.Node(d).Parent != a {
		t.Errorf("expected deep section to be a direct child of a")
	}
	checkLevels(t, tree)
}

func TestBuilderEmpty(t *testing.T) {
	tree := NewBuilder(NewTree("empty", Pager{})).Finish(0, 0)
	if tree.Len() != 1 {
		t.Errorf("expected only the root, got %d nodes", tree.Len())
	}
	if got := tree.SectionForPosition(3); got.ID != RootID {
		t.Errorf("expected root fallback, got %q", got.Title)
	}
}

func TestBuilderOpenTextRanges(t *testing.T) {
	tree := NewTree("doc", Pager{})
	b := NewBuilder(tree)
	at := func(pos int) *TextRange { return &TextRange{Start: pos, Stop: pos} }
	b.PushOpen(Section{Title: "A", Level: 1, TextRange: at(0)})
	b.PushOpen(Section{Title: "B", Level: 2, TextRange: at(10)})
	b.PushOpen(Section{Title: "C", Level: 1, TextRange: at(20)})
	b.Finish(30, 0)

	want := map[string]TextRange{
		"A": {0, 20},
		"B": {10, 20},
		"C": {20, 30},
	}
	tree.Walk(func(s *Section) bool {
		if *s.TextRange != want[s.Title] {
			t.Errorf("%s: expected %v, got %v", s.Title, want[s.Title], *s.TextRange)
		}
		if s.Pager != (Pager{}) {
			t.Errorf("%s: expected sentinel pager, got %v", s.Title, s.Pager)
		}
		return true
	})

	if got := tree.SectionForPosition(12); got.Title != "B" {
		t.Errorf("expected B, got %q", got.Title)
	}
	if got := tree.SectionForPosition(5); got.Title != "A" {
		t.Errorf("expected A, got %q", got.Title)
	}
	if got := tree.SectionForPosition(25); got.Title != "C" {
		t.Errorf("expected C, got %q", got.Title)
	}
	if got := tree.SectionForPosition(30); got.ID != RootID {
		t.Errorf("expected root past the end, got %q", got.Title)
	}
}

func TestBuilderOpenPagers(t *testing.T) {
	tree := NewTree("doc", Pager{First: 0, Last: 9})
	b := NewBuilder(tree)
	b.PushOpen(Section{Title: "One", Level: 1, Pager: Pager{First: 0, Last: 0}})
	b.PushOpen(Section{Title: "One.1", Level: 2, Pager: Pager{First: 1, Last: 1}})
	b.PushOpen(Section{Title: "Two", Level: 1, Pager: Pager{First: 3, Last: 3}})
	b.PushOpen(Section{Title: "Three", Level: 1, Pager: Pager{First: 7, Last: 7}})
	b.Finish(0, 9)

	want := map[string]Pager{
		"One":   {0, 2},
		"One.1": {1, 2},
		"Two":   {3, 6},
		"Three": {7, 9},
	}
	tree.Walk(func(s *Section) bool {
		if s.Pager != want[s.Title] {
			t.Errorf("%s: expected %v, got %v", s.Title, want[s.Title], s.Pager)
		}
		return true
	})

	if got := tree.SectionForPage(2); got.Title != "One.1" {
		t.Errorf("expected One.1, got %q", got.Title)
	}
	if got := tree.SectionForPage(5); got.Title != "Two" {
		t.Errorf("expected Two, got %q", got.Title)
	}
	crumbs := tree.Ancestors(tree.SectionForPage(1).ID)
	if len(crumbs) != 2 || crumbs[0].Title != "One" || crumbs[1].Title != "One.1" {
		t.Errorf("unexpected breadcrumb %v", crumbs)
	}
}

func TestBuilderClosedBoundsUntouched(t *testing.T) {
	tree := NewTree("doc", Pager{})
	b := NewBuilder(tree)
	b.Push(Section{Title: "A", Level: 1, Pager: Pager{First: 2, Last: 4}})
	b.Push(Section{Title: "B", Level: 1, Pager: Pager{First: 3, Last: 3}})
	b.Finish(0, 10)
	if got := tree.Node(tree.Root().Children[0]).Pager; got != (Pager{First: 2, Last: 4}) {
		t.Errorf("closed pager was modified: %v", got)
	}
}

func TestAddChildCopiesRange(t *testing.T) {
	tree := NewTree("doc", Pager{})
	r := &TextRange{Start: 1, Stop: 2}
	id := tree.AddChild(RootID, Section{Title: "x", Level: 1, TextRange: r})
	r.Stop = 99
	if tree.Node(id).TextRange.Stop != 2 {
		t.Errorf("tree shares caller's range")
	}
}

func TestWalkStops(t *testing.T) {
	tree := NewTree("doc", Pager{})
	b := NewBuilder(tree)
	for _, lvl := range []int{1, 2, 1, 1} {
		b.Push(Section{Title: "s", Level: lvl})
	}
	n := 0
	tree.Walk(func(*Section) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Errorf("expected walk to stop after 2, visited %d", n)
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	tree := NewTree("book", Pager{First: 0, Last: 20})
	b := NewBuilder(tree)
	in := []struct {
		title string
		level int
		first int
	}{
		{"Part I", 1, 0},
		{"Chapter 1", 2, 1},
		{"Scene", 3, 2},
		{"Chapter 2", 2, 5},
		{"Part II", 1, 10},
		{"Appendix", 1, 18},
	}
	for _, e := range in {
		b.PushOpen(Section{
			Title: e.title,
			Level: e.level,
			Pager: Pager{First: e.first, Last: e.first},
			Data:  map[string]string{"href": e.title},
		})
	}
	b.Finish(0, 20)

	raw, err := json.Marshal(Dump(tree))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	loaded, err := Load(records)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Len() != tree.Len() {
		t.Fatalf("expected %d nodes, got %d", tree.Len(), loaded.Len())
	}
	if !slices.Equal(loaded.Titles(), tree.Titles()) {
		t.Errorf("expected titles %v, got %v", tree.Titles(), loaded.Titles())
	}
	if !slices.Equal(levels(loaded), levels(tree)) {
		t.Errorf("expected levels %v, got %v", levels(tree), levels(loaded))
	}
	if loaded.Root().Title != "book" || loaded.Root().Pager != tree.Root().Pager {
		t.Errorf("root not preserved: %+v", loaded.Root())
	}
	if got := loaded.SectionForPage(3); got.Title != "Scene" || got.Data["href"] != "Scene" {
		t.Errorf("expected Scene with data, got %q %v", got.Title, got.Data)
	}
}

func TestDumpTextRanges(t *testing.T) {
	tree := NewTree("doc", Pager{})
	tree.AddChild(RootID, Section{Title: "h", Level: 1, TextRange: &TextRange{Start: 0, Stop: 5}})
	tree.AddChild(RootID, Section{Title: "nil range", Level: 1})

	records := Dump(tree)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[1].TextRange == nil || *records[1].TextRange != [2]int{0, 5} {
		t.Errorf("unexpected text range %v", records[1].TextRange)
	}
	if records[2].TextRange != nil {
		t.Errorf("expected nil text range, got %v", *records[2].TextRange)
	}

	loaded, err := Load(records)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.SectionForPosition(2); got.Title != "h" {
		t.Errorf("expected h, got %q", got.Title)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(nil); !errors.Is(err, ErrEmptyDump) {
		t.Errorf("expected ErrEmptyDump, got %v", err)
	}
	bad := []Record{
		{Title: "root"},
		{Title: "x", Level: 1, Pager: [2]int{4, 1}},
	}
	if _, err := Load(bad); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := Load([]Record{{Title: "root"}, {Title: "x", Level: 0}}); err == nil {
		t.Error("expected error for non-positive level")
	}
}
