// Package doctree holds the table-of-contents tree shared by every document backend,
// together with the range primitives used to bound sections.
package doctree

// SectionID indexes a Section inside its Tree.
type SectionID int

// NoSection is the parent of the root.
const NoSection SectionID = -1

// RootID is always the first node of a Tree.
const RootID SectionID = 0

// Section is one table-of-contents entry.
type Section struct {
	ID        SectionID         `json:"-"`
	Title     string            // Heading text or outline label
	Level     int               // 0 for the root, 1 for top-level entries
	Pager     Pager             // Page span; the {0,0} sentinel for single-page documents
	TextRange *TextRange        // Character span in the flattened text, nil when unknown
	Parent    SectionID         // NoSection for the root
	Children  []SectionID       // Document order
	Data      map[string]string // Backend-specific anchors (href, outline handle, ...)
}

// Tree is an arena of sections. Parents own children by index.
type Tree struct {
	nodes []Section
}

// NewTree creates a tree holding only a root section.
func NewTree(title string, pager Pager) *Tree {
	return &Tree{
		nodes: []Section{{
			ID:     RootID,
			Title:  title,
			Level:  0,
			Pager:  pager,
			Parent: NoSection,
		}},
	}
}

// Root returns the root section.
func (t *Tree) Root() *Section { return &t.nodes[RootID] }

// Node returns the section with the given id, or nil.
func (t *Tree) Node(id SectionID) *Section {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return &t.nodes[id]
}

// Len counts all sections including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// IsRoot reports whether id has no parent.
func (t *Tree) IsRoot(id SectionID) bool {
	n := t.Node(id)
	return n != nil && n.Parent == NoSection
}

// ParentOf returns the parent of id, or nil for the root.
func (t *Tree) ParentOf(id SectionID) *Section {
	n := t.Node(id)
	if n == nil || n.Parent == NoSection {
		return nil
	}
	return t.Node(n.Parent)
}

// AddChild appends s under parent and returns its id.
func (t *Tree) AddChild(parent SectionID, s Section) SectionID {
	id := SectionID(len(t.nodes))
	s.ID = id
	s.Parent = parent
	s.Children = nil
	if s.TextRange != nil {
		r := *s.TextRange
		s.TextRange = &r
	}
	t.nodes = append(t.nodes, s)
	p := &t.nodes[parent]
	p.Children = append(p.Children, id)
	return id
}

// Walk visits every non-root section depth-first in document order.
// Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(s *Section) bool) {
	var walk func(id SectionID) bool
	walk = func(id SectionID) bool {
		for _, c := range t.nodes[id].Children {
			if !fn(&t.nodes[c]) {
				return false
			}
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(RootID)
}

// Titles lists the section titles in depth-first order, root excluded.
func (t *Tree) Titles() []string {
	var out []string
	t.Walk(func(s *Section) bool {
		out = append(out, s.Title)
		return true
	})
	return out
}

// Ancestors returns the chain from the top-level entry down to id, root excluded.
func (t *Tree) Ancestors(id SectionID) []*Section {
	var chain []*Section
	for n := t.Node(id); n != nil && n.Parent != NoSection; n = t.Node(n.Parent) {
		chain = append([]*Section{n}, chain...)
	}
	return chain
}

// SectionForPage narrows to the most specific section whose pager contains page.
// The root is returned when no child matches.
func (t *Tree) SectionForPage(page int) *Section {
	return t.narrow(func(s *Section) bool { return s.Pager.Contains(page) })
}

// SectionForPosition narrows to the most specific section whose text range contains pos.
func (t *Tree) SectionForPosition(pos int) *Section {
	return t.narrow(func(s *Section) bool { return s.TextRange != nil && s.TextRange.Contains(pos) })
}

func (t *Tree) narrow(match func(*Section) bool) *Section {
	cur := t.Root()
	for {
		var next *Section
		for _, c := range cur.Children {
			if n := &t.nodes[c]; match(n) {
				next = n
				break
			}
		}
		if next == nil {
			return cur
		}
		cur = next
	}
}
