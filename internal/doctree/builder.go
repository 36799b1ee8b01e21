package doctree

// Builder nests a flat, level-tagged stream of sections into a Tree.
//
// Each pushed section is compared against the current stack top (the root when the
// stack is empty): a deeper level becomes a child of the top, an equal level becomes
// a sibling of the top, and a shallower level pops the stack until the top is no
// deeper than the new section before retrying.
type Builder struct {
	tree  *Tree
	stack []SectionID
	open  map[SectionID]bool
}

// NewBuilder returns a builder that appends under tree's root.
func NewBuilder(tree *Tree) *Builder {
	return &Builder{tree: tree, open: make(map[SectionID]bool)}
}

// Tree returns the tree being built.
func (b *Builder) Tree() *Tree { return b.tree }

// Push inserts s with closed bounds.
func (b *Builder) Push(s Section) SectionID {
	return b.push(s, false)
}

// PushOpen inserts s whose end bound is not yet known. The end is patched when a
// later section of the same or a shallower level supersedes it, or on Finish.
func (b *Builder) PushOpen(s Section) SectionID {
	return b.push(s, true)
}

func (b *Builder) push(s Section, open bool) SectionID {
	top := b.top()
	switch {
	case top.Level < s.Level:
		id := b.tree.AddChild(top.ID, s)
		b.stack = append(b.stack, id)
		b.open[id] = open
		return id
	case top.Level > s.Level && len(b.stack) > 0:
		for len(b.stack) > 0 && b.tree.Node(b.stack[len(b.stack)-1]).Level > s.Level {
			b.closeAt(b.stack[len(b.stack)-1], s)
			b.stack = b.stack[:len(b.stack)-1]
		}
		return b.push(s, open)
	default:
		parent := RootID
		if len(b.stack) > 0 {
			parent = top.Parent
			b.closeAt(top.ID, s)
			b.stack = b.stack[:len(b.stack)-1]
		}
		id := b.tree.AddChild(parent, s)
		b.stack = append(b.stack, id)
		b.open[id] = open
		return id
	}
}

func (b *Builder) top() *Section {
	if len(b.stack) == 0 {
		return b.tree.Root()
	}
	return b.tree.Node(b.stack[len(b.stack)-1])
}

// closeAt patches the open end of id so it stops where next begins.
func (b *Builder) closeAt(id SectionID, next Section) {
	if !b.open[id] {
		return
	}
	n := b.tree.Node(id)
	if n.TextRange != nil && next.TextRange != nil {
		stop := max(next.TextRange.Start, n.TextRange.Start)
		n.TextRange.Stop = stop
	}
	last := next.Pager.First - 1
	if next.Pager.First > n.Pager.First {
		n.Pager.Last = last
	} else {
		n.Pager.Last = n.Pager.First
	}
	b.open[id] = false
}

// Finish closes every still-open section at the document end and widens
// parents so their spans cover their children.
func (b *Builder) Finish(textEnd, lastPage int) *Tree {
	for _, id := range b.stack {
		if !b.open[id] {
			continue
		}
		n := b.tree.Node(id)
		if n.TextRange != nil {
			n.TextRange.Stop = max(textEnd, n.TextRange.Start)
		}
		n.Pager.Last = max(lastPage, n.Pager.First)
		b.open[id] = false
	}
	b.stack = nil
	b.cover(RootID)
	return b.tree
}

func (b *Builder) cover(id SectionID) {
	n := b.tree.Node(id)
	for _, c := range n.Children {
		b.cover(c)
		child := b.tree.Node(c)
		if id == RootID {
			continue
		}
		if child.Pager.Last > n.Pager.Last {
			n.Pager.Last = child.Pager.Last
		}
		if n.TextRange != nil && child.TextRange != nil && child.TextRange.Stop > n.TextRange.Stop {
			n.TextRange.Stop = child.TextRange.Stop
		}
	}
}
