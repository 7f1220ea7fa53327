package threading

import (
	"cmp"
	"slices"
	"sort"
	"strings"
	"time"
)

// Record is the per-node metadata produced by one traversal
type Record struct {
	ID   string
	Node Node

	// Index is the position in the current order; it changes on Resort.
	Index int
	// VisitIndex is the position in the original traversal and never changes.
	VisitIndex int
	// Level counts the kept ancestors.
	Level int
	// ParentID is the nearest kept ancestor, "" for a root.
	ParentID string
	// ParentSkipped is set when a real ancestor was filtered out between the
	// node and ParentID.
	ParentSkipped bool
	// IsLastSibling is true for the last kept child of ParentID.
	IsLastSibling bool
	// LastSiblingChain holds IsLastSibling of every ancestor, root first.
	LastSiblingChain []bool
	// Children are the kept children in current order.
	Children []string

	// DescendantCount is the number of kept transitive children.
	DescendantCount int
	// DescendantAuthors holds the authors of the node and its descendants.
	DescendantAuthors map[string]struct{}
	// LastDescendantAt is the latest creation time among the node and its
	// descendants.
	LastDescendantAt time.Time
}

// IsRoot reports whether the record has no kept ancestor
func (r *Record) IsRoot() bool {
	return r.ParentID == ""
}

// Authors returns the sorted descendant author set
func (r *Record) Authors() []string {
	out := make([]string, 0, len(r.DescendantAuthors))
	for a := range r.DescendantAuthors {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Linearization is the ordered result of a traversal
type Linearization struct {
	Order   []string
	Roots   []string
	Records map[string]*Record
	// Broken lists nodes whose parent chain formed a cycle and that were
	// promoted to roots to break it.
	Broken []string
}

// Len returns the number of kept nodes
func (l *Linearization) Len() int {
	return len(l.Order)
}

// At returns the record at position i of the current order
func (l *Linearization) At(i int) *Record {
	return l.Records[l.Order[i]]
}

// IndexOf returns the current position of id
func (l *Linearization) IndexOf(id string) (int, bool) {
	r, ok := l.Records[id]
	if !ok {
		return -1, false
	}
	return r.Index, true
}

// IsRootBoundary reports whether position i starts a new top-level thread
func (l *Linearization) IsRootBoundary(i int) bool {
	return l.At(i).IsRoot()
}

// Prefix draws the tree connectors in front of id
func (l *Linearization) Prefix(id string) string {
	r, ok := l.Records[id]
	if !ok || r.Level == 0 {
		return ""
	}

	var prefix strings.Builder
	// the root level has no connector column
	for _, last := range r.LastSiblingChain[1:] {
		if last {
			prefix.WriteString("  ")
		} else {
			prefix.WriteString("│ ")
		}
	}
	if r.IsLastSibling {
		prefix.WriteString("└─")
	} else {
		prefix.WriteString("├─")
	}
	return prefix.String()
}

// IDs returns the ids of positions [start, end]
func (l *Linearization) IDs(start, end int) []string {
	if l.Len() == 0 || start > end {
		return nil
	}
	return slices.Clone(l.Order[start : end+1])
}

// Clone deep-copies the ordering state so the copy can be resorted
// independently. Nodes and aggregate sets are shared.
func (l *Linearization) Clone() *Linearization {
	out := &Linearization{
		Order:   slices.Clone(l.Order),
		Roots:   slices.Clone(l.Roots),
		Records: make(map[string]*Record, len(l.Records)),
		Broken:  slices.Clone(l.Broken),
	}
	for id, r := range l.Records {
		c := *r
		c.Children = slices.Clone(r.Children)
		c.LastSiblingChain = slices.Clone(r.LastSiblingChain)
		out.Records[id] = &c
	}
	return out
}

type frame struct {
	id         string
	keptParent string
	skipped    bool
	pruned     bool
}

// Traverse performs one depth-first pass over nodes and returns the kept
// nodes in pre-order. Roots are nodes without a parent or whose parent is not
// in nodes; siblings are visited by creation time, then id.
func Traverse(nodes []Node, filter Filter) *Linearization {
	if filter == nil {
		filter = func(Node) Verdict { return Include }
	}

	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID()] = n
	}

	sorted := make([]Node, 0, len(byID))
	for _, n := range byID {
		sorted = append(sorted, n)
	}
	slices.SortFunc(sorted, compareNodes)

	children := make(map[string][]string)
	var roots []string
	for _, n := range sorted {
		parent := n.NodeParentID()
		if _, ok := byID[parent]; parent == "" || parent == n.NodeID() || !ok {
			roots = append(roots, n.NodeID())
			continue
		}
		children[parent] = append(children[parent], n.NodeID())
	}

	lin := &Linearization{Records: make(map[string]*Record)}
	reached := make(map[string]bool, len(byID))
	lastKept := make(map[string]*Record)

	visit := func(rootID string) {
		stack := []frame{{id: rootID}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if reached[f.id] {
				continue
			}
			reached[f.id] = true
			n := byID[f.id]

			verdict := Prune
			if !f.pruned {
				verdict = filter(n)
			}

			next := frame{keptParent: f.keptParent, skipped: f.skipped, pruned: verdict == Prune}
			switch verdict {
			case Include:
				r := &Record{
					ID:            f.id,
					Node:          n,
					Index:         len(lin.Order),
					VisitIndex:    len(lin.Order),
					ParentID:      f.keptParent,
					ParentSkipped: f.skipped,
					IsLastSibling: true,
				}
				if parent, ok := lin.Records[f.keptParent]; ok {
					r.Level = parent.Level + 1
					parent.Children = append(parent.Children, r.ID)
				} else {
					lin.Roots = append(lin.Roots, r.ID)
				}
				// a later kept sibling takes over the last-sibling flag
				if prev, ok := lastKept[f.keptParent]; ok {
					prev.IsLastSibling = false
				}
				lastKept[f.keptParent] = r
				lin.Records[r.ID] = r
				lin.Order = append(lin.Order, r.ID)
				next.keptParent, next.skipped = r.ID, false
			case Exclude:
				next.skipped = true
			}

			kids := children[f.id]
			for i := len(kids) - 1; i >= 0; i-- {
				next.id = kids[i]
				stack = append(stack, next)
			}
		}
	}

	for _, id := range roots {
		visit(id)
	}

	// whatever is still unreached hangs off a parent cycle
	for _, n := range sorted {
		if reached[n.NodeID()] {
			continue
		}
		breakAt := cycleMember(n.NodeID(), byID)
		lin.Broken = append(lin.Broken, breakAt)
		visit(breakAt)
	}

	fillChains(lin)
	aggregate(lin)
	return lin
}

// cycleMember walks up from id until an ancestor repeats and returns it
func cycleMember(id string, byID map[string]Node) string {
	seen := make(map[string]bool)
	for !seen[id] {
		seen[id] = true
		id = byID[id].NodeParentID()
	}
	return id
}

func compareNodes(a, b Node) int {
	if c := a.NodeCreatedAt().Compare(b.NodeCreatedAt()); c != 0 {
		return c
	}
	return cmp.Compare(a.NodeID(), b.NodeID())
}

// fillChains derives LastSiblingChain top-down along the current order
func fillChains(lin *Linearization) {
	for _, id := range lin.Order {
		r := lin.Records[id]
		parent, ok := lin.Records[r.ParentID]
		if !ok {
			r.LastSiblingChain = nil
			continue
		}
		chain := make([]bool, 0, len(parent.LastSiblingChain)+1)
		chain = append(chain, parent.LastSiblingChain...)
		r.LastSiblingChain = append(chain, parent.IsLastSibling)
	}
}

// aggregate is the up-pass: reverse pre-order visits every child before its
// parent, so each node folds already complete child aggregates.
func aggregate(lin *Linearization) {
	for _, id := range lin.Order {
		r := lin.Records[id]
		r.DescendantCount = 0
		r.DescendantAuthors = make(map[string]struct{})
		if author := r.Node.NodeAuthorID(); author != "" {
			r.DescendantAuthors[author] = struct{}{}
		}
		r.LastDescendantAt = r.Node.NodeCreatedAt()
	}

	for i := len(lin.Order) - 1; i >= 0; i-- {
		r := lin.Records[lin.Order[i]]
		parent, ok := lin.Records[r.ParentID]
		if !ok {
			continue
		}
		parent.DescendantCount += 1 + r.DescendantCount
		for a := range r.DescendantAuthors {
			parent.DescendantAuthors[a] = struct{}{}
		}
		if r.LastDescendantAt.After(parent.LastDescendantAt) {
			parent.LastDescendantAt = r.LastDescendantAt
		}
	}
}
