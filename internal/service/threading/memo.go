package threading

import (
	"slices"
	"sync"
)

// Query identifies one linearization of a node set
type Query struct {
	// Version is the mutation counter of the source collection
	Version uint64
	Filter  Filter
	Policy  Policy
	Mode    Mode
}

// MemoStats counts the work a Memo did
type MemoStats struct {
	Traversals int
	Resorts    int
	Hits       int
}

// Memo caches the last linearization. It traverses again only when the
// source version, the mode or the filter verdicts (compared by content)
// change; a policy change alone resorts a copy of the cached traversal.
type Memo struct {
	mu       sync.Mutex
	version  uint64
	mode     Mode
	verdicts []verdictKey
	base     *Linearization // chronological, as traversed
	policy   Policy
	sorted   *Linearization
	stats    MemoStats
}

// Linearize returns the linearization of nodes for q. The result is shared
// with later callers and must not be mutated.
func (m *Memo) Linearize(nodes []Node, q Query) *Linearization {
	if q.Mode == ModeFlat {
		nodes = flatten(nodes)
	}
	verdicts := filterVerdicts(nodes, q.Filter)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.base == nil || m.version != q.Version || m.mode != q.Mode || !slices.Equal(m.verdicts, verdicts) {
		m.base = Traverse(nodes, q.Filter)
		m.version, m.mode, m.verdicts = q.Version, q.Mode, verdicts
		m.sorted = nil
		m.stats.Traversals++
	}

	if m.sorted != nil && m.policy == q.Policy {
		m.stats.Hits++
		return m.sorted
	}

	if q.Policy == PolicyChronological {
		m.sorted = m.base
	} else {
		m.sorted = m.base.Clone()
		Resort(m.sorted, q.Policy.Comparator())
		m.stats.Resorts++
	}
	m.policy = q.Policy
	return m.sorted
}

// Stats returns a snapshot of the counters
func (m *Memo) Stats() MemoStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Invalidate drops the cached linearization
func (m *Memo) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base, m.sorted, m.verdicts = nil, nil, nil
}

func flatten(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		if _, ok := n.(flatNode); ok {
			out[i] = n
			continue
		}
		out[i] = flatNode{Node: n}
	}
	return out
}

// verdictKey is one node's filter decision. Excluded and pruned nodes are
// both hidden, but only a prune hides the subtree, so the key keeps them apart.
type verdictKey struct {
	id      string
	verdict Verdict
}

// filterVerdicts lists the verdict of every node, in input order
func filterVerdicts(nodes []Node, filter Filter) []verdictKey {
	out := make([]verdictKey, len(nodes))
	for i, n := range nodes {
		v := Include
		if filter != nil {
			v = filter(n)
		}
		out[i] = verdictKey{id: n.NodeID(), verdict: v}
	}
	return out
}
