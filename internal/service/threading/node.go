// Package threading linearizes a message (or idea) forest for display:
// a single depth-first traversal, policy-driven re-sorting, and the planning
// of bounded windows over the result.
package threading

import "time"

// Node is a tree item as seen by the visitor
type Node interface {
	NodeID() string
	NodeParentID() string
	NodeCreatedAt() time.Time
	NodeAuthorID() string
	NodeLikeCount() int
}

// Verdict is a filter decision for one node
type Verdict int

const (
	// Include keeps the node and continues into its children
	Include Verdict = iota
	// Exclude hides the node but still visits its children
	Exclude
	// Prune hides the node and its whole subtree
	Prune
)

func (v Verdict) String() string {
	switch v {
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	case Prune:
		return "prune"
	default:
		return "unknown"
	}
}

// Filter decides which nodes are part of the result set. A nil Filter keeps
// everything.
type Filter func(Node) Verdict

// flatNode hides the parent link so every item becomes a root
type flatNode struct {
	Node
}

func (flatNode) NodeParentID() string { return "" }

// Nodes converts a slice of concrete node types
func Nodes[N Node](nodes []N) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

// Unwrap returns the node passed to Flat, or n itself
func Unwrap(n Node) Node {
	if f, ok := n.(flatNode); ok {
		return f.Node
	}
	return n
}
