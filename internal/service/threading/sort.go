package threading

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Compare orders two sibling records. Siblings always share ParentID, so a
// comparator may apply a different key to roots than to replies.
type Compare func(a, b *Record) int

// Resort reorders lin in place with compare, falling back to the original
// traversal order on ties. Only records are consulted; the source tree is not
// revisited.
func Resort(lin *Linearization, compare Compare) {
	byCmp := func(a, b string) int {
		ra, rb := lin.Records[a], lin.Records[b]
		if c := compare(ra, rb); c != 0 {
			return c
		}
		return ra.VisitIndex - rb.VisitIndex
	}

	slices.SortStableFunc(lin.Roots, byCmp)
	for _, r := range lin.Records {
		if len(r.Children) > 1 {
			slices.SortStableFunc(r.Children, byCmp)
		}
	}

	reindex(lin)
}

// reindex rebuilds Order, Index and the sibling flags from Roots and Children
func reindex(lin *Linearization) {
	order := make([]string, 0, len(lin.Records))
	stack := make([]string, 0, len(lin.Roots))
	for i := len(lin.Roots) - 1; i >= 0; i-- {
		stack = append(stack, lin.Roots[i])
	}
	markLast(lin, lin.Roots)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r := lin.Records[id]
		r.Index = len(order)
		order = append(order, id)

		markLast(lin, r.Children)
		for i := len(r.Children) - 1; i >= 0; i-- {
			stack = append(stack, r.Children[i])
		}
	}

	lin.Order = order
	fillChains(lin)
}

func markLast(lin *Linearization, ids []string) {
	for i, id := range ids {
		lin.Records[id].IsLastSibling = i == len(ids)-1
	}
}

// Policy selects how a linearization is ordered
type Policy int

const (
	PolicyChronological Policy = iota
	PolicyReverseChronological
	PolicyPopularity
	PolicyRecentlyActiveThreads
	PolicyRecentThreadStarters
)

// Policies lists every policy
var Policies = []Policy{
	PolicyChronological,
	PolicyReverseChronological,
	PolicyPopularity,
	PolicyRecentlyActiveThreads,
	PolicyRecentThreadStarters,
}

func (p Policy) String() string {
	switch p {
	case PolicyChronological:
		return "chronological"
	case PolicyReverseChronological:
		return "reverse_chronological"
	case PolicyPopularity:
		return "popularity"
	case PolicyRecentlyActiveThreads:
		return "recently_active_threads"
	case PolicyRecentThreadStarters:
		return "recent_thread_starters"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a policy name back to its value
func ParsePolicy(s string) (Policy, error) {
	for _, p := range Policies {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown sort policy %q", s)
}

// Comparator returns the sibling comparison of p
func (p Policy) Comparator() Compare {
	switch p {
	case PolicyReverseChronological:
		return func(a, b *Record) int { return -byCreated(a, b) }
	case PolicyPopularity:
		return func(a, b *Record) int {
			if c := cmp.Compare(b.Node.NodeLikeCount(), a.Node.NodeLikeCount()); c != 0 {
				return c
			}
			return -byCreated(a, b)
		}
	case PolicyRecentlyActiveThreads:
		return func(a, b *Record) int {
			if a.IsRoot() {
				return b.LastDescendantAt.Compare(a.LastDescendantAt)
			}
			return byCreated(a, b)
		}
	case PolicyRecentThreadStarters:
		return func(a, b *Record) int {
			if a.IsRoot() {
				return -byCreated(a, b)
			}
			return byCreated(a, b)
		}
	default:
		return byCreated
	}
}

func byCreated(a, b *Record) int {
	return a.Node.NodeCreatedAt().Compare(b.Node.NodeCreatedAt())
}
