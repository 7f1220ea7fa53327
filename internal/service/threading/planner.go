package threading

import (
	"fmt"

	"conversa/internal/config"
	"conversa/internal/domain"
)

// Range is an inclusive pair of positions into a linearization. An empty
// range has End < Start.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the range selects nothing
func (r Range) Empty() bool {
	return r.End < r.Start
}

// Len returns the number of selected positions
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether i is inside the range
func (r Range) Contains(i int) bool {
	return !r.Empty() && i >= r.Start && i <= r.End
}

// EmptyRange selects nothing
var EmptyRange = Range{Start: 0, End: -1}

// Mode tells the planner whether windows must respect thread boundaries
type Mode int

const (
	ModeFlat Mode = iota
	ModeThreaded
)

func (m Mode) String() string {
	if m == ModeThreaded {
		return "threaded"
	}
	return "flat"
}

// ParseMode maps a mode name back to its value
func ParseMode(s string) (Mode, error) {
	switch s {
	case "flat":
		return ModeFlat, nil
	case "threaded":
		return ModeThreaded, nil
	default:
		return 0, fmt.Errorf("unknown view mode %q", s)
	}
}

// Planner computes which slice of a linearization is materialized
type Planner struct {
	Mode Mode
	// MaxWindow caps a window grown by extension
	MaxWindow int
	// PageSize is the size of a fresh window
	PageSize int
}

// NewPlanner returns a planner using the default limits
func NewPlanner(mode Mode) Planner {
	return Planner{Mode: mode, MaxWindow: config.MaxWindowSize, PageSize: config.PageSize}
}

// Plan clamps req to the linearization. In threaded mode the start moves back
// to the root of its thread and the end moves forward to the last item of its
// thread, so a window never shows part of a subtree.
func (p Planner) Plan(lin *Linearization, req Range) Range {
	n := lin.Len()
	if n == 0 {
		return EmptyRange
	}

	start := clamp(req.Start, 0, n-1)
	end := clamp(req.End, start, n-1)

	if p.Mode == ModeThreaded {
		for start > 0 && !lin.IsRootBoundary(start) {
			start--
		}
		for end+1 < n && !lin.IsRootBoundary(end+1) {
			end++
		}
	}
	return Range{Start: start, End: end}
}

// PlanForOffset brings target into view. A target close to the current
// window (within MaxWindow of either edge) extends it, trimming the far side
// to stay within MaxWindow; anything else gets a fresh window of PageSize
// centred on target.
func (p Planner) PlanForOffset(lin *Linearization, target int, current Range) Range {
	n := lin.Len()
	if n == 0 {
		return EmptyRange
	}
	target = clamp(target, 0, n-1)
	maxWindow := max(p.MaxWindow, 1)

	var next Range
	switch {
	case current.Contains(target):
		next = current
	case !current.Empty() && target < current.Start && target >= current.Start-maxWindow:
		next = Range{Start: target, End: current.End}
		if next.Len() > maxWindow {
			next.End = next.Start + maxWindow - 1
		}
	case !current.Empty() && target > current.End && target <= current.End+maxWindow:
		next = Range{Start: current.Start, End: target}
		if next.Len() > maxWindow {
			next.Start = next.End - maxWindow + 1
		}
	default:
		next = p.centred(target, n)
	}
	return p.Plan(lin, next)
}

// PlanForID is PlanForOffset for the current position of id
func (p Planner) PlanForID(lin *Linearization, id string, current Range) (Range, error) {
	i, ok := lin.IndexOf(id)
	if !ok {
		return EmptyRange, &domain.NotFoundError{Message: fmt.Sprintf("item %s is not in the current view", id)}
	}
	return p.PlanForOffset(lin, i, current), nil
}

func (p Planner) centred(target, n int) Range {
	size := min(max(p.PageSize, 1), n)
	start := clamp(target-size/2, 0, n-size)
	return Range{Start: start, End: start + size - 1}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
