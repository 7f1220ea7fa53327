package discussion

import (
	"time"

	"conversa/internal/service/cache"
	"conversa/internal/service/threading"
)

// FilterAll keeps every message
func FilterAll() threading.Filter {
	return func(threading.Node) threading.Verdict { return threading.Include }
}

// FilterByAuthor keeps the messages of one author. Replies to hidden
// messages are still considered.
func FilterByAuthor(authorID string) threading.Filter {
	return func(n threading.Node) threading.Verdict {
		if n.NodeAuthorID() == authorID {
			return threading.Include
		}
		return threading.Exclude
	}
}

// FilterSince keeps messages created at or after t
func FilterSince(t time.Time) threading.Filter {
	return func(n threading.Node) threading.Verdict {
		if n.NodeCreatedAt().Before(t) {
			return threading.Exclude
		}
		return threading.Include
	}
}

// FilterHideLocal drops messages not yet confirmed by the server, along with
// any replies to them
func FilterHideLocal() threading.Filter {
	return func(n threading.Node) threading.Verdict {
		if cache.IsLocalID(n.NodeID()) {
			return threading.Prune
		}
		return threading.Include
	}
}

// FilterAnd combines filters; the strictest verdict wins
func FilterAnd(filters ...threading.Filter) threading.Filter {
	var active []threading.Filter
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return FilterAll()
	}
	if len(active) == 1 {
		return active[0]
	}

	return func(n threading.Node) threading.Verdict {
		verdict := threading.Include
		for _, f := range active {
			if v := f(n); v > verdict {
				verdict = v
				if verdict == threading.Prune {
					break
				}
			}
		}
		return verdict
	}
}
