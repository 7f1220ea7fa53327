package discussion

import (
	"context"
	"time"

	models "conversa/internal/domain/models/discussion"
)

// WindowRequest selects which part of the conversation to materialize.
// At most one anchor is set: an explicit Start/End range, a target Offset or
// an AnchorID. Without any anchor the first page is returned.
type WindowRequest struct {
	// ViewID scopes render generations; a newer request for the same view
	// supersedes older ones still waiting for detail
	ViewID string `json:"view_id,omitempty"`
	Mode   string `json:"mode,omitempty"`   // "threaded" (default) or "flat"
	Policy string `json:"policy,omitempty"` // default "chronological"

	Start    *int   `json:"start,omitempty"`
	End      *int   `json:"end,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
	AnchorID string `json:"anchor_id,omitempty"`

	// Current is the window already displayed; nearby targets extend it
	Current *models.WindowRange `json:"current,omitempty"`

	AuthorID  string     `json:"author_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	HideLocal bool       `json:"hide_local,omitempty"`

	// Detail loads the full representation of every item in the window
	Detail bool `json:"detail,omitempty"`
}

// WindowItem is one materialized row of a window
type WindowItem struct {
	ID                string          `json:"id"`
	Index             int             `json:"index"`
	Level             int             `json:"level"`
	Prefix            string          `json:"prefix"`
	ParentID          string          `json:"parent_id,omitempty"`
	ParentSkipped     bool            `json:"parent_skipped,omitempty"`
	IsLastSibling     bool            `json:"is_last_sibling"`
	DescendantCount   int             `json:"descendant_count"`
	DescendantAuthors []string        `json:"descendant_authors,omitempty"`
	LastDescendantAt  time.Time       `json:"last_descendant_at"`
	Message           *models.Message `json:"message"`
}

// WindowPage is the result of one render pass
type WindowPage struct {
	Generation uint64             `json:"generation"`
	Mode       string             `json:"mode"`
	Policy     string             `json:"policy"`
	Range      models.WindowRange `json:"range"`
	Total      int                `json:"total"`
	Items      []WindowItem       `json:"items"`
	// Unavailable lists items whose full detail could not be loaded; they
	// are rendered from their structural form
	Unavailable []string `json:"unavailable,omitempty"`
}

// IdeaItem is one row of the idea tree
type IdeaItem struct {
	ID              string       `json:"id"`
	Level           int          `json:"level"`
	Prefix          string       `json:"prefix"`
	DescendantCount int          `json:"descendant_count"`
	Idea            *models.Idea `json:"idea"`
}

// ChangeNotice announces a mutation of the message collection. Clients
// holding a window re-request it; OldID set means the identity was replaced.
type ChangeNotice struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	OldID   string `json:"old_id,omitempty"`
	Version uint64 `json:"version"`
}

// ViewService renders windows over the mirrored discussion
type ViewService interface {
	// Window computes and materializes one window. A pass superseded by a
	// newer one for the same view returns domain.ErrStaleGeneration.
	Window(ctx context.Context, req *WindowRequest) (*WindowPage, error)

	// Message returns the full representation of a single message
	Message(ctx context.Context, id string) (*models.Message, error)

	// IdeaTree returns the idea tree in display order
	IdeaTree(ctx context.Context) ([]IdeaItem, error)

	// Changes streams message collection changes until ctx is done. Notices
	// are dropped when the consumer falls more than a buffer behind.
	Changes(ctx context.Context) (<-chan ChangeNotice, error)
}
