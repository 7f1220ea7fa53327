package discussion

import (
	"context"

	models "conversa/internal/domain/models/discussion"
)

// CollectionSource fetches whole collections, one call per kind
type CollectionSource interface {
	// FetchMessageStructures returns every message in structural form
	// (identity, parent, date, author, like count; no body)
	FetchMessageStructures(ctx context.Context) ([]*models.Message, error)

	// FetchIdeas returns the idea tree as a flat list
	FetchIdeas(ctx context.Context) ([]*models.Idea, error)

	// FetchExtracts returns every extract of the discussion
	FetchExtracts(ctx context.Context) ([]*models.Extract, error)

	// FetchUsers returns the participant profiles
	FetchUsers(ctx context.Context) ([]*models.User, error)
}

// MessageDetailSource fetches full-detail messages in bulk.
// Callers keep len(ids) bounded so that an id-bearing query string stays
// under common URL length limits.
type MessageDetailSource interface {
	// FetchMessagesByIDs returns the full representation of the given messages.
	// Ids unknown to the server are simply absent from the result.
	FetchMessagesByIDs(ctx context.Context, ids []string, view models.ViewMode) ([]*models.Message, error)
}

// Source is the full read surface of the discussion platform
type Source interface {
	CollectionSource
	MessageDetailSource
}
