package discussion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	models "conversa/internal/domain/models/discussion"
	"conversa/internal/domain/repositories"
	repos "conversa/internal/domain/repositories/discussion"
	"conversa/internal/repository/postgres"
)

// PostgresSource reads a discussion straight from a replica of the
// platform database
type PostgresSource struct {
	db           repositories.DBTX
	tables       *postgres.TableNames
	discussionID string
	logger       *slog.Logger
}

// NewSource creates a new PostgresSource scoped to one discussion
func NewSource(config *postgres.RepositoryConfig, discussionID string) repos.Source {
	return &PostgresSource{
		db:           config.Pool,
		tables:       config.Tables,
		discussionID: discussionID,
		logger:       config.Logger,
	}
}

const structureColumns = `id, type, parent_id, created_at, creator_id, like_count`

const detailColumns = structureColumns + `, subject, body, sentiment_counts`

// FetchMessageStructures returns every live message in structural form
func (s *PostgresSource) FetchMessageStructures(ctx context.Context) ([]*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE discussion_id = $1 AND NOT tombstone
		ORDER BY created_at, id
	`, structureColumns, s.tables.Posts)

	rows, err := s.db.Query(ctx, query, s.discussionID)
	if err != nil {
		return nil, fmt.Errorf("fetch message structures: %w", postgres.Describe(err, s.tables.Posts))
	}
	messages, err := pgx.CollectRows(rows, scanStructure)
	if err != nil {
		return nil, fmt.Errorf("scan message structures: %w", err)
	}

	s.logger.Debug("message structures read", "count", len(messages))
	return messages, nil
}

// FetchMessagesByIDs returns the requested messages; unknown ids are absent
func (s *PostgresSource) FetchMessagesByIDs(ctx context.Context, ids []string, view models.ViewMode) ([]*models.Message, error) {
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}

	columns, scan := detailColumns, scanDetail
	if view == models.ViewID {
		columns, scan = structureColumns, scanStructure
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE discussion_id = $1 AND id = ANY($2) AND NOT tombstone
	`, columns, s.tables.Posts)

	rows, err := s.db.Query(ctx, query, s.discussionID, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch messages by ids: %w", postgres.Describe(err, s.tables.Posts))
	}
	messages, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return messages, nil
}

// FetchIdeas returns the idea tree as a flat list
func (s *PostgresSource) FetchIdeas(ctx context.Context) ([]*models.Idea, error) {
	query := fmt.Sprintf(`
		SELECT id, type, parent_id, created_at, short_title, definition, "order"
		FROM %s
		WHERE discussion_id = $1 AND NOT tombstone
		ORDER BY "order", created_at
	`, s.tables.Ideas)

	rows, err := s.db.Query(ctx, query, s.discussionID)
	if err != nil {
		return nil, fmt.Errorf("fetch ideas: %w", postgres.Describe(err, s.tables.Ideas))
	}
	ideas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Idea, error) {
		var idea models.Idea
		err := row.Scan(&idea.ID, &idea.Type, &idea.ParentID, &idea.CreatedAt,
			&idea.ShortTitle, &idea.Definition, &idea.Order)
		return &idea, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan ideas: %w", err)
	}
	return ideas, nil
}

// FetchExtracts returns every extract of the discussion
func (s *PostgresSource) FetchExtracts(ctx context.Context) ([]*models.Extract, error) {
	query := fmt.Sprintf(`
		SELECT id, post_id, idea_id, body, created_at
		FROM %s
		WHERE discussion_id = $1
		ORDER BY created_at, id
	`, s.tables.Extracts)

	rows, err := s.db.Query(ctx, query, s.discussionID)
	if err != nil {
		return nil, fmt.Errorf("fetch extracts: %w", postgres.Describe(err, s.tables.Extracts))
	}
	extracts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Extract, error) {
		var e models.Extract
		err := row.Scan(&e.ID, &e.MessageID, &e.IdeaID, &e.Body, &e.CreatedAt)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan extracts: %w", err)
	}
	return extracts, nil
}

// FetchUsers returns the participants of the discussion
func (s *PostgresSource) FetchUsers(ctx context.Context) ([]*models.User, error) {
	query := fmt.Sprintf(`
		SELECT id, name, created_at
		FROM %s
		WHERE discussion_id = $1
		ORDER BY created_at, id
	`, s.tables.Users)

	rows, err := s.db.Query(ctx, query, s.discussionID)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", postgres.Describe(err, s.tables.Users))
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.User, error) {
		var u models.User
		err := row.Scan(&u.ID, &u.Name, &u.CreatedAt)
		return &u, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return users, nil
}

func scanStructure(row pgx.CollectableRow) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.Type, &m.ParentID, &m.CreatedAt, &m.CreatorID, &m.LikeCount); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.Detail = models.DetailStructure
	return &m, nil
}

func scanDetail(row pgx.CollectableRow) (*models.Message, error) {
	var m models.Message
	var createdAt time.Time
	err := row.Scan(
		&m.ID,
		&m.Type,
		&m.ParentID,
		&createdAt,
		&m.CreatorID,
		&m.LikeCount,
		&m.Subject,
		&m.Body,
		&m.SentimentCounts,
	)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = createdAt.UTC()
	m.Detail = models.DetailFull
	return &m, nil
}
