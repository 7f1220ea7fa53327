// Package seed fills a dev database with a generated discussion so the
// database source can be exercised without a platform replica.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	models "conversa/internal/domain/models/discussion"
	"conversa/internal/repository/postgres"
)

// Options shapes the generated discussion
type Options struct {
	Threads    int
	MaxReplies int
	Users      int
	Ideas      int
	Seed       uint64
	Start      time.Time
}

// DefaultOptions returns a discussion large enough to need several windows
func DefaultOptions() Options {
	return Options{
		Threads:    40,
		MaxReplies: 12,
		Users:      8,
		Ideas:      6,
		Seed:       1,
		Start:      time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// Fixture is a generated discussion, parents always before children
type Fixture struct {
	Users    []*models.User
	Ideas    []*models.Idea
	Messages []*models.Message
	Extracts []*models.Extract
}

var words = strings.Fields(`agree budget city council cycling data design draft evidence
	funding housing idea impact lane local meeting neighbourhood option park plan policy
	priority proposal question review risk road safety school street survey traffic transit
	trial vote walking`)

// Generate builds a deterministic discussion from opts
func Generate(discussionID string, opts Options) *Fixture {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	f := &Fixture{}
	at := opts.Start

	for i := range opts.Users {
		f.Users = append(f.Users, &models.User{
			ID:        fmt.Sprintf("%s-u%02d", discussionID, i+1),
			Name:      fmt.Sprintf("Participant %d", i+1),
			CreatedAt: opts.Start,
		})
	}

	var rootIdea *string
	for i := range opts.Ideas {
		title := words[rng.IntN(len(words))]
		idea := &models.Idea{
			ID:         fmt.Sprintf("%s-i%02d", discussionID, i+1),
			Type:       "Idea",
			CreatedAt:  opts.Start,
			ShortTitle: strings.ToUpper(title[:1]) + title[1:],
			Definition: sentence(rng, 8),
			Order:      float64(i),
		}
		if i == 0 {
			idea.Type = "RootIdea"
			idea.ShortTitle = "Discussion"
			rootIdea = &idea.ID
		} else {
			idea.ParentID = rootIdea
		}
		f.Ideas = append(f.Ideas, idea)
	}

	n := 0
	for t := range opts.Threads {
		var thread []*models.Message
		replies := 0
		if opts.MaxReplies > 0 {
			replies = rng.IntN(opts.MaxReplies + 1)
		}
		for r := 0; r <= replies; r++ {
			n++
			at = at.Add(time.Duration(1+rng.IntN(90)) * time.Minute)
			m := &models.Message{
				ID:        fmt.Sprintf("%s-p%04d", discussionID, n),
				Type:      "AssemblPost",
				CreatedAt: at,
				Body:      sentence(rng, 12+rng.IntN(30)),
				LikeCount: rng.IntN(11),
				Detail:    models.DetailFull,
			}
			if len(f.Users) > 0 {
				m.CreatorID = f.Users[rng.IntN(len(f.Users))].ID
			}
			if r == 0 {
				m.Subject = fmt.Sprintf("Thread %d: %s", t+1, sentence(rng, 4))
			} else {
				parent := thread[rng.IntN(len(thread))]
				m.ParentID = &parent.ID
				m.Subject = "Re: " + strings.TrimPrefix(parent.Subject, "Re: ")
			}
			if m.LikeCount > 0 {
				m.SentimentCounts = map[string]int{"like": m.LikeCount}
			}
			thread = append(thread, m)
		}
		f.Messages = append(f.Messages, thread...)
	}

	for i, m := range f.Messages {
		if len(f.Ideas) < 2 || i%7 != 0 {
			continue
		}
		idea := f.Ideas[1+rng.IntN(len(f.Ideas)-1)]
		f.Extracts = append(f.Extracts, &models.Extract{
			ID:        fmt.Sprintf("%s-x%04d", discussionID, len(f.Extracts)+1),
			MessageID: m.ID,
			IdeaID:    &idea.ID,
			Body:      excerpt(m.Body),
			CreatedAt: m.CreatedAt.Add(time.Hour),
		})
	}
	return f
}

func sentence(rng *rand.Rand, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[rng.IntN(len(words))]
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

func excerpt(body string) string {
	fields := strings.Fields(body)
	if len(fields) > 5 {
		fields = fields[:5]
	}
	return strings.Join(fields, " ")
}

// DiscussionSeeder writes fixtures into the prefixed tables
type DiscussionSeeder struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewDiscussionSeeder creates a new discussion seeder
func NewDiscussionSeeder(pool *pgxpool.Pool, tables *postgres.TableNames, logger *slog.Logger) *DiscussionSeeder {
	return &DiscussionSeeder{
		pool:   pool,
		tables: tables,
		logger: logger,
	}
}

// Seed inserts f in one batch. Rows that already exist are left alone.
func (s *DiscussionSeeder) Seed(ctx context.Context, discussionID string, f *Fixture) error {
	b := &pgx.Batch{}

	for _, u := range f.Users {
		b.Queue(`INSERT INTO `+s.tables.Users+` (id, discussion_id, name, created_at)
			VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			u.ID, discussionID, u.Name, u.CreatedAt)
	}
	for _, i := range f.Ideas {
		b.Queue(`INSERT INTO `+s.tables.Ideas+` (id, discussion_id, type, parent_id, created_at, short_title, definition, "order")
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING`,
			i.ID, discussionID, i.Type, i.ParentID, i.CreatedAt, i.ShortTitle, i.Definition, i.Order)
	}
	for _, m := range f.Messages {
		b.Queue(`INSERT INTO `+s.tables.Posts+` (id, discussion_id, type, parent_id, created_at, creator_id, like_count, subject, body, sentiment_counts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT DO NOTHING`,
			m.ID, discussionID, m.Type, m.ParentID, m.CreatedAt, m.CreatorID, m.LikeCount, m.Subject, m.Body, m.SentimentCounts)
	}
	for _, e := range f.Extracts {
		b.Queue(`INSERT INTO `+s.tables.Extracts+` (id, discussion_id, post_id, idea_id, body, created_at)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
			e.ID, discussionID, e.MessageID, e.IdeaID, e.Body, e.CreatedAt)
	}

	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("seed discussion %s: %w", discussionID, postgres.Describe(err, s.tables.Posts))
	}

	s.logger.Info("discussion seeded",
		"discussion_id", discussionID,
		"users", len(f.Users),
		"ideas", len(f.Ideas),
		"messages", len(f.Messages),
		"extracts", len(f.Extracts),
	)
	return nil
}

// Clear deletes every row of a discussion
func (s *DiscussionSeeder) Clear(ctx context.Context, discussionID string) error {
	for _, table := range []string{s.tables.Extracts, s.tables.Posts, s.tables.Ideas, s.tables.Users} {
		if _, err := s.pool.Exec(ctx, "DELETE FROM "+table+" WHERE discussion_id = $1", discussionID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
