package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"conversa/internal/config"
	repos "conversa/internal/domain/repositories/discussion"
	discussionSvc "conversa/internal/domain/services/discussion"
	"conversa/internal/observability"
	"conversa/internal/repository/httpapi"
	"conversa/internal/repository/postgres"
	pgDiscussion "conversa/internal/repository/postgres/discussion"
	"conversa/internal/service/cache"
	"conversa/internal/service/coalescer"
	"conversa/internal/service/discussion"
	"conversa/internal/service/livefeed"
)

var _ livefeed.Handler = (*cache.Cache)(nil)

// app is the wired mirror shared by every subcommand
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	reports *observability.Recorder

	cache     *cache.Cache
	coalescer *coalescer.Coalescer
	views     discussionSvc.ViewService

	pool *pgxpool.Pool
}

// newApp builds the source, loads every collection and wires the services.
// The message structure collection must load; the others may degrade.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, reports: &observability.Recorder{}}

	source, err := a.newSource(ctx)
	if err != nil {
		return nil, err
	}

	sink := observability.Multi{observability.NewSlogSink(logger), a.reports}
	a.cache = cache.New(source, sink, logger)

	if cfg.BootstrapFile != "" {
		b, err := config.LoadBootstrap(cfg.BootstrapFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		if b.DiscussionID != "" && b.DiscussionID != cfg.DiscussionID {
			logger.Warn("bootstrap belongs to another discussion",
				"bootstrap_discussion_id", b.DiscussionID,
				"discussion_id", cfg.DiscussionID,
			)
		}
		a.cache.Seed(b)
	}

	if err := a.cache.Warm(ctx); err != nil {
		logger.Warn("warm-up incomplete", "error", err)
	}
	structures, err := a.cache.MessageStructures().Wait(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load message structures: %w", err)
	}

	a.coalescer = coalescer.New(source, structures, coalescer.Config{
		Threshold: cfg.BatchThreshold,
		Lifetime:  cfg.WorkerLifetime,
	}, sink, logger)

	a.views = discussion.NewViewService(a.cache, a.coalescer, discussion.ViewConfig{
		MaxWindowSize: cfg.MaxWindowSize,
		PageSize:      cfg.PageSize,
	}, logger)

	logger.Info("mirror ready",
		"discussion_id", cfg.DiscussionID,
		"messages", structures.Len(),
	)
	return a, nil
}

func (a *app) newSource(ctx context.Context) (repos.Source, error) {
	if a.cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.logger.Info("using database source", "table_prefix", a.cfg.TablePrefix)
		return pgDiscussion.NewSource(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(a.cfg.TablePrefix),
			Logger: a.logger,
		}, a.cfg.DiscussionID), nil
	}

	a.logger.Info("using api source", "base_url", a.cfg.APIBaseURL)
	return httpapi.NewClient(httpapi.Config{
		BaseURL:      a.cfg.APIBaseURL,
		DiscussionID: a.cfg.DiscussionID,
		Token:        a.cfg.APIToken,
		Timeout:      a.cfg.HTTPTimeout,
	}, a.logger), nil
}

// Close stops the workers and releases the database pool
func (a *app) Close() {
	if a.coalescer != nil {
		a.coalescer.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
