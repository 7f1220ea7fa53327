package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"conversa/internal/config"
	"conversa/internal/handler"
	"conversa/internal/handler/sse"
	"conversa/internal/middleware"
	"conversa/internal/service/livefeed"
)

func newServeCmd(cfg **config.Config, logger **slog.Logger) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Mirror the discussion and serve windows over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log := *cfg, *logger
			if port != "" {
				c.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c, log)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	windowHandler := handler.NewWindowHandler(a.views, logger)
	changesHandler := handler.NewChangesHandler(a.views, sse.DefaultConfig(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", windowHandler.HealthCheck)
	mux.HandleFunc("GET /api/window", windowHandler.GetWindow)
	mux.HandleFunc("POST /api/window", windowHandler.PostWindow)
	mux.HandleFunc("GET /api/messages/{id}", windowHandler.GetMessage)
	mux.HandleFunc("GET /api/ideas", windowHandler.GetIdeas)
	mux.HandleFunc("GET /api/changes", changesHandler.StreamChanges) // SSE

	if cfg.Debug {
		debugHandler := handler.NewDebugHandler(a.reports)
		mux.HandleFunc("GET /debug/api/reports", debugHandler.GetReports)
	}

	// Order: CORS → RequestID → Logging → Recovery → Routes
	var h http.Handler = mux
	h = middleware.Recovery(logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID(h)
	h = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOriginList(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Last-Event-ID", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}).Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.FeedURL != "" {
		feed := livefeed.New(livefeed.Config{
			URL:          cfg.FeedURL,
			DiscussionID: cfg.DiscussionID,
			Token:        cfg.APIToken,
			PingInterval: 30 * time.Second,
		}, a.cache, logger)
		g.Go(func() error { return feed.Run(ctx) })
	} else {
		logger.Warn("FEED_URL not set, live updates disabled")
	}

	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
