package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"conversa/internal/config"
	"conversa/internal/repository/postgres"
	"conversa/internal/seed"
)

func newSeedCmd(cfg **config.Config, logger **slog.Logger) *cobra.Command {
	var (
		dropTables bool
		schemaOnly bool
		clearData  bool
		opts       = seed.DefaultOptions()
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the tables and seed a generated discussion (dev databases only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log := *cfg, *logger
			if c.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			// Prevent destructive operations in production
			if c.Environment == "prod" && (dropTables || clearData) {
				return errors.New("--drop-tables and --clear-data are blocked in production")
			}

			ctx := context.Background()
			pool, err := postgres.CreateConnectionPool(ctx, c.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			tables := postgres.NewTableNames(c.TablePrefix)
			seeder := seed.NewDiscussionSeeder(pool, tables, log)

			if dropTables {
				if err := postgres.DropTables(ctx, pool, tables); err != nil {
					return err
				}
				log.Info("tables dropped", "table_prefix", c.TablePrefix)
			}
			if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
				return err
			}
			if schemaOnly {
				log.Info("schema ready", "table_prefix", c.TablePrefix)
				return nil
			}
			if clearData {
				return seeder.Clear(ctx, c.DiscussionID)
			}

			return seeder.Seed(ctx, c.DiscussionID, seed.Generate(c.DiscussionID, opts))
		},
	}

	cmd.Flags().BoolVar(&dropTables, "drop-tables", false, "Drop all tables before seeding (fresh start)")
	cmd.Flags().BoolVar(&schemaOnly, "schema-only", false, "Only set up schema, don't seed")
	cmd.Flags().BoolVar(&clearData, "clear-data", false, "Delete the discussion's rows (keep schema)")
	cmd.Flags().IntVar(&opts.Threads, "threads", opts.Threads, "Number of threads")
	cmd.Flags().IntVar(&opts.MaxReplies, "max-replies", opts.MaxReplies, "Maximum replies per thread")
	cmd.Flags().IntVar(&opts.Users, "users", opts.Users, "Number of participants")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	return cmd
}
