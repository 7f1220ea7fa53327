package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"conversa/internal/config"
)

func main() {
	var (
		cfg     *config.Config
		logger  *slog.Logger
		logFile *os.File
	)

	rootCmd := &cobra.Command{
		Use:           "mirror",
		Short:         "Client-side mirror of a discussion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var discussionID, apiURL string
	rootCmd.PersistentFlags().StringVarP(&discussionID, "discussion", "d", "", "Discussion to mirror (overrides DISCUSSION_ID)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Platform API base URL (overrides API_BASE_URL)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Load .env file (silently ignore if it doesn't exist - for production)
		_ = godotenv.Load()

		cfg = config.Load()
		if discussionID != "" {
			cfg.DiscussionID = discussionID
		}
		if apiURL != "" {
			cfg.APIBaseURL = apiURL
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		var out io.Writer = os.Stderr
		if cfg.LogDir != "" {
			f, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
			if err != nil {
				return err
			}
			logFile = f
			out = io.MultiWriter(os.Stderr, f)
		}
		logger = config.NewLogger(cfg, out)
		slog.SetDefault(logger)
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	}

	rootCmd.AddCommand(
		newServeCmd(&cfg, &logger),
		newWindowCmd(&cfg, &logger),
		newSeedCmd(&cfg, &logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
