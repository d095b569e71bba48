// Package cmd defines the apicrawler command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/config"
	"github.com/JakeFAU/apicrawler/internal/logging"
)

type contextKey string

const (
	configKey contextKey = "config"
	loggerKey contextKey = "logger"
)

// newRootCmd creates the root command. Configuration and the logger are
// loaded once before any subcommand runs.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "apicrawler",
		Short: "Long-running crawler for social media APIs",
		Long: `apicrawler schedules per-platform crawl jobs against social media
APIs and fans every response out to a WARC archive, an outlink sink and a
triple store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if logger, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
				_ = logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func fromContext(ctx context.Context) (config.Config, *zap.Logger, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, nil, fmt.Errorf("configuration not loaded")
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	if !ok {
		return config.Config{}, nil, fmt.Errorf("logger not initialized")
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
