package cmd

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/filtering"
	"github.com/spigell/career-sync/internal/ingest"
	"github.com/spigell/career-sync/internal/logger"
	"github.com/spigell/career-sync/internal/utils"
)

const (
	PromptYes     = "Yes"
	PromptNo      = "No"
	PromptShowIDs = "Show opportunity ids"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every configured career site once",
	Run: func(cmd *cobra.Command, _ []string) {
		runSync(cmd)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before generating records")
	syncCmd.Flags().StringSliceP("source", "s", nil, "sync only the named sources")
	syncCmd.Flags().StringP("exclude-file", "e", "", "JSON file with opportunity ids to skip")
	syncCmd.Flags().Int("limit", 0, "maximum number of opportunities per source")
	syncCmd.Flags().Bool("include-known", false, "process opportunities that are already synced")
	syncCmd.Flags().StringSlice("skip-filter", nil, "disable the named filters (known, exclude_file, limit)")

	viper.BindPFlag("filters.exclude-file", syncCmd.Flags().Lookup("exclude-file"))
	viper.BindPFlag("filters.limit", syncCmd.Flags().Lookup("limit"))
	viper.BindPFlag("filters.include-known", syncCmd.Flags().Lookup("include-known"))
}

func runSync(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, config := setup()

	rt, err := newRuntime(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing dependencies", zap.Error(err))
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Warn("closing dependencies", zap.Error(err))
		}
	}()

	names, _ := cmd.Flags().GetStringSlice("source")
	registry, err := rt.sources(names...)
	if err != nil {
		logger.Fatal("preparing sources", zap.Error(err))
	}

	skipped, _ := cmd.Flags().GetStringSlice("skip-filter")
	steps := func() []filtering.Filter {
		s := filtering.Default()
		for _, name := range skipped {
			filtering.DisableByName(s, name, "skipped by flag")
		}
		return s
	}
	for _, status := range filtering.Describe(steps()) {
		logger.Info("filter", zap.String("name", status.Name), zap.Bool("enabled", status.Enabled), zap.String("reason", status.Reason))
	}

	opts := []ingest.Option{
		ingest.WithFilters(config.Filters),
		ingest.WithSteps(steps),
		ingest.WithMetrics(rt.metrics),
		ingest.WithLogger(logger),
	}
	if approved, _ := cmd.Flags().GetBool("auto-approve"); !approved {
		opts = append(opts, ingest.WithConfirm(confirm(logger)))
	}

	report := ingest.NewJob(rt.services, opts...).Run(ctx, registry)
	for _, src := range report.Sources {
		for id, err := range src.Failed {
			logger.Warn("failed opportunity", zap.String("source", src.Source), zap.String("id", id), zap.Error(err))
		}
	}
	if err := report.Err(); err != nil {
		logger.Error("sync finished with errors", zap.Error(err))
	}
}

// setup builds the process logger and reads the config.
func setup() (*zap.Logger, *Config) {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		l.Fatal("config is required")
	}

	l.Info("starting the career-sync", zap.String("version", version))
	return l, config
}

func confirm(logger *zap.Logger) ingest.Confirm {
	return func(_ context.Context, source string, ids []string) (bool, error) {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Generate %d opportunities from %s?", len(ids), source),
			Items: []string{PromptYes, PromptNo, PromptShowIDs},
		}
		for {
			_, action, err := prompt.Run()
			if err != nil {
				return false, err
			}
			switch action {
			case PromptYes:
				return true, nil
			case PromptNo:
				return false, nil
			case PromptShowIDs:
				logger.Info("opportunities to generate",
					zap.String("source", source),
					zap.String("ids", utils.TruncateForLog(strings.Join(ids, ","), 2048)),
				)
			}
		}
	}
}
