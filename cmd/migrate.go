package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run: func(_ *cobra.Command, _ []string) {
		migrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrate() {
	ctx := context.Background()
	logger, config := setup()

	rt := &runtime{config: config, logger: logger}
	defer rt.Close(ctx)

	st, err := rt.openPostgres(ctx)
	if err != nil {
		logger.Fatal("connecting to the database", zap.Error(err))
	}

	version, err := postgres.Migrate(st.DB().DB)
	if err != nil {
		logger.Fatal("migrating", zap.Error(err))
	}
	logger.Info("database is up to date", zap.Uint("version", version))
}
