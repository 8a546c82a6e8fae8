package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <kind> <key>...",
	Short: "Resolve keys to records of one kind, creating what is missing",
	Long:  "Resolve keys to records of one kind (location, perk or job_category), creating what is missing. Records are printed as JSON.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		resolve(args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func resolve(kind string, keys []string) {
	ctx := context.Background()
	logger, config := setup()

	typ, ok := entity.LookupEmbeddable(entity.Kind(kind))
	if !ok {
		logger.Fatal("unknown entity kind", zap.String("kind", kind))
	}
	if _, generated := entity.LookupGeneratable(typ.Kind()); generated {
		logger.Fatal("entity kind is generated from career-site data, run sync instead", zap.String("kind", kind))
	}
	if len(typ.RequiredDefaults()) > 0 {
		logger.Fatal("entity kind needs defaults and cannot be resolved from keys alone",
			zap.String("kind", kind),
			zap.Strings("defaults", typ.RequiredDefaults()),
		)
	}

	rt, err := newRuntime(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing dependencies", zap.Error(err))
	}
	defer rt.Close(ctx)

	svc, err := resolver.NewEmbeddingService(typ, rt.deps, rt.resolverOptions()...)
	if err != nil {
		logger.Fatal("preparing resolver", zap.Error(err))
	}

	records, err := svc.ResolveOrCreate(ctx, keys, nil)
	if err != nil {
		logger.Error("resolving keys", zap.Error(err))
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	for i, rec := range records {
		if rec == nil {
			continue
		}
		if err := out.Encode(map[string]any{"key": keys[i], "record": rec}); err != nil {
			logger.Fatal("printing record", zap.Error(err))
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
