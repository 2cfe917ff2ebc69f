package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/config"
	"github.com/EarthModule/fairdata-metax-v3/internal/dataset"
	"github.com/EarthModule/fairdata-metax-v3/internal/legacy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var opts legacy.Options

var rootCmd = &cobra.Command{
	Use:   "migrate-v2-datasets",
	Short: "Migrate datasets from a Metax V2 instance or JSON file",
	Long: `Copies V2 datasets into legacy datasets and converts them into V3 datasets.

Datasets are read from the V2 REST API of --metax-instance, or from --file,
which may be a local path, gs://bucket/object or s3://bucket/key.
Datasets that have not changed since their last successful migration are
skipped unless --force-update is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := opts.Validate(); err != nil {
			cmd.SilenceUsage = false
			return err
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return migrate(ctx, cmd)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringSliceVar(&opts.Identifiers, "identifiers", nil, "Migrate datasets with these identifiers")
	flags.StringSliceVarP(&opts.Catalogs, "catalogs", "c", nil, "Migrate datasets in these data catalogs")
	flags.BoolVarP(&opts.All, "all", "a", false, "Migrate all datasets")
	flags.BoolVar(&opts.AllowFail, "allow-fail", false, "Continue with the next dataset when one fails")
	flags.BoolVar(&opts.ForceUpdate, "force-update", false, "Convert datasets again even when unchanged")
	flags.IntVar(&opts.StopAfter, "stop-after", 0, "Stop after this many updated datasets")
	flags.StringVar(&opts.File, "file", "", "Read datasets from a JSON file instead of the V2 API")
	flags.StringVar(&opts.Instance, "metax-instance", "", "V2 instance to read datasets from (default $LEGACY_METAX_INSTANCE)")
	flags.IntVar(&opts.PageSize, "pagination-size", legacy.DefaultPageSize, "Datasets fetched per request")
	flags.CountVarP(&opts.Verbosity, "verbosity", "v", "Print unchanged datasets too (-vv)")
}

func migrate(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	appCtx, err := config.InitContext(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize context: %w", err)
	}
	defer appCtx.Logger.Sync()

	datasets, err := dataset.NewService(appCtx)
	if err != nil {
		return err
	}
	converter := legacy.NewConverter(datasets, appCtx.Logger)
	migrator := legacy.NewMigrator(datasets, converter, appCtx.Logger, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Instance == "" {
		opts.Instance = cfg.LegacyInstance
	}
	var src legacy.Source
	if opts.File != "" {
		src = legacy.NewFileSource(opts.File)
	} else {
		src = legacy.NewHTTPSource(ctx, opts.Instance, cfg.LegacyCredentials(), appCtx.Logger)
	}

	summary, err := migrator.Run(ctx, src, opts)
	summary.Print(cmd.OutOrStdout())
	if summary.Interrupted {
		fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted")
	}
	if err != nil {
		appCtx.Logger.Error("Migration failed", zap.Error(err))
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if apperr.Config.Has(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
