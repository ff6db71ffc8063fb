package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bopra/bopradb/logging"
	"github.com/bopra/bopradb/pipeline"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "bopra_release failed: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "bopra_release",
		Short:         "Build a BOPRA database release from the registry export and NIRS recordings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "bopra_release")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := pipeline.Run(ctx, cfg.options(logger))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	registerFlags(cmd.Flags())
	return cmd
}

func printSummary(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "bopra_release complete\n")
	fmt.Fprintf(w, "Run id:              %s\n", res.RunID)
	fmt.Fprintf(w, "Output dir:          %s\n", res.OutputDir)
	if res.DatabasePath != "" {
		fmt.Fprintf(w, "sqlite:              %s\n", res.DatabasePath)
	}
	if res.ParquetDir != "" {
		fmt.Fprintf(w, "parquet:             %s\n", res.ParquetDir)
	}
	if res.CSVPath != "" {
		fmt.Fprintf(w, "flat csv:            %s\n", res.CSVPath)
	}
	fmt.Fprintf(w, "manifest:            %s\n", res.ManifestPath)
	s := res.Stats
	fmt.Fprintf(w, "cases:               %d (complete %d, partial %d, no data %d)\n", s.Cases, s.Complete, s.Partial, s.NoData)
	fmt.Fprintf(w, "nirs samples:        %d\n", s.Samples)
	if s.UnmatchedDerived > 0 {
		fmt.Fprintf(w, "warning:             %d derived rows without a registry case\n", s.UnmatchedDerived)
	}
	if s.MissingRef > 0 {
		fmt.Fprintf(w, "warning:             %d cases without t_alarm\n", s.MissingRef)
	}
}
