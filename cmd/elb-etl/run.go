package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"elbetl/internal/app"
	"elbetl/internal/logging"
)

func newRunCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest every .gz object under the bucket prefix",
		Example: `  elb-etl run --bucket my-alb-logs --prefix AWSLogs/123456789012/
  DB_DRIVER=sqlite3 DB_NAME=./elb.db elb-etl run --bucket my-alb-logs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runETL(cmd, f)
		},
	}
	addSourceFlags(cmd, f)
	return cmd
}

func runETL(cmd *cobra.Command, f *rootFlags) error {
	cfg, err := readConfig(f)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Runner.Run(ctx, cfg.Source.Bucket, cfg.Source.Prefix)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.Message())
	return nil
}
