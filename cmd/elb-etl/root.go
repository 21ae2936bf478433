package main

import (
	"github.com/spf13/cobra"

	"elbetl/internal/config"
)

type rootFlags struct {
	cfgFile   string
	envFile   string
	bucket    string
	prefix    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "elb-etl",
		Short: "Load ELB access logs from S3 into a SQL table",
		Long: `elb-etl reads gzip-compressed load balancer access logs from an S3
bucket, parses every line and appends the records to a relational table
(elb_log_data by default).

Settings come from --config (YAML), a .env file and the environment.
Running without a subcommand is the same as "elb-etl run".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runETL(cmd, f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.cfgFile, "config", "c", "", "YAML config file")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&f.logFormat, "log-format", "", "log format: text, json")

	addSourceFlags(root, f)

	root.AddCommand(newRunCmd(f), newParseCmd(f))
	return root
}

func addSourceFlags(cmd *cobra.Command, f *rootFlags) {
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "source bucket (overrides S3_BUCKET)")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "key prefix (overrides S3_PREFIX)")
}

// readConfig loads the dotenv file and config without validating, then applies
// flag overrides.
func readConfig(f *rootFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Read(f.cfgFile)
	if err != nil {
		return nil, err
	}
	if f.bucket != "" {
		cfg.Source.Bucket = f.bucket
	}
	if f.prefix != "" {
		cfg.Source.Prefix = f.prefix
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	return cfg, nil
}
