// Package app builds the ETL pipeline from configuration. Every binary goes
// through New so the CLI and the Lambdas behave the same.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"elbetl/internal/archive"
	"elbetl/internal/config"
	"elbetl/internal/db"
	"elbetl/internal/elblog"
	"elbetl/internal/etl"
	"elbetl/internal/metrics"
	"elbetl/internal/notify"
	"elbetl/internal/objstore"
)

type App struct {
	Config    *config.Config
	Runner    *etl.Runner
	Warehouse *db.Warehouse
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Option func(*options)

type options struct {
	source objstore.Source
}

// WithSource replaces the configured object store.
func WithSource(src objstore.Source) Option {
	return func(o *options) { o.source = src }
}

// New connects to the database and wires every optional step the
// configuration turns on. Close releases the database.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}
	if err := cfg.ResolveSecrets(ctx, ssm.NewFromConfig(awsCfg)); err != nil {
		return nil, err
	}

	src := o.source
	if src == nil {
		if src, err = NewSource(cfg, awsCfg); err != nil {
			return nil, err
		}
	}
	filter := objstore.Filter{Suffix: cfg.Source.Suffix, Pattern: cfg.Source.KeyPattern}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	parser, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}

	wh, err := OpenWarehouse(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job)
	runOpts := []etl.Option{etl.WithMetrics(m), etl.WithLogger(logger)}

	if cfg.Archive.Bucket != "" {
		runOpts = append(runOpts, etl.WithArchiver(archive.New(awsCfg, archive.Options{
			Bucket: cfg.Archive.Bucket,
			Prefix: cfg.Archive.Prefix,
			Table:  cfg.Archive.Table,
			Athena: archive.AthenaOptions{
				Database:       cfg.Archive.GlueDatabase,
				Workgroup:      cfg.Archive.Workgroup,
				OutputLocation: cfg.Archive.Output,
			},
		}, logger)))
	}
	if cfg.Ledger.Table != "" {
		ttl := time.Duration(cfg.Ledger.TTLDays) * 24 * time.Hour
		runOpts = append(runOpts, etl.WithLedger(db.NewRunLedger(awsCfg, cfg.Ledger.Table, ttl)))
	}
	if cfg.Notify.TopicArn != "" {
		runOpts = append(runOpts, etl.WithNotifier(notify.NewSNSNotifier(awsCfg, cfg.Notify.TopicArn)))
	}

	tr := etl.NewTransformer(src, filter, parser, logger)
	return &App{
		Config:    cfg,
		Runner:    etl.NewRunner(tr, wh, runOpts...),
		Warehouse: wh,
		Metrics:   m,
		Logger:    logger,
	}, nil
}

func (a *App) Close() error { return a.Warehouse.Close() }

// OpenWarehouse connects to the configured database and creates the table
// when asked to.
func OpenWarehouse(ctx context.Context, cfg *config.Config) (*db.Warehouse, error) {
	wh, err := db.Open(ctx, WarehouseOptions(cfg))
	if err != nil {
		return nil, err
	}
	if cfg.Database.CreateTable {
		if err := wh.EnsureTable(ctx); err != nil {
			wh.Close()
			return nil, err
		}
	}
	return wh, nil
}

// WarehouseOptions maps the database settings onto db.Options.
func WarehouseOptions(cfg *config.Config) db.Options {
	return db.Options{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Host:     cfg.Database.Host,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		Table:    cfg.Database.Table,
	}
}

// NewSource returns the configured object store.
func NewSource(cfg *config.Config, awsCfg aws.Config) (objstore.Source, error) {
	switch cfg.Source.Store {
	case "", "s3":
		return objstore.NewS3Source(awsCfg), nil
	case "minio":
		src, err := objstore.NewMinioSource(objstore.MinioOptions{
			Endpoint:        cfg.Source.Endpoint,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Region:          cfg.AWS.Region,
			UseSSL:          cfg.Source.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported object store %q", cfg.Source.Store)
	}
}

// NewParser builds a parser for the configured timezone.
func NewParser(cfg *config.Config) (*elblog.Parser, error) {
	tz := cfg.Parser.Timezone
	if tz == "" {
		tz = elblog.DefaultZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tz, err)
	}
	return elblog.New(elblog.WithLocation(loc))
}
