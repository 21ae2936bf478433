// Package archive keeps a Parquet copy of each batch in S3, laid out as a
// Hive-style dt= partitioned table, and tells Athena about new partitions.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"elbetl/internal/elblog"
)

const partitionKey = "dt"

type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Options struct {
	Bucket string
	Prefix string // e.g. "elb_logs/"

	// Table enables the Glue check and partition repair.
	Table  string
	Athena AthenaOptions
}

type Archiver struct {
	s3     S3Putter
	athena AthenaClient
	glue   GlueClient
	opt    Options
	logger *slog.Logger
}

func New(cfg aws.Config, opt Options, logger *slog.Logger) *Archiver {
	return NewFromClients(s3.NewFromConfig(cfg), athena.NewFromConfig(cfg), glue.NewFromConfig(cfg), opt, logger)
}

// NewFromClients allows nil athena and glue clients; the matching step is skipped.
func NewFromClients(put S3Putter, ath AthenaClient, gl GlueClient, opt Options, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{s3: put, athena: ath, glue: gl, opt: opt, logger: logger}
}

// Archive writes one Parquet object per log date and returns how many were
// written. Keys look like <prefix>dt=YYYY-MM-DD/part-<run>-<rand>.parquet.
func (a *Archiver) Archive(ctx context.Context, runID string, records []elblog.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if a.opt.Bucket == "" {
		return 0, fmt.Errorf("missing archive bucket")
	}

	written := 0
	for _, p := range partitionByDate(records) {
		key := a.key(p.dt, runID)
		data, err := encode(p.rows)
		if err != nil {
			return written, fmt.Errorf("encode dt=%s: %w", p.dt, err)
		}
		_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.opt.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
			ACL:         s3types.ObjectCannedACLPrivate,
		})
		if err != nil {
			return written, fmt.Errorf("s3 putobject %s: %w", key, err)
		}
		written++
		a.logger.Debug("archived partition", "run_id", runID, "dt", p.dt, "rows", len(p.rows), "key", key)
	}

	if err := a.refresh(ctx, runID); err != nil {
		return written, err
	}
	return written, nil
}

func (a *Archiver) key(dt, runID string) string {
	return fmt.Sprintf("%s%s=%s/part-%s-%s.parquet",
		ensureTrailingSlash(a.opt.Prefix), partitionKey, dt, runID, randHex(4))
}

func (a *Archiver) refresh(ctx context.Context, runID string) error {
	if a.opt.Table == "" {
		return nil
	}

	if a.glue != nil {
		schema, err := LoadTableSchema(ctx, a.glue, a.opt.Athena.Database, a.opt.Table)
		if err != nil {
			return err
		}
		if !schema.PartitionedBy(partitionKey) {
			return fmt.Errorf("glue table %s.%s is not partitioned by %s", schema.Database, schema.Table, partitionKey)
		}
		want := fmt.Sprintf("s3://%s/%s", a.opt.Bucket, strings.TrimPrefix(ensureTrailingSlash(a.opt.Prefix), "/"))
		if schema.Location != "" && strings.TrimSuffix(schema.Location, "/") != strings.TrimSuffix(want, "/") {
			a.logger.Warn("glue table location differs from archive prefix", "location", schema.Location, "archive", want)
		}
	}

	if a.athena == nil {
		return nil
	}
	qid, err := RepairPartitions(ctx, a.athena, a.opt.Table, a.opt.Athena)
	if err != nil {
		return fmt.Errorf("repair partitions: %w", err)
	}
	a.logger.Info("partitions repaired", "run_id", runID, "table", a.opt.Table, "qid", qid)
	return nil
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
