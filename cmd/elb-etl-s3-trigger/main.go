package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"elbetl/internal/app"
	"elbetl/internal/config"
	"elbetl/internal/etl"
	"elbetl/internal/logging"
)

type runner interface {
	RunKeys(ctx context.Context, bucket string, keys []string) (*etl.Summary, error)
}

type handler struct {
	runner runner
	logger *slog.Logger
}

// Handle ingests exactly the objects named in an S3 ObjectCreated
// notification, one run per bucket.
func (h *handler) Handle(ctx context.Context, ev events.S3Event) (map[string]any, error) {
	buckets, byBucket, err := groupKeys(ev)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return map[string]any{"ok": true, "runs": 0, "reason": "no records"}, nil
	}

	var inserted int64
	runs := make([]string, 0, len(buckets))
	for _, b := range buckets {
		s, err := h.runner.RunKeys(ctx, b, byBucket[b])
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", b, err)
		}
		inserted += s.Inserted
		runs = append(runs, s.RunID)
		h.logger.Info("s3 trigger run finished", "bucket", b, "run_id", s.RunID, "message", s.Message())
	}
	return map[string]any{"ok": true, "runs": len(runs), "run_ids": runs, "inserted": inserted}, nil
}

// groupKeys returns the event's buckets in first-seen order and their decoded
// keys. S3 URL-encodes keys in notifications.
func groupKeys(ev events.S3Event) ([]string, map[string][]string, error) {
	var order []string
	byBucket := map[string][]string{}
	for _, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("decode key %q: %w", rec.S3.Object.Key, err)
		}
		if bucket == "" || key == "" {
			continue
		}
		if _, ok := byBucket[bucket]; !ok {
			order = append(order, bucket)
		}
		byBucket[bucket] = append(byBucket[bucket], key)
	}
	return order, byBucket, nil
}

func main() {
	ctx := context.Background()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Read(strings.TrimSpace(os.Getenv("ETL_CONFIG")))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateEventDriven(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	h := &handler{runner: a.Runner, logger: logger}
	lambda.Start(h.Handle)
}
