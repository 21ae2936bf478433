package main

import (
	"context"
	"log"
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
	Run(ctx context.Context, bucket, prefix string) (*etl.Summary, error)
}

type handler struct {
	runner runner
	bucket string
	prefix string
}

// Handle is triggered by an EventBridge schedule and ingests everything under
// S3_BUCKET/S3_PREFIX.
func (h *handler) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	s, err := h.runner.Run(ctx, h.bucket, h.prefix)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ok":       true,
		"run_id":   s.RunID,
		"objects":  s.Objects,
		"lines":    s.Lines,
		"inserted": s.Inserted,
		"rejected": s.Rejected,
		"archived": s.Archived,
		"message":  s.Message(),
	}, nil
}

func main() {
	ctx := context.Background()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(strings.TrimSpace(os.Getenv("ETL_CONFIG")))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	h := &handler{runner: a.Runner, bucket: cfg.Source.Bucket, prefix: cfg.Source.Prefix}
	lambda.Start(h.Handle)
}
