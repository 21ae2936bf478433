// Package etl moves load-balancer access logs from an object store into a
// relational table: list the .gz objects, parse every line, append the
// resulting records in one batch.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"elbetl/internal/elblog"
	"elbetl/internal/metrics"
)

// Loader appends a batch to the target table, all rows or none.
type Loader interface {
	InsertBatch(ctx context.Context, records []elblog.LogRecord) (int64, error)
	Table() string
}

// Archiver keeps a copy of the batch elsewhere and reports objects written.
type Archiver interface {
	Archive(ctx context.Context, runID string, records []elblog.LogRecord) (int, error)
}

// Recorder keeps a ledger of runs.
type Recorder interface {
	Record(ctx context.Context, s *Summary) error
}

// Notifier announces a finished run.
type Notifier interface {
	Notify(ctx context.Context, s *Summary) error
}

// Summary describes one run.
type Summary struct {
	RunID      string         `json:"run_id"`
	Bucket     string         `json:"bucket"`
	Prefix     string         `json:"prefix,omitempty"`
	Table      string         `json:"table"`
	Keys       []string       `json:"keys,omitempty"`
	Objects    int            `json:"objects"`
	Lines      int            `json:"lines"`
	Parsed     int            `json:"parsed"`
	Rejected   map[string]int `json:"rejected"`
	Inserted   int64          `json:"inserted"`
	Archived   int            `json:"archived"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Message is the human-readable outcome printed at the end of a run.
func (s *Summary) Message() string {
	if s.Inserted == 0 {
		return "No data to insert."
	}
	return fmt.Sprintf("Inserted %d rows into `%s`.", s.Inserted, s.Table)
}

type Runner struct {
	tr       *Transformer
	loader   Loader
	archiver Archiver
	ledger   Recorder
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Runner)

func WithArchiver(a Archiver) Option { return func(r *Runner) { r.archiver = a } }
func WithLedger(l Recorder) Option { return func(r *Runner) { r.ledger = l } }
func WithNotifier(n Notifier) Option { return func(r *Runner) { r.notifier = n } }
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

func NewRunner(tr *Transformer, loader Loader, opts ...Option) *Runner {
	r := &Runner{
		tr:     tr,
		loader: loader,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ingests every matching object under bucket/prefix.
func (r *Runner) Run(ctx context.Context, bucket, prefix string) (*Summary, error) {
	keys, err := r.tr.Keys(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, bucket, prefix, keys)
}

// RunKeys ingests exactly the given keys, e.g. from an S3 notification.
// Keys failing the filter are skipped.
func (r *Runner) RunKeys(ctx context.Context, bucket string, keys []string) (*Summary, error) {
	return r.run(ctx, bucket, "", r.tr.filter.Apply(keys))
}

func (r *Runner) run(ctx context.Context, bucket, prefix string, keys []string) (_ *Summary, err error) {
	s := &Summary{
		RunID:     r.newID(),
		Bucket:    bucket,
		Prefix:    prefix,
		Table:     r.loader.Table(),
		Keys:      keys,
		Rejected:  map[string]int{},
		StartedAt: r.now().UTC(),
	}
	log := r.logger.With("run_id", s.RunID)
	log.Info("run started", "bucket", bucket, "prefix", prefix, "objects", len(keys))

	defer func() {
		s.FinishedAt = r.now().UTC()
		r.observe(ctx, s, err)
		if err != nil {
			log.Error("run failed", "err", err)
		}
	}()

	batch, err := r.tr.Transform(ctx, bucket, keys)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	s.Objects = batch.Stats.Objects
	s.Lines = batch.Stats.Lines
	s.Parsed = batch.Stats.Parsed
	for reason, n := range batch.Stats.Rejected {
		s.Rejected[string(reason)] = n
	}
	log.Info("batch parsed", "lines", s.Lines, "parsed", s.Parsed, "rejected", batch.Stats.RejectedTotal())

	if len(batch.Records) == 0 {
		log.Warn("no data to insert")
	} else {
		n, err := r.loader.InsertBatch(ctx, batch.Records)
		if err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		s.Inserted = n
		log.Info("batch loaded", "table", s.Table, "rows", n)

		if r.archiver != nil {
			archived, err := r.archiver.Archive(ctx, s.RunID, batch.Records)
			if err != nil {
				return nil, fmt.Errorf("archive: %w", err)
			}
			s.Archived = archived
		}
	}

	s.FinishedAt = r.now().UTC()
	if r.ledger != nil {
		if err := r.ledger.Record(ctx, s); err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
	}
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, s); err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
	}
	return s, nil
}

func (r *Runner) observe(ctx context.Context, s *Summary, runErr error) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveRun(metrics.Run{
		Objects:  s.Objects,
		Lines:    s.Lines,
		Parsed:   s.Parsed,
		Rejected: s.Rejected,
		Inserted: s.Inserted,
		Duration: s.FinishedAt.Sub(s.StartedAt),
		Failed:   runErr != nil,
		Finished: s.FinishedAt,
	})
	if err := r.metrics.Push(ctx); err != nil {
		r.logger.Warn("metrics push failed", "run_id", s.RunID, "err", err)
	}
}
