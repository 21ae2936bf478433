package etl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/gzip"

	"elbetl/internal/elblog"
	"elbetl/internal/objstore"
)

// Stats counts what a transform saw.
type Stats struct {
	Objects  int
	Lines    int
	Parsed   int
	Rejected map[elblog.Reason]int
}

func (s Stats) RejectedTotal() int {
	n := 0
	for _, c := range s.Rejected {
		n += c
	}
	return n
}

// Batch is every record produced by one run, in listing order then line order.
type Batch struct {
	Keys    []string
	Records []elblog.LogRecord
	Stats   Stats
}

// Transformer turns log objects into records.
type Transformer struct {
	src    objstore.Source
	filter objstore.Filter
	parser *elblog.Parser
	logger *slog.Logger
}

func NewTransformer(src objstore.Source, filter objstore.Filter, parser *elblog.Parser, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{src: src, filter: filter, parser: parser, logger: logger}
}

// Keys lists the log objects under prefix that pass the filter.
func (t *Transformer) Keys(ctx context.Context, bucket, prefix string) ([]string, error) {
	all, err := t.src.List(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys := t.filter.Apply(all)
	t.logger.Debug("listed objects", "bucket", bucket, "prefix", prefix, "listed", len(all), "matched", len(keys))
	return keys, nil
}

// Transform reads, decompresses and parses every key in order.
func (t *Transformer) Transform(ctx context.Context, bucket string, keys []string) (*Batch, error) {
	b := &Batch{
		Keys:  keys,
		Stats: Stats{Rejected: map[elblog.Reason]int{}},
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.transformObject(ctx, bucket, key, b); err != nil {
			return nil, err
		}
		b.Stats.Objects++
	}
	return b, nil
}

func (t *Transformer) transformObject(ctx context.Context, bucket, key string, b *Batch) error {
	rc, err := t.src.Open(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()

	before := len(b.Records)
	err = ReadGzipLines(rc, func(line string) {
		b.Stats.Lines++
		res := t.parser.Parse(line, key)
		if !res.OK() {
			b.Stats.Rejected[res.Reason]++
			t.logger.Debug("line rejected", "key", key, "reason", res.Reason)
			return
		}
		b.Stats.Parsed++
		b.Records = append(b.Records, res.Record)
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	t.logger.Debug("object parsed", "key", key, "records", len(b.Records)-before)
	return nil
}

// ReadGzipLines decompresses r and calls fn with each trimmed line.
func ReadGzipLines(r io.Reader, fn func(line string)) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()
	return ReadLines(gz, fn)
}

// ReadLines calls fn with each line of r, surrounding whitespace removed.
// Lines may be of any length.
func ReadLines(r io.Reader, fn func(line string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			fn(strings.TrimSpace(line))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
