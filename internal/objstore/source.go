// Package objstore lists and opens log objects in S3 or an S3-compatible store.
package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Source is a bucket of log objects.
type Source interface {
	// List returns every key under prefix in the store's listing order.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	// Open returns the object's raw bytes; the caller closes it.
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Filter selects which listed keys are log files.
type Filter struct {
	Suffix  string // e.g. ".gz"
	Pattern string // optional doublestar pattern, e.g. "AWSLogs/**/elasticloadbalancing/**"
}

// Validate checks the pattern syntax.
func (f Filter) Validate() error {
	if f.Pattern != "" && !doublestar.ValidatePattern(f.Pattern) {
		return fmt.Errorf("invalid key pattern %q", f.Pattern)
	}
	return nil
}

// Match reports whether key passes the filter.
func (f Filter) Match(key string) bool {
	if f.Suffix != "" && !strings.HasSuffix(key, f.Suffix) {
		return false
	}
	if f.Pattern == "" {
		return true
	}
	ok, err := doublestar.Match(f.Pattern, key)
	return err == nil && ok
}

// Apply keeps the matching keys, preserving order.
func (f Filter) Apply(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if f.Match(k) {
			out = append(out, k)
		}
	}
	return out
}
