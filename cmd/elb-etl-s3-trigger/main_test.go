package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"elbetl/internal/etl"
)

func s3Record(bucket, key string) events.S3EventRecord {
	return events.S3EventRecord{
		EventName: "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: key},
		},
	}
}

type fakeRunner struct {
	calls map[string][]string
	err   error
}

func (f *fakeRunner) RunKeys(_ context.Context, bucket string, keys []string) (*etl.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls == nil {
		f.calls = map[string][]string{}
	}
	f.calls[bucket] = keys
	return &etl.Summary{RunID: "run-" + bucket, Inserted: int64(len(keys))}, nil
}

func TestGroupKeys(t *testing.T) {
	ev := events.S3Event{Records: []events.S3EventRecord{
		s3Record("logs-b", "AWSLogs/2023/05/01/a+b%3D1.log.gz"),
		s3Record("logs-a", "x.gz"),
		s3Record("logs-b", "y.gz"),
	}}

	order, byBucket, err := groupKeys(ev)
	if err != nil {
		t.Fatalf("groupKeys: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"logs-b", "logs-a"}) {
		t.Fatalf("expected first-seen bucket order, got %v", order)
	}
	want := []string{"AWSLogs/2023/05/01/a b=1.log.gz", "y.gz"}
	if !reflect.DeepEqual(byBucket["logs-b"], want) {
		t.Fatalf("expected decoded keys %q, got %q", want, byBucket["logs-b"])
	}
}

func TestGroupKeys_BadEscape(t *testing.T) {
	_, _, err := groupKeys(events.S3Event{Records: []events.S3EventRecord{s3Record("b", "bad%zz.gz")}})
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestHandle(t *testing.T) {
	r := &fakeRunner{}
	h := &handler{runner: r, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	out, err := h.Handle(context.Background(), events.S3Event{Records: []events.S3EventRecord{
		s3Record("logs", "a.gz"),
		s3Record("logs", "b.gz"),
	}})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out["runs"] != 1 || out["inserted"] != int64(2) {
		t.Fatalf("unexpected result %v", out)
	}
	if !reflect.DeepEqual(r.calls["logs"], []string{"a.gz", "b.gz"}) {
		t.Fatalf("unexpected keys %v", r.calls)
	}
}

func TestHandle_Empty(t *testing.T) {
	h := &handler{runner: &fakeRunner{err: errors.New("should not run")}, logger: slog.Default()}
	out, err := h.Handle(context.Background(), events.S3Event{})
	if err != nil || out["runs"] != 0 {
		t.Fatalf("expected no runs, got %v, %v", out, err)
	}
}

func TestHandle_Error(t *testing.T) {
	h := &handler{runner: &fakeRunner{err: errors.New("load: connection refused")}, logger: slog.Default()}
	if _, err := h.Handle(context.Background(), events.S3Event{Records: []events.S3EventRecord{s3Record("logs", "a.gz")}}); err == nil {
		t.Fatal("expected run error")
	}
}
