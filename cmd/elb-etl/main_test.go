package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"elbetl/internal/config"
	"elbetl/internal/elblog"
)

const sample = `https 2023-05-01T12:00:00.123456Z my-elb 10.0.0.1:443 10.0.1.5:80 0.001 0.002 0.003 200 200 120 530 "GET https://my-elb.example.com:443/health HTTP/1.1" "curl/8.0.1" - - arn:aws:elasticloadbalancing:us-east-1:1:targetgroup/web/abc "Root=1-abc" "-"`

func writeGz(t *testing.T, path, body string) {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write([]byte(body))
	if err := w.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestParseCommand(t *testing.T) {
	t.Setenv("ETL_TIMEZONE", "America/New_York")
	dir := t.TempDir()
	gzPath := filepath.Join(dir, "a.log.gz")
	txtPath := filepath.Join(dir, "b.log")
	writeGz(t, gzPath, sample+"\n"+"short line\n")
	if err := os.WriteFile(txtPath, []byte(sample+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, errOut, err := execute(t, "parse", "--show-rejected", gzPath, txtPath)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON records, got %d: %q", len(lines), out)
	}
	var rec elblog.LogRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not json: %v", err)
	}
	if rec.RequestedPath != "/health" || rec.LogSourceFile != gzPath || rec.LogTimestamp.Hour() != 8 {
		t.Fatalf("unexpected record %+v", rec)
	}

	if !strings.Contains(errOut, "files=2 lines=3 parsed=2 rejected=1") {
		t.Fatalf("expected stats on stderr, got %q", errOut)
	}
	if !strings.Contains(errOut, "too_few_fields\tshort line") {
		t.Fatalf("expected rejected line on stderr, got %q", errOut)
	}
}

func TestParseCommand_MissingFile(t *testing.T) {
	if _, _, err := execute(t, "parse", filepath.Join(t.TempDir(), "nope.gz")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRunCommand_RequiresConfig(t *testing.T) {
	for _, k := range []string{"S3_BUCKET", "DB_DSN", "DB_DRIVER", "DB_USER", "DB_HOST", "DB_NAME"} {
		t.Setenv(k, "")
	}
	_, _, err := execute(t, "run")
	if !errors.Is(err, config.ErrMissing) {
		t.Fatalf("expected missing settings error, got %v", err)
	}
}
