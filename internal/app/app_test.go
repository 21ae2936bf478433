package app

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/klauspost/compress/gzip"

	"elbetl/internal/config"
	"elbetl/internal/objstore"
)

const line = `https 2023-05-01T12:00:00.123456Z my-elb 192.168.1.10:54321 10.0.1.5:80 0.001 0.002 0.003 200 200 120 530 "GET https://shop.example.com:443/cart?id=7 HTTP/1.1" "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36" ECDHE-RSA-AES128-GCM-SHA256 TLSv1.2 arn:aws:elasticloadbalancing:us-east-1:1:targetgroup/web/abc "Root=1-abc" "shop.example.com"`

type memSource map[string]string

func (m memSource) List(_ context.Context, _, prefix string) ([]string, error) {
	var keys []string
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m memSource) Open(_ context.Context, _, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m[key])), nil
}

func gz(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := io.WriteString(w, s); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return buf.String()
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Bucket = "elb-logs"
	cfg.Database = config.DatabaseConfig{
		Driver:      "sqlite3",
		Name:        filepath.Join(t.TempDir(), "elb.db"),
		Table:       "elb_log_data",
		CreateTable: true,
	}
	cfg.AWS.Region = "us-east-1"
	return &cfg
}

func TestNew_EndToEnd(t *testing.T) {
	cfg := sqliteConfig(t)
	src := memSource{
		"AWSLogs/a.log.gz": gz(t, line+"\n"+strings.Replace(line, "my-elb", "-", 1)+"\n"),
		"AWSLogs/notes.txt": "ignored",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, logger, WithSource(src))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	s, err := a.Runner.Run(context.Background(), "elb-logs", "AWSLogs/")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Message() != "Inserted 1 rows into `elb_log_data`." {
		t.Fatalf("unexpected message %q", s.Message())
	}

	conn, err := sql.Open("sqlite3", cfg.Database.Name)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	var ip, path, browser, source string
	err = conn.QueryRow(`SELECT client_ip, requested_path, ua_browser_family, log_source_file FROM elb_log_data`).
		Scan(&ip, &path, &browser, &source)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ip != "192.168.1.10" || path != "/cart" || browser != "Chrome" || source != "AWSLogs/a.log.gz" {
		t.Fatalf("unexpected row %s %s %s %s", ip, path, browser, source)
	}
}

func TestNewParser(t *testing.T) {
	cfg := config.Default()
	cfg.Parser.Timezone = "Europe/Berlin"
	p, err := NewParser(&cfg)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	if p.Location().String() != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %s", p.Location())
	}

	cfg.Parser.Timezone = "Mars/Olympus"
	if _, err := NewParser(&cfg); err == nil {
		t.Fatal("expected unknown timezone error")
	}
}

func TestNewSource(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Store = "minio"
	cfg.Source.Endpoint = "localhost:9000"
	src, err := NewSource(&cfg, aws.Config{})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if _, ok := src.(*objstore.MinioSource); !ok {
		t.Fatalf("expected minio source, got %T", src)
	}

	cfg.Source.Store = "s3"
	if src, _ := NewSource(&cfg, aws.Config{Region: "us-east-1"}); src == nil {
		t.Fatal("expected s3 source")
	}

	cfg.Source.Store = "gcs"
	if _, err := NewSource(&cfg, aws.Config{}); err == nil {
		t.Fatal("expected unsupported store error")
	}
}
