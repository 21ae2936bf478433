package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"elbetl/internal/config"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }
func (f fakeDB) Table() string { return "elb_log_data" }

func TestHandle(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		ok     bool
	}{
		{"reachable", nil, 200, true},
		{"unreachable", errors.New("dial tcp: connection refused"), 503, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &handler{db: fakeDB{err: tt.err}}
			resp, err := h.Handle(context.Background(), events.APIGatewayV2HTTPRequest{})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			var body HealthResponse
			if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
				t.Fatalf("body is not json: %v", err)
			}
			if body.OK != tt.ok || body.Table != "elb_log_data" || body.Service != "elb-etl" {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestHandle_DatabaseDownAtStart(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "postgres"
	// nothing listens on port 1
	cfg.Database.DSN = "postgres://etl:x@127.0.0.1:1/weblogs?sslmode=disable&connect_timeout=1"

	h, err := newHandler(&cfg)
	if err != nil {
		t.Fatalf("expected handler without dialing, got %v", err)
	}
	resp, err := h.Handle(context.Background(), events.APIGatewayV2HTTPRequest{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("expected status 503, got %d", resp.StatusCode)
	}
	var body HealthResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if body.OK || body.Database != "unreachable" || body.Table != "elb_log_data" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestNewHandler_BadTable(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite3"
	cfg.Database.Name = "unused.db"
	cfg.Database.Table = "elb logs; drop"
	if _, err := newHandler(&cfg); err == nil {
		t.Fatal("expected invalid table name error")
	}
}
