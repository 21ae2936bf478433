package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"elbetl/internal/app"
	"elbetl/internal/config"
	"elbetl/internal/db"
)

type HealthResponse struct {
	OK       bool   `json:"ok"`
	Service  string `json:"service"`
	Table    string `json:"table,omitempty"`
	Database string `json:"database"`
}

type pinger interface {
	Ping(ctx context.Context) error
	Table() string
}

type handler struct {
	db pinger
}

// newHandler prepares the pool without dialing, so a database that is down
// at cold start still gets a 503 from Handle instead of a failed init. The
// table is never created from here.
func newHandler(cfg *config.Config) (*handler, error) {
	wh, err := db.Connect(app.WarehouseOptions(cfg))
	if err != nil {
		return nil, err
	}
	return &handler{db: wh}, nil
}

// Handle reports whether the target database answers. Behind API Gateway.
func (h *handler) Handle(ctx context.Context, _ events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp := HealthResponse{OK: true, Service: "elb-etl", Table: h.db.Table(), Database: "ok"}
	if err := h.db.Ping(ctx); err != nil {
		log.Printf("health: %v", err)
		resp.OK = false
		resp.Database = "unreachable"
		return jsonResp(503, resp)
	}
	return jsonResp(200, resp)
}

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
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
	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	if err := cfg.ResolveSecrets(ctx, ssm.NewFromConfig(awsCfg)); err != nil {
		log.Fatalf("resolve secrets: %v", err)
	}

	h, err := newHandler(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	lambda.Start(h.Handle)
}
