package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"elbetl/internal/etl"
)

// DynamoPutter is the part of the DynamoDB API the run ledger needs.
type DynamoPutter interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// ErrRunRecorded is returned when a run ID is already in the ledger.
var ErrRunRecorded = errors.New("run already recorded")

// RunLedger writes one DynamoDB item per finished run.
type RunLedger struct {
	ddb   DynamoPutter
	table string
	ttl   time.Duration
}

type runItem struct {
	PK         string         `dynamodbav:"PK"`
	RunID      string         `dynamodbav:"RunID"`
	Bucket     string         `dynamodbav:"Bucket"`
	Prefix     string         `dynamodbav:"Prefix,omitempty"`
	Table      string         `dynamodbav:"Table"`
	KeyCount   int            `dynamodbav:"KeyCount"`
	Objects    int            `dynamodbav:"Objects"`
	Lines      int            `dynamodbav:"Lines"`
	Parsed     int            `dynamodbav:"Parsed"`
	Rejected   map[string]int `dynamodbav:"Rejected,omitempty"`
	Inserted   int64          `dynamodbav:"Inserted"`
	Archived   int            `dynamodbav:"Archived"`
	StartedAt  string         `dynamodbav:"StartedAt"`
	FinishedAt string         `dynamodbav:"FinishedAt"`
	ExpiresAt  int64          `dynamodbav:"ExpiresAt,omitempty"`
}

// NewRunLedger uses the default credential chain of cfg. A zero ttl keeps
// items forever.
func NewRunLedger(cfg aws.Config, table string, ttl time.Duration) *RunLedger {
	return NewRunLedgerFromClient(dynamodb.NewFromConfig(cfg), table, ttl)
}

func NewRunLedgerFromClient(ddb DynamoPutter, table string, ttl time.Duration) *RunLedger {
	return &RunLedger{ddb: ddb, table: table, ttl: ttl}
}

func runKey(runID string) string { return "RUN#" + runID }

// Record puts the summary under RUN#<id>, refusing to overwrite.
func (l *RunLedger) Record(ctx context.Context, s *etl.Summary) error {
	item := runItem{
		PK:         runKey(s.RunID),
		RunID:      s.RunID,
		Bucket:     s.Bucket,
		Prefix:     s.Prefix,
		Table:      s.Table,
		KeyCount:   len(s.Keys),
		Objects:    s.Objects,
		Lines:      s.Lines,
		Parsed:     s.Parsed,
		Rejected:   s.Rejected,
		Inserted:   s.Inserted,
		Archived:   s.Archived,
		StartedAt:  s.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: s.FinishedAt.UTC().Format(time.RFC3339),
	}
	if l.ttl > 0 {
		item.ExpiresAt = s.FinishedAt.Add(l.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", s.RunID, err)
	}
	_, err = l.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrRunRecorded, s.RunID)
		}
		return fmt.Errorf("put run %s: %w", s.RunID, err)
	}
	return nil
}
