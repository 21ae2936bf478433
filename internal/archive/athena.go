package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

type AthenaOptions struct {
	Database       string
	Workgroup      string
	OutputLocation string // s3://bucket/prefix/
	MaxWait        time.Duration
	PollInterval   time.Duration
}

type AthenaError struct {
	State            string
	Reason           string
	QueryExecutionID string
}

func (e *AthenaError) Error() string {
	if e.QueryExecutionID != "" {
		return fmt.Sprintf("athena %s: %s (qid=%s)", e.State, e.Reason, e.QueryExecutionID)
	}
	return fmt.Sprintf("athena %s: %s", e.State, e.Reason)
}

func (o AthenaOptions) validate() error {
	if strings.TrimSpace(o.Database) == "" {
		return fmt.Errorf("missing athena database")
	}
	if !strings.HasPrefix(o.OutputLocation, "s3://") {
		return fmt.Errorf("athena output location must start with s3://")
	}
	return nil
}

// RepairPartitions runs MSCK REPAIR TABLE so Athena sees new dt= prefixes,
// and waits for it to finish. It returns the query execution ID.
func RepairPartitions(ctx context.Context, c AthenaClient, table string, opt AthenaOptions) (string, error) {
	if err := opt.validate(); err != nil {
		return "", err
	}
	if opt.Workgroup == "" {
		opt.Workgroup = "primary"
	}
	if opt.MaxWait == 0 {
		opt.MaxWait = 60 * time.Second
	}
	if opt.PollInterval == 0 {
		opt.PollInterval = 2 * time.Second
	}

	startOut, err := c.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(fmt.Sprintf("MSCK REPAIR TABLE %s", table)),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(opt.Database),
		},
		WorkGroup: aws.String(opt.Workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(opt.OutputLocation),
		},
	})
	if err != nil {
		return "", fmt.Errorf("athena StartQueryExecution: %w", err)
	}
	qid := aws.ToString(startOut.QueryExecutionId)

	deadline := time.Now().Add(opt.MaxWait)
	for {
		getOut, err := c.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return qid, fmt.Errorf("athena GetQueryExecution: %w", err)
		}
		status := getOut.QueryExecution.Status
		switch status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return qid, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return qid, &AthenaError{State: string(status.State), Reason: aws.ToString(status.StateChangeReason), QueryExecutionID: qid}
		}

		if time.Now().Add(opt.PollInterval).After(deadline) {
			return qid, &AthenaError{State: "TIMEOUT", Reason: "repair timed out", QueryExecutionID: qid}
		}
		if err := sleep(ctx, opt.PollInterval); err != nil {
			return qid, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
