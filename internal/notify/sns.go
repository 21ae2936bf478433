// Package notify announces finished runs on an SNS topic.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"elbetl/internal/etl"
)

// maxMessageBytes is the SNS publish payload limit.
const maxMessageBytes = 256 * 1024

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	sns      Publisher
	topicArn string
}

func NewSNSNotifier(cfg aws.Config, topicArn string) *SNSNotifier {
	return NewSNSNotifierFromClient(sns.NewFromConfig(cfg), topicArn)
}

func NewSNSNotifierFromClient(p Publisher, topicArn string) *SNSNotifier {
	return &SNSNotifier{sns: p, topicArn: strings.TrimSpace(topicArn)}
}

// Notify publishes the summary as JSON. The key list is dropped when the
// message would not fit.
func (n *SNSNotifier) Notify(ctx context.Context, s *etl.Summary) error {
	body, err := message(s)
	if err != nil {
		return err
	}
	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject(s)),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", n.topicArn, err)
	}
	return nil
}

func subject(s *etl.Summary) string {
	sub := "ELB ETL: " + s.Message()
	// SNS subjects are capped at 100 characters
	if len(sub) > 100 {
		sub = sub[:100]
	}
	return sub
}

func message(s *etl.Summary) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	if len(b) > maxMessageBytes {
		trimmed := *s
		trimmed.Keys = nil
		if b, err = json.Marshal(&trimmed); err != nil {
			return "", fmt.Errorf("marshal summary: %w", err)
		}
	}
	return string(b), nil
}
