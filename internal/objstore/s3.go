package objstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads objects with the AWS SDK.
type S3Source struct {
	s3 S3API
}

func NewS3Source(cfg aws.Config, optFns ...func(*s3.Options)) *S3Source {
	return &S3Source{s3: s3.NewFromConfig(cfg, optFns...)}
}

// NewS3SourceFromClient wraps an existing client.
func NewS3SourceFromClient(c S3API) *S3Source {
	return &S3Source{s3: c}
}

// List pages through ListObjectsV2 until the listing is exhausted.
func (s *S3Source) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	keys := make([]string, 0, 256)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3Source) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 getobject %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
