package objstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioAPI interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// MinioOptions addresses an S3-compatible endpoint such as MinIO or Ceph RGW.
type MinioOptions struct {
	Endpoint        string // host:port, no scheme
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// MinioSource reads objects from an S3-compatible store.
type MinioSource struct {
	mc MinioAPI
}

func NewMinioSource(opt MinioOptions) (*MinioSource, error) {
	if opt.Endpoint == "" {
		return nil, fmt.Errorf("minio: missing endpoint")
	}
	mc, err := minio.New(opt.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opt.AccessKeyID, opt.SecretAccessKey, ""),
		Secure: opt.UseSSL,
		Region: opt.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client %s: %w", opt.Endpoint, err)
	}
	return &MinioSource{mc: mc}, nil
}

// NewMinioSourceFromClient wraps an existing client.
func NewMinioSourceFromClient(c MinioAPI) *MinioSource {
	return &MinioSource{mc: c}
}

func (m *MinioSource) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	keys := make([]string, 0, 256)
	for obj := range m.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio list %s/%s: %w", bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *MinioSource) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio getobject %s/%s: %w", bucket, key, err)
	}
	// GetObject is lazy; Stat surfaces a missing object before the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("minio stat %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}
