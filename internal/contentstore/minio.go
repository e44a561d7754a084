package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioBackend keeps blocks as objects in a bucket, one object per
// identifier. Objects are only ever written once.
type MinioBackend struct {
	client *minio.Client
	bucket string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioBackend connects and ensures the block bucket exists.
func NewMinioBackend(ctx context.Context, cfg MinioConfig) (*MinioBackend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "dispatch-blocks"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &MinioBackend{client: client, bucket: bucket}, nil
}

func (b *MinioBackend) Put(ctx context.Context, id string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, objectName(id), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (b *MinioBackend) Get(ctx context.Context, id string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectName(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *MinioBackend) Exists(ctx context.Context, id string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, objectName(id), minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// objectName prefixes identifiers so unrelated tooling can share the bucket.
func objectName(id string) string {
	return fmt.Sprintf("blocks/%s.json", id)
}
