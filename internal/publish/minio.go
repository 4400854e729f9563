package publish

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO publishes Static content into a bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO creates a MinIO client and ensures the bucket exists.
func NewMinIO(ctx context.Context, cfg *MinIOConfig) (*MinIO, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	p := &MinIO{client: mc, bucket: bucket}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// already exists is fine
		exist, xerr := mc.BucketExists(ctx, bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return p, nil
}

func (p *MinIO) Put(ctx context.Context, key, content string) error {
	_, err := p.client.PutObject(ctx, p.bucket, ObjectKey(key), strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", key, err)
	}
	return nil
}

func (p *MinIO) Remove(ctx context.Context, key string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, ObjectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio remove %s: %w", key, err)
	}
	return nil
}

// URL returns a presigned GET URL for a published key.
func (p *MinIO) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, ObjectKey(key), expires, make(url.Values))
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
