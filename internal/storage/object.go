package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

// BlobStore is the durable artifact store consumed by the orchestrator.
type BlobStore interface {
	// Put writes data under key and returns the canonical storage key.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// URL returns the public URL for a previously stored key.
	URL(key string) string
}

// MinioStore persists blobs in a MinIO (or any S3-compatible) bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioStore ensures the target bucket exists and returns a store bound to it.
func NewMinioStore(ctx context.Context, client *minio.Client, bucket, baseURL string) (*MinioStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}
	return &MinioStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Put uploads the blob and returns the storage key.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return cleanKey, nil
}

// URL returns the public URL for a stored key.
func (s *MinioStore) URL(key string) string {
	if key == "" {
		return ""
	}
	if s.baseURL != "" {
		return s.baseURL + "/" + strings.TrimLeft(key, "/")
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.client.EndpointURL().String(), "/"), s.bucket, strings.TrimLeft(key, "/"))
}

var _ BlobStore = (*MinioStore)(nil)
