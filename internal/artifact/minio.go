// Package artifact stores rendered export files in object storage.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store keeps one object per export job in a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(exportID string) string {
	return "exports/" + exportID + ".pdf"
}

// Put stores the rendered artifact for an export job.
func (s *Store) Put(ctx context.Context, exportID string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(exportID),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// Get opens the stored artifact for streaming. The caller closes the
// reader.
func (s *Store) Get(ctx context.Context, exportID string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(exportID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	// GetObject is lazy; surface missing objects now.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return obj, nil
}

// Delete removes the stored artifact. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, exportID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectKey(exportID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}
