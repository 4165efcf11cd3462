// Package storage is the object-store collaborator: durable blobs keyed by
// schema-prefixed object names, backed by any S3-compatible endpoint.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
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

func NewStorage(ctx context.Context, config *Config) (*Storage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	s := &Storage{
		client: client,
		bucket: config.Bucket,
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		err = client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Put stores the file bytes and returns the object's location URL and key.
func (s *Storage) Put(ctx context.Context, prefix, filename string, data []byte) (location string, key string, err error) {
	key = ObjectName(prefix, filename)

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", "", fmt.Errorf("failed to store object %s: %w", key, err)
	}

	location = fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), s.bucket, key)
	return location, key, nil
}

// Get opens the object as a stream; the caller owns closing it.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", key, err)
	}
	return object, nil
}

func ObjectName(prefix, filename string) string {
	prefix = strings.Trim(strings.ToLower(prefix), "/")
	if prefix == "" {
		return filename
	}
	return fmt.Sprintf("%s/%s", prefix, filename)
}
