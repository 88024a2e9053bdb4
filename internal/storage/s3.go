package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"tradiehub/internal/config"
)

// PhotoPrefix is where job-offer photos are stored.
const PhotoPrefix = "uploads/job_photos"

// BlobStore stores opaque bytes and returns the path they can be read from.
type BlobStore interface {
	Store(ctx context.Context, data []byte, contentType string) (string, error)
}

type s3Storage struct {
	bucket   string
	s3Client *s3.Client
}

// NewS3Storage creates a blob store writing to cfg.AwsS3Bucket.
func NewS3Storage(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	if cfg.AwsS3Bucket == "" {
		return nil, fmt.Errorf("AWS_S3_BUCKET is not set")
	}
	opts := []func(*aws_config.LoadOptions) error{aws_config.WithRegion(cfg.AwsRegion)}
	if cfg.AwsAccessKeyID != "" {
		opts = append(opts, aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)))
	}
	awsCfg, err := aws_config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &s3Storage{
		bucket:   cfg.AwsS3Bucket,
		s3Client: s3.NewFromConfig(awsCfg),
	}, nil
}

func (s *s3Storage) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	key := ObjectKey(contentType)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey names a new photo object: uploads/job_photos/job_<uuid>.<ext>.
func ObjectKey(contentType string) string {
	return fmt.Sprintf("%s/job_%s.%s", PhotoPrefix, uuid.NewString(), extension(contentType))
}

func extension(contentType string) string {
	if _, sub, ok := strings.Cut(contentType, "/"); ok && sub != "" {
		switch sub {
		case "jpeg", "pjpeg":
			return "jpg"
		case "svg+xml":
			return "svg"
		}
		return sub
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// MemoryStorage keeps blobs in memory. Used in --memory mode and tests.
type MemoryStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
	// Fail, when set, is returned by every Store call.
	Fail error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (m *MemoryStorage) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return "", m.Fail
	}
	key := ObjectKey(contentType)
	m.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

// Get returns a stored blob.
func (m *MemoryStorage) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[path]
	return b, ok
}

func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
