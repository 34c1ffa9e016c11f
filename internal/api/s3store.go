package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the damage photo bucket.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO, LocalStack
	Prefix   string
}

// s3API is the slice of the S3 client the object store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3ObjectStore stores uploaded damage files in an S3 bucket.
type S3ObjectStore struct {
	client s3API
	bucket string
	prefix string
}

// NewS3ObjectStore loads the default AWS credential chain and returns a
// store for cfg.Bucket.
func NewS3ObjectStore(ctx context.Context, cfg S3Config) (*S3ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("api: s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("api: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3ObjectStore(client, cfg), nil
}

func newS3ObjectStore(client s3API, cfg S3Config) *S3ObjectStore {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3ObjectStore{client: client, bucket: cfg.Bucket, prefix: prefix}
}

// Put uploads body under key and returns the full object key.
func (s *S3ObjectStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	full := s.prefix + strings.TrimLeft(key, "/")
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("api: s3 put %s: %w", full, err)
	}
	return full, nil
}

// Ping checks that the bucket is reachable.
func (s *S3ObjectStore) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("api: s3 head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ErrObjectStorageDisabled is returned by DisabledObjectStore.
var ErrObjectStorageDisabled = errors.New("api: object storage is disabled")

// DisabledObjectStore rejects every upload. Damage submissions without
// files still go through.
type DisabledObjectStore struct{}

// Put always fails with ErrObjectStorageDisabled.
func (DisabledObjectStore) Put(context.Context, string, string, io.Reader, int64) (string, error) {
	return "", ErrObjectStorageDisabled
}
