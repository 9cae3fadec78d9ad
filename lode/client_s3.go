package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket.
	Prefix string
	// Region is the AWS region. Empty uses the default chain.
	Region string
	// Endpoint overrides the S3 endpoint for compatible providers (MinIO, R2).
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
	return bucket, prefix
}

// NewS3Factory builds a Lode store factory over S3 using the AWS default
// credential chain (env vars, shared config, IAM role).
func NewS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("load AWS config: %w", err), s3cfg.Bucket)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			endpoint := s3cfg.Endpoint
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = s3cfg.UsePathStyle
	})

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// NewLodeS3Client creates an archive client on S3.
func NewLodeS3Client(ctx context.Context, cfg Config, s3cfg S3Config) (*LodeClient, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewLodeClientWithFactory(cfg, factory)
}
