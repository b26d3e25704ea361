// Package objects stores user images in the two owned buckets through the
// S3-compatible API of the storage provider and builds their public URLs.
package objects

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/lumen/pkg/observability"
)

// ErrNotConfigured is returned when no public URL base is configured
var ErrNotConfigured = errors.New("object storage is not configured")

// Store is the object storage used by generation and project deletion
type Store interface {
	// Put uploads data and returns its public URL
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
	// Delete removes one object
	Delete(ctx context.Context, bucket, key string) error
}

// Config holds S3 gateway settings
type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool

	// PublicURL is the base of public object URLs, e.g.
	// https://<ref>.supabase.co/storage/v1/object/public
	PublicURL string

	InputBucket  string
	OutputBucket string
}

// DefaultConfig returns the bucket layout the product expects
func DefaultConfig() Config {
	return Config{
		Region:       "us-east-1",
		UsePathStyle: true,
		InputBucket:  "input-images",
		OutputBucket: "output-images",
	}
}

// S3Store implements Store on aws-sdk-go-v2
type S3Store struct {
	client    *s3.Client
	publicURL string
	metrics   *observability.Metrics
}

// NewS3Store creates an S3 client for cfg. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg Config, metrics *observability.Metrics) (*S3Store, error) {
	if cfg.PublicURL == "" {
		return nil, ErrNotConfigured
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:    client,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		metrics:   metrics,
	}, nil
}

// Put uploads data and returns its public URL
func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "objects.Put",
		trace.WithAttributes(
			attribute.String("s3.bucket", bucket),
			attribute.String("s3.key", key),
			attribute.String("content.type", contentType),
			attribute.Int("content.size", len(data)),
		),
	)
	defer span.End()

	start := time.Now()
	hash := sha256.Sum256(data)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
		},
	})
	s.metrics.ObserveStorage("put", bucket, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return "", fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}

	return PublicURL(s.publicURL, bucket, key), nil
}

// Delete removes one object
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	ctx, span := observability.Tracer().Start(ctx, "objects.Delete",
		trace.WithAttributes(
			attribute.String("s3.bucket", bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	s.metrics.ObserveStorage("delete", bucket, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PublicURL joins base, bucket and key, escaping each key segment
func PublicURL(base, bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.Join(segments, "/")
}

// KeyFromURL returns the object key of rawURL inside bucket: the part of the
// URL path after "/{bucket}/". It reports false for empty or unparsable URLs
// and for URLs that do not point into bucket.
func KeyFromURL(rawURL, bucket string) (string, bool) {
	if rawURL == "" || bucket == "" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "", false
	}

	marker := "/" + bucket + "/"
	idx := strings.Index(u.Path, marker)
	if idx < 0 {
		return "", false
	}
	key := u.Path[idx+len(marker):]
	if end := strings.Index(key, marker); end >= 0 {
		key = key[:end]
	}
	if key == "" {
		return "", false
	}
	return key, true
}
