// Package storage keeps ledger export archives in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/loyalty/points/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	defaultRegion     = "us-east-1"
	defaultPresignTTL = 15 * time.Minute
)

// Archive is a stored export and a time-limited link to it
type Archive struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// S3Archive uploads export files and presigns download links
type S3Archive struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	prefix     string
	presignTTL time.Duration
	logger     *zap.Logger
}

// NewS3Archive builds a client for any S3-compatible endpoint (AWS, MinIO, RustFS)
func NewS3Archive(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("storage credentials are required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint))
		}
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &S3Archive{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		presignTTL: ttl,
		logger:     logger,
	}, nil
}

func withScheme(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}

// Store uploads data under name and returns a presigned GET link
func (a *S3Archive) Store(ctx context.Context, name, contentType string, data []byte) (*Archive, error) {
	if name == "" {
		return nil, errors.New("archive name is required")
	}
	key := name
	if a.prefix != "" {
		key = path.Join(a.prefix, name)
	}

	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}); err != nil {
		return nil, fmt.Errorf("failed to upload archive: %w", err)
	}

	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.presignTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to presign archive: %w", err)
	}

	a.logger.Info("export archived",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return &Archive{
		Key:       key,
		URL:       req.URL,
		Size:      int64(len(data)),
		ExpiresAt: time.Now().Add(a.presignTTL),
	}, nil
}

// Bucket returns the bucket name
func (a *S3Archive) Bucket() string {
	return a.bucket
}
