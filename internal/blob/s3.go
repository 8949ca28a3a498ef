package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gramfs/internal/metrics"
)

// S3Config holds S3/MinIO connection settings.
type S3Config struct {
	Endpoint  string // empty for stock AWS endpoints
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	MaxSize   int64
}

// S3Store stores chunks as objects under generated keys in one bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	maxSize int64
}

// NewS3Store creates an S3-backed blob store and verifies the bucket,
// creating it when absent.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	store := &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		maxSize: cfg.MaxSize,
	}
	if store.maxSize == 0 {
		store.maxSize = DefaultMaxObjectSize
	}

	if err := store.ensureBucket(ctx); err != nil {
		log.Warnf("[BLOB] s3 bucket check failed: %v", err)
	}

	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	log.Infof("[BLOB] created s3 bucket %s", s.bucket)
	return nil
}

// Upload stores data under a fresh key and returns the key.
func (s *S3Store) Upload(ctx context.Context, data []byte) (id string, err error) {
	if err := checkSize(s, len(data)); err != nil {
		return "", err
	}

	start := time.Now()
	defer func() { metrics.RecordBlobUpload(s.Type(), int64(len(data)), time.Since(start), err) }()

	key := "chunks/" + uuid.NewString()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	log.Debugf("[BLOB] s3 upload: %d bytes -> %s", len(data), key)
	return key, nil
}

// Download fetches the object stored under id.
func (s *S3Store) Download(ctx context.Context, id string) (data []byte, err error) {
	start := time.Now()
	defer func() {
		var n int64
		if err == nil {
			n = int64(len(data))
		}
		metrics.RecordBlobDownload(s.Type(), n, time.Since(start), err)
	}()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	defer result.Body.Close()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	return data, nil
}

// MaxObjectSize reports the configured per-object limit.
func (s *S3Store) MaxObjectSize() int64 { return s.maxSize }

// Type returns "s3".
func (s *S3Store) Type() string { return "s3" }
