package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/metrics"
)

var s3Log = logger.New("S3Storage")

// S3API is the subset of *s3.Client used by S3Storage.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ClientConfig holds the connection settings shared by every bucket.
type S3ClientConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	BaseURL   string // custom endpoint for S3-compatible storage (MinIO, etc.)
	HTTP      *HTTPConfig
}

// NewS3Client creates an S3 client that is not bound to a bucket.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	httpClient := NewHTTPClient(cfg.HTTP)

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	if cfg.BaseURL != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("access key and secret key are required with a custom S3 endpoint")
		}
		s3Log.Infof("Initializing S3-compatible client: endpoint=%s, region=%s", cfg.BaseURL, region)
		// Skip the AWS credential chain for S3-compatible endpoints
		return s3.New(s3.Options{
			Region:       region,
			Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			BaseEndpoint: aws.String(cfg.BaseURL),
			UsePathStyle: true,
			HTTPClient:   httpClient,
		}), nil
	}

	s3Log.Infof("Initializing AWS S3 client: region=%s", region)
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// S3Storage stores artifacts as objects in one bucket.
type S3Storage struct {
	client S3API
	bucket string
}

func NewS3Storage(client S3API, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

func (s *S3Storage) Bucket() string {
	return s.bucket
}

func (s *S3Storage) Store(ctx context.Context, key string, data []byte) (err error) {
	defer func() { observe("s3", "store", err) }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		s3Log.Errorf("Error storing object: bucket=%s, key=%s, error=%v", s.bucket, key, err)
		return fmt.Errorf("s3 put %s/%s: %w", s.bucket, key, err)
	}
	s3Log.Debugf("Stored object: bucket=%s, key=%s, size=%d bytes", s.bucket, key, len(data))
	return nil
}

// Open streams an object body. The caller closes the reader.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 object %s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get %s/%s: %w", s.bucket, key, err)
	}
	return result.Body, nil
}

func (s *S3Storage) Load(ctx context.Context, key string) (data []byte, err error) {
	defer func() { observe("s3", "load", err) }()

	s3Log.Debugf("Fetching object: bucket=%s, key=%s", s.bucket, key)
	body, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err = io.ReadAll(body)
	if err != nil {
		s3Log.Errorf("Error reading object body: bucket=%s, key=%s, error=%v", s.bucket, key, err)
		return nil, fmt.Errorf("s3 read %s/%s: %w", s.bucket, key, err)
	}
	metrics.BackendBytesLoaded.WithLabelValues("s3").Add(float64(len(data)))
	s3Log.Debugf("Fetched object: bucket=%s, key=%s, size=%d bytes", s.bucket, key, len(data))
	return data, nil
}

// Delete removes an object. S3 deletes are idempotent, so absence is checked first.
func (s *S3Storage) Delete(ctx context.Context, key string) (err error) {
	defer func() { observe("s3", "delete", err) }()

	if err := s.head(ctx, key); err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) bool {
	err := s.head(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s3Log.Warnf("Head failed: bucket=%s, key=%s, error=%v", s.bucket, key, err)
	}
	return err == nil
}

func (s *S3Storage) head(ctx context.Context, key string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("s3 object %s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return fmt.Errorf("s3 head %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
