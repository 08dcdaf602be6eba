// Package s3store implements imagestore.Store on S3-compatible object storage.
// Images resolve to presigned GET URLs that the model provider fetches itself.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/patrickmn/go-cache"
	"github.com/phrazzld/medstock-api/internal/config"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
)

// ObjectAPI is the subset of *s3.Client used by the store.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(
		ctx context.Context,
		in *s3.DeleteObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(
		ctx context.Context,
		in *s3.CreateBucketInput,
		optFns ...func(*s3.Options),
	) (*s3.CreateBucketOutput, error)
}

// Presigner is the subset of *s3.PresignClient used by the store.
type Presigner interface {
	PresignGetObject(
		ctx context.Context,
		in *s3.GetObjectInput,
		optFns ...func(*s3.PresignOptions),
	) (*v4.PresignedHTTPRequest, error)
}

// Store keeps images in a single bucket.
type Store struct {
	client            ObjectAPI
	presigner         Presigner
	bucket            string
	presignExpiration time.Duration
	urls              *cache.Cache
	logger            *slog.Logger
}

var _ imagestore.Store = (*Store)(nil)

// NewFromConfig builds an S3 client from storage settings. A custom endpoint
// enables S3-compatible services such as MinIO.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return New(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignExpiration, log), nil
}

// New creates a store from explicit clients.
func New(client ObjectAPI, presigner Presigner, bucket string, presignExpiration time.Duration, log *slog.Logger) *Store {
	if presignExpiration <= 0 {
		presignExpiration = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	// URLs are reused for half their lifetime so a cached URL is never
	// handed out close to expiry.
	ttl := presignExpiration / 2
	return &Store{
		client:            client,
		presigner:         presigner,
		bucket:            bucket,
		presignExpiration: presignExpiration,
		urls:              cache.New(ttl, presignExpiration),
		logger:            log.With(slog.String("component", "s3_image_store"), slog.String("bucket", bucket)),
	}
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("creating storage bucket")
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put uploads data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := imagestore.ValidateKey(key); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("%w: upload: %v", imagestore.ErrImageUnavailable, err)
	}

	s.urls.Delete(key)
	logger.FromContextOrDefault(ctx, s.logger).Debug("stored image",
		slog.String("key", key),
		slog.Int("bytes", len(data)))
	return nil
}

// ResolveReference returns a presigned GET URL for key.
func (s *Store) ResolveReference(ctx context.Context, key, contentType string) (imagestore.Reference, error) {
	if err := imagestore.ValidateKey(key); err != nil {
		return imagestore.Reference{}, err
	}

	if cached, ok := s.urls.Get(key); ok {
		return imagestore.URLReference(cached.(string), contentType), nil
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiration))
	if err != nil {
		return imagestore.Reference{}, fmt.Errorf("%w: presign: %v", imagestore.ErrImageUnavailable, err)
	}

	s.urls.SetDefault(key, req.URL)
	return imagestore.URLReference(req.URL, contentType), nil
}

// GetBytes downloads the content of key.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	if err := imagestore.ValidateKey(key); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", imagestore.ErrImageNotFound, key)
		}
		return nil, fmt.Errorf("%w: download: %v", imagestore.ErrImageUnavailable, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", imagestore.ErrImageUnavailable, err)
	}
	return data, nil
}

// Delete removes key. S3 treats deleting a missing key as success.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := imagestore.ValidateKey(key); err != nil {
		return err
	}

	s.urls.Delete(key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: delete: %v", imagestore.ErrImageUnavailable, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	// Some S3-compatible services only report the code in the message.
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}
