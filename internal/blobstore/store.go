// Package blobstore implements the Blob Store Adapter: an S3-compatible
// object store reached through path-style endpoints, presigned GET
// URLs, and paginated prefix listing for the TTL cleaner's sweep.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// Config holds S3 client configuration (subcaption talks to a single
// bucket; per-tenant isolation is by key prefix, not by bucket).
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Store is the S3-backed blob store.
type Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	logger        logging.Logger
}

// New creates a Store: explicit credentials if given, otherwise the
// default AWS credential chain; path-style addressing when a custom
// endpoint is set, for S3-compatible backends such as MinIO.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blobstore: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	presignClient := s3.NewPresignClient(client)

	logger.WithFields(logging.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Info("blob store initialized")

	return &Store{client: client, presignClient: presignClient, bucket: cfg.Bucket, logger: logger}, nil
}

// Key builds the {tenantId}/{kind}/{hash}{ext} object key.
func Key(tenantID string, kind models.BlobKind, hash, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s/%s/%s%s", tenantID, kind, hash, ext)
}

// PutResult is the return value of Put.
type PutResult struct {
	Key             string
	PresignedGetURL string
	ExpiresIn       time.Duration
}

const defaultPresignTTL = 24 * time.Hour

// Put uploads local content under the given key, attaching
// {uploadedAt, tenant, autoDeleteTtl} metadata, and returns a 24h
// presigned GET URL for immediate use.
func (s *Store) Put(ctx context.Context, key, tenantID string, contentType string, body io.Reader, size int64, autoDeleteTTL time.Duration) (*PutResult, error) {
	uploadedAt := time.Now().UTC()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
		Metadata: map[string]string{
			"uploaded-at":     uploadedAt.Format(time.RFC3339),
			"tenant":          tenantID,
			"auto-delete-ttl": autoDeleteTTL.String(),
		},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("blobstore: put %s: %w", key, err)
	}

	url, err := s.PresignGet(ctx, key, defaultPresignTTL)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logging.Fields{"bucket": s.bucket, "key": key, "tenant": tenantID}).Info("uploaded blob")

	return &PutResult{Key: key, PresignedGetURL: url, ExpiresIn: defaultPresignTTL}, nil
}

// GetStream opens a streaming reader for an object. Callers must close it.
func (s *Store) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", key, err)
	}
	return out.Body, nil
}

// PresignGet generates a time-limited GET URL for a key.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = defaultPresignTTL
	}
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("blobstore: presign get %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes a single object. Not found is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

// Object describes a listed blob, enough for the Cleaner to decide
// whether it has aged out.
type Object struct {
	Key        string
	UploadedAt time.Time
	TenantID   string
	TTL        time.Duration
}

// ListOlderThan lists every object under prefix whose recorded
// uploaded-at metadata is older than cutoff, paginating through
// ListObjectsV2.
func (s *Store) ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]Object, error) {
	var stale []Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blobstore: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				continue
			}
			uploadedAt := objectLastModified(obj, head)
			if uploadedAt.After(cutoff) {
				continue
			}
			stale = append(stale, Object{
				Key:        *obj.Key,
				UploadedAt: uploadedAt,
				TenantID:   head.Metadata["tenant"],
				TTL:        parseTTL(head.Metadata["auto-delete-ttl"]),
			})
		}
	}

	return stale, nil
}

func objectLastModified(obj types.Object, head *s3.HeadObjectOutput) time.Time {
	if raw, ok := head.Metadata["uploaded-at"]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	if obj.LastModified != nil {
		return *obj.LastModified
	}
	return time.Time{}
}

func parseTTL(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
