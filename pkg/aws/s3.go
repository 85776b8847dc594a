package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStore stores documents under caller-chosen keys.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	// Exists reports whether key is present, and its URL when it is.
	Exists(ctx context.Context, key string) (string, bool, error)
}

// S3Store implements ObjectStore on a single bucket.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
}

// NewS3Store creates an S3Store. baseURL is the public prefix objects are
// served from; when empty the virtual-hosted S3 URL is used.
func NewS3Store(cfg sdkaws.Config, bucket, baseURL string) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// LocalStack needs path-style addressing
		o.UsePathStyle = cfg.BaseEndpoint != nil
	})
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, cfg.Region)
	}
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}
}

// Put uploads body under key and returns the object URL.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(s.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s failed: %w", key, err)
	}
	return s.URL(key), nil
}

// Exists checks for key with a HeadObject call.
func (s *S3Store) Exists(ctx context.Context, key string) (string, bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: sdkaws.String(s.bucket),
		Key:    sdkaws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("s3 head %s failed: %w", key, err)
	}
	return s.URL(key), true, nil
}

// URL returns the public URL for key.
func (s *S3Store) URL(key string) string {
	return s.baseURL + "/" + key
}
