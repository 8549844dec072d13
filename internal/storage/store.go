// Package storage uploads avatars and training documents to S3-compatible
// object storage and resolves their public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/agent-playground/pkg/logging"
)

// ErrNotConfigured is returned when no bucket is set.
var ErrNotConfigured = errors.New("storage: bucket not configured")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store writes objects to one bucket. Uploads overwrite an existing key.
type Store struct {
	bucket   string
	region   string
	s3Client S3API
	baseURL  string
	logger   *logging.Logger
}

// NewStore creates a Store. baseURL, when set, prefixes public URLs (a CDN or
// an S3-compatible endpoint); otherwise the virtual-hosted S3 URL is used.
func NewStore(s3Client S3API, bucket, region, baseURL string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:   bucket,
		region:   region,
		s3Client: s3Client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// Enabled reports whether uploads can be served.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Upload puts body under key and returns its public URL.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: s3 put %s: %w", key, err)
	}
	s.logger.Info("object uploaded", "bucket", s.bucket, "key", key, "content_type", contentType)
	return s.PublicURL(key), nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("storage: s3 delete %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the URL an uploaded key is served from.
func (s *Store) PublicURL(key string) string {
	escaped := escapeKey(strings.TrimLeft(key, "/"))
	if s.baseURL != "" {
		return s.baseURL + "/" + escaped
	}
	region := s.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, region, escaped)
}

// AvatarKey is the object key of an agent's avatar image.
func AvatarKey(agentID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".png"
	}
	return path.Join("agents", agentID, "avatar"+ext)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(path.Clean("/"+strings.TrimSpace(key)), "/")
	if key == "" || key == "." {
		return "", errors.New("storage: key required")
	}
	return key, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
