// Package storage persists generated documents and KYC uploads to
// S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL, when set, is used to build the URLs recorded against
	// questionnaires (e.g. a CDN or reverse-proxy front). Defaults to the
	// endpoint itself.
	PublicBaseURL string
}

// Store is a single-bucket MinIO client. Keys map to object keys directly.
type Store struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// UploadedFile describes one stored object.
type UploadedFile struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &Store{client: client, bucket: cfg.Bucket, baseURL: base}, nil
}

// EnsureBucket creates the bucket if it does not exist. Called at boot.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// Upload writes one object and returns its descriptor.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (UploadedFile, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return UploadedFile{}, fmt.Errorf("put object %s: %w", key, err)
	}
	name := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		name = key[idx+1:]
	}
	return UploadedFile{
		Name: name,
		Key:  key,
		URL:  s.ObjectURL(key),
		Size: info.Size,
	}, nil
}

// ObjectURL builds the public URL for a stored object.
func (s *Store) ObjectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return s.baseURL + "/" + s.bucket + "/" + strings.Join(parts, "/")
}
