package export

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lnurlpos/internal/logging"
)

// DefaultB2Endpoint is Backblaze's S3-compatible endpoint.
const DefaultB2Endpoint = "s3.us-east-005.backblazeb2.com"

// B2Object is the part of *minio.Object the storage uses.
type B2Object interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// B2Client is the part of *minio.Client the storage uses.
type B2Client interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (B2Object, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (B2Object, error) {
	return c.Client.GetObject(ctx, bucket, key, opts)
}

// B2Storage implements Storage on Backblaze B2, or any S3-compatible
// service, via minio.
type B2Storage struct {
	client    B2Client
	bucket    string
	prefix    string
	publicURL string // e.g. "https://f005.backblazeb2.com/file/mybucket"
}

// B2Config holds configuration for B2 storage.
type B2Config struct {
	Endpoint  string // defaults to DefaultB2Endpoint
	KeyID     string
	AppKey    string
	Bucket    string
	Prefix    string // optional folder for all objects
	PublicURL string // optional base URL for direct downloads
}

// Enabled reports whether enough is configured to upload.
func (c B2Config) Enabled() bool {
	return c.KeyID != "" && c.AppKey != "" && c.Bucket != ""
}

// NewB2Storage connects to the configured bucket.
func NewB2Storage(cfg B2Config) (*B2Storage, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultB2Endpoint
	}
	logging.Export.Infow("initializing bucket storage", "bucket", cfg.Bucket, "prefix", cfg.Prefix, "endpoint", endpoint)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.KeyID, cfg.AppKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, err
	}

	return NewB2StorageWithClient(minioClient{client}, cfg.Bucket, cfg.Prefix, cfg.PublicURL), nil
}

// NewB2StorageWithClient wraps an existing client.
func NewB2StorageWithClient(client B2Client, bucket, prefix, publicURL string) *B2Storage {
	return &B2Storage{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *B2Storage) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *B2Storage) Save(ctx context.Context, name string, data io.Reader, size int64) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	key := s.key(name)

	info, err := s.client.PutObject(ctx, s.bucket, key, data, size, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		logging.Export.Warnw("upload failed", "key", key, "error", err)
		return 0, err
	}

	logging.Export.Infow("uploaded export", "key", key, "bytes", info.Size)
	return info.Size, nil
}

func (s *B2Storage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	key := s.key(name)

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

func (s *B2Storage) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// GetPublicURL returns the public URL for name, or "" when no public URL is
// configured.
func (s *B2Storage) GetPublicURL(name string) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/" + s.key(name)
}
