// Package objstore wraps the S3-compatible object store holding user
// uploads. The API signs direct-upload URLs so binaries never pass
// through the request path.
package objstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config configures the object store client.
type Config struct {
	Endpoint   string        `long:"endpoint" env:"ENDPOINT" default:"localhost:9000" description:"Object store endpoint"`
	AccessKey  string        `long:"access-key" env:"ACCESS_KEY" description:"Object store access key"`
	SecretKey  string        `long:"secret-key" env:"SECRET_KEY" description:"Object store secret key"`
	Bucket     string        `long:"bucket" env:"BUCKET" default:"mededge-uploads" description:"Bucket holding uploads"`
	UseSSL     bool          `long:"use-ssl" env:"USE_SSL" description:"Use TLS for object store connections"`
	SignExpiry time.Duration `long:"sign-expiry" env:"SIGN_EXPIRY" default:"15m" description:"Validity of presigned upload URLs"`
}

// Store is a bucket-scoped object store client.
type Store struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// Dial builds the object store client.
func Dial(cfg Config) (*Store, error) {
	var client, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("building object store client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, expiry: cfg.SignExpiry}, nil
}

// EnsureBucket creates the upload bucket when absent.
func (s *Store) EnsureBucket(ctx context.Context) error {
	var exists, err = s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// ObjectName allocates a collision-free object name which keeps the
// upload's extension and shards by date for cheap prefix listings.
func ObjectName(filename string) string {
	var ext = strings.ToLower(filepath.Ext(filename))
	var id = strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s/%s%s", time.Now().Format("2006/01/02"), id, ext)
}

// PresignedPut signs a direct-upload URL for the named object.
func (s *Store) PresignedPut(ctx context.Context, objectName string) (string, error) {
	var u, err = s.client.PresignedPutObject(ctx, s.bucket, objectName, s.expiry)
	if err != nil {
		return "", fmt.Errorf("presigning put of %s: %w", objectName, err)
	}
	return u.String(), nil
}

// Bucket names the upload bucket.
func (s *Store) Bucket() string { return s.bucket }

// Expiry is the validity window of signed URLs.
func (s *Store) Expiry() time.Duration { return s.expiry }

// Ping verifies the store answers requests.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("pinging object store: %w", err)
	}
	return nil
}
