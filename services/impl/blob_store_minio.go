package impl

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/services"
)

// minioStore keeps the original uploaded files in a MinIO bucket. Parsers work
// on local files, so DownloadTemp stages objects under os.TempDir.
type minioStore struct {
	client *minio.Client
	bucket string
}

func NewBlobStore(cfg *config.StorageConfig) (services.BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *minioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	log.Printf("[INFO] Created storage bucket %s", s.bucket)
	return nil
}

func (s *minioStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}
	return nil
}

// DownloadTemp fetches an object into a temp file and returns its path with a
// cleanup func. Callers must always invoke cleanup, including on error paths of
// their own.
func (s *minioStore) DownloadTemp(ctx context.Context, objectPath string) (string, func(), error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch %s: %w", objectPath, err)
	}
	defer obj.Close()

	tmp, err := os.CreateTemp("", "rms-doc-*"+filepath.Ext(objectPath))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to download %s: %w", objectPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to finalize temp file: %w", err)
	}

	path := tmp.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[WARN] Failed to remove temp file %s: %v", path, err)
		}
	}
	return path, cleanup, nil
}

func (s *minioStore) Delete(ctx context.Context, objectPath string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}
	return nil
}
