package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"callcenter/internal/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver keeps a copy of raw uploaded files.
type Archiver interface {
	Archive(ctx context.Context, clientID int64, fileName string, data []byte) (string, error)
}

// MinioArchiver stores uploads in an S3-compatible bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioArchiver connects to the endpoint and ensures the bucket exists.
func NewMinioArchiver(ctx context.Context, cfg config.StorageConfig) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// Archive uploads the file and returns its object key.
func (m *MinioArchiver) Archive(ctx context.Context, clientID int64, fileName string, data []byte) (string, error) {
	key := ObjectKey(clientID, fileName, m.now())
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// ObjectKey is uploads/<client>/<yyyy>/<mm>/<dd>/<uuid>-<name>.
func ObjectKey(clientID int64, fileName string, at time.Time) string {
	name := sanitize(path.Base(strings.ReplaceAll(fileName, "\\", "/")))
	if strings.Trim(name, ".") == "" {
		name = "upload.csv"
	}
	return fmt.Sprintf("uploads/%d/%s/%s-%s", clientID, at.UTC().Format("2006/01/02"), uuid.NewString(), name)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}
