package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/imaging"
	"github.com/your-org/kiosk/internal/models"
)

const snapshotQuality = 85

// MinIOStore keeps attendance snapshots and enrollment photos.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// SnapshotKey is the object key of the attendance snapshot taken at at.
func SnapshotKey(identity string, at time.Time) string {
	return fmt.Sprintf("attendance/%s/%s_%s.jpg",
		at.Format(models.DateLayout), objectName(identity), at.Format("150405.000"))
}

// EnrollmentPrefix is where the photos a student was enrolled from live.
func EnrollmentPrefix(identity string) string {
	return "students/" + objectName(identity) + "/"
}

// SaveSnapshot stores the face image of a committed mark and returns its key.
func (s *MinIOStore) SaveSnapshot(ctx context.Context, identity string, at time.Time, img image.Image) (string, error) {
	data, err := imaging.EncodeJPEG(img, snapshotQuality)
	if err != nil {
		return "", err
	}
	key := SnapshotKey(identity, at)
	if err := s.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}

// SaveEnrollmentPhoto keeps the original upload a face was enrolled from.
func (s *MinIOStore) SaveEnrollmentPhoto(ctx context.Context, identity string, data []byte, contentType string) (string, error) {
	key := EnrollmentPrefix(identity) + uuid.NewString()
	if err := s.PutObject(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// DeleteEnrollmentPhotos removes every stored enrollment photo of identity.
func (s *MinIOStore) DeleteEnrollmentPhotos(ctx context.Context, identity string) error {
	keys, err := s.ListObjects(ctx, EnrollmentPrefix(identity))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.DeleteObjects(ctx, keys)
}

func (s *MinIOStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *MinIOStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// DeleteObjects removes multiple objects in a single batch request.
func (s *MinIOStore) DeleteObjects(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// objectName makes a student name safe to use as a key segment.
func objectName(identity string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(identity))
}
