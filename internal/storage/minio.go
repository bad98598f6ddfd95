// Package storage delivers export artifacts to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/visionscript/capture-service/internal/export"
	"github.com/visionscript/capture-service/internal/models"
)

// ObjectStore is the subset of the MinIO client the sink needs
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// BucketSink stores artifacts as objects and hands back presigned GET URLs
type BucketSink struct {
	store      ObjectStore
	bucket     string
	presignTTL time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
}

// NewBucketSink connects to the configured endpoint and verifies the bucket exists
func NewBucketSink(ctx context.Context, cfg models.BucketConfig, logger logrus.FieldLogger) (*BucketSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create MinIO client")
	}

	sink := NewBucketSinkWithStore(client, cfg.Name, cfg.PresignTTL, logger)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Name)
	if err != nil {
		return nil, errors.Wrap(err, "check bucket")
	}
	if !exists {
		return nil, errors.Errorf("bucket %s does not exist", cfg.Name)
	}

	return sink, nil
}

// NewBucketSinkWithStore wraps an existing store
func NewBucketSinkWithStore(store ObjectStore, bucket string, presignTTL time.Duration, logger logrus.FieldLogger) *BucketSink {
	if presignTTL <= 0 {
		presignTTL = 24 * time.Hour
	}
	return &BucketSink{
		store:      store,
		bucket:     bucket,
		presignTTL: presignTTL,
		now:        time.Now,
		logger:     logger.WithField("component", "storage"),
	}
}

// ObjectName builds the key for an artifact.
// Path format: exports/YYYY/MM/{job id}/{filename}
func (s *BucketSink) ObjectName(artifact *export.Artifact) string {
	now := s.now()
	return fmt.Sprintf("exports/%d/%02d/%s/%s",
		now.Year(),
		now.Month(),
		artifact.JobID,
		artifact.Filename,
	)
}

// Deliver uploads the artifact and returns a presigned URL for it
func (s *BucketSink) Deliver(ctx context.Context, artifact *export.Artifact) (string, error) {
	objectName := s.ObjectName(artifact)

	_, err := s.store.PutObject(ctx, s.bucket, objectName, bytes.NewReader(artifact.Data), int64(len(artifact.Data)), minio.PutObjectOptions{
		ContentType:        artifact.ContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", artifact.Filename),
	})
	if err != nil {
		return "", errors.Wrap(err, "upload artifact")
	}

	u, err := s.store.PresignedGetObject(ctx, s.bucket, objectName, s.presignTTL, nil)
	if err != nil {
		// an object nobody can fetch is dropped again
		return "", multierr.Append(errors.Wrap(err, "generate presigned URL"), s.remove(ctx, objectName))
	}

	s.logger.WithFields(logrus.Fields{
		"object": objectName,
		"bytes":  len(artifact.Data),
	}).Info("artifact stored")

	return u.String(), nil
}

func (s *BucketSink) remove(ctx context.Context, objectName string) error {
	return errors.Wrap(s.store.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}), "remove artifact")
}
