// Package blob uploads local files to blob storage buckets.
package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores a local file under bucket/key.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, localPath string) error
}

// S3Uploader implements Uploader on top of AWS S3 using the transfer manager.
type S3Uploader struct {
	uploader *manager.Uploader
	logger   *slog.Logger
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader creates an S3-backed uploader.
func NewS3Uploader(cfg aws.Config, logger *slog.Logger) *S3Uploader {
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{
		uploader: manager.NewUploader(client),
		logger:   logger,
	}
}

// Upload streams the file at localPath to s3://bucket/key.
func (u *S3Uploader) Upload(ctx context.Context, bucket, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}

	u.logger.Debug("file uploaded", "bucket", bucket, "key", key)
	return nil
}

// NopUploader is the dry-run uploader: it checks the local file exists and
// logs the upload it would perform.
type NopUploader struct {
	logger *slog.Logger
}

var _ Uploader = (*NopUploader)(nil)

// NewNopUploader creates an uploader that performs no network calls.
func NewNopUploader(logger *slog.Logger) *NopUploader {
	return &NopUploader{logger: logger}
}

// Upload verifies localPath is readable and logs the skipped transfer.
func (u *NopUploader) Upload(ctx context.Context, bucket, key, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	u.logger.Info("dry run: would upload file", "bucket", bucket, "key", key, "path", localPath)
	return nil
}
