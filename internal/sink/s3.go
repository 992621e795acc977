// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/netSkope/ldif-export-tool/internal/s3"
)

// S3 upload modes.
const (
	S3ModeStream = "stream"
	S3ModeUpload = "upload"
)

// MultipartUploadStreamCreator opens streaming uploads. Tests substitute it.
type MultipartUploadStreamCreator interface {
	NewMultipartUploadStream(ctx context.Context, key string) Sink
	Key(name string) string
	Bucket() string
}

// FileUploader uploads a finished local file.
type FileUploader interface {
	UploadFileWithRetry(ctx context.Context, path, key string) error
	Key(name string) string
	Bucket() string
}

// s3UploaderAdapter adapts *s3.Uploader to both interfaces.
type s3UploaderAdapter struct {
	*s3.Uploader
}

func (a s3UploaderAdapter) NewMultipartUploadStream(ctx context.Context, key string) Sink {
	return a.Uploader.NewMultipartUploadStream(ctx, key)
}

// NewS3UploaderAdapter exposes an *s3.Uploader to the S3 factories.
func NewS3UploaderAdapter(u *s3.Uploader) interface {
	MultipartUploadStreamCreator
	FileUploader
} {
	return s3UploaderAdapter{u}
}

// S3Stream uploads each stream as a multipart upload while it is written.
type S3Stream struct {
	Uploader MultipartUploadStreamCreator
	Pattern  string
	Now      func() time.Time
}

func (f S3Stream) Create(ctx context.Context, stream string) (Sink, string, error) {
	key := f.Uploader.Key(RenderName(f.Pattern, stream, nowFunc(f.Now)()))
	return f.Uploader.NewMultipartUploadStream(ctx, key), s3URL(f.Uploader.Bucket(), key), nil
}

// S3Upload spools each stream to a temporary file and uploads it on Close.
type S3Upload struct {
	Uploader FileUploader
	Pattern  string
	TempDir  string
	Now      func() time.Time
	Logger   *zap.Logger
}

func (f S3Upload) Create(ctx context.Context, stream string) (Sink, string, error) {
	key := f.Uploader.Key(RenderName(f.Pattern, stream, nowFunc(f.Now)()))
	tmp, err := os.CreateTemp(f.TempDir, SafeName(stream)+"-*.ldif")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create spool file: %w", err)
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &spoolSink{File: tmp, ctx: ctx, key: key, uploader: f.Uploader, logger: logger},
		s3URL(f.Uploader.Bucket(), key), nil
}

type spoolSink struct {
	*os.File
	ctx      context.Context
	key      string
	uploader FileUploader
	logger   *zap.Logger
	done     bool
}

func (s *spoolSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.remove()

	if err := s.File.Close(); err != nil {
		return fmt.Errorf("failed to close spool file: %w", err)
	}
	return s.uploader.UploadFileWithRetry(s.ctx, s.File.Name(), s.key)
}

func (s *spoolSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.File.Close()
	s.remove()
	return err
}

func (s *spoolSink) remove() {
	if err := os.Remove(s.File.Name()); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove spool file", zap.String("path", s.File.Name()), zap.Error(err))
	}
}

func nowFunc(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func s3URL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
