// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	// MinPartSize is the smallest part S3 accepts, except for the last one.
	MinPartSize = 5 * 1024 * 1024
	// DefaultPartSize is used when Options.PartSize is not set.
	DefaultPartSize = 10 * 1024 * 1024
	// Max retries for S3 operations
	maxS3Retries = 5
	// Initial retry delay
	initialRetryDelay = 1 * time.Second
)

// API is the subset of the S3 client used here. *s3.Client implements it.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Options configures an Uploader.
type Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// Static credentials; when empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PartSize        int64
	RetryDelay      time.Duration
}

// Uploader handles S3 uploads with multipart support.
type Uploader struct {
	client     API
	manager    *manager.Uploader
	bucket     string
	prefix     string
	partSize   int64
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewUploader creates an S3 client from the default AWS configuration and
// wraps it in an Uploader.
func NewUploader(ctx context.Context, opts Options, logger *zap.Logger) (*Uploader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			// LocalStack and MinIO need path-style addressing.
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	if endpoint != "" {
		logger.Info("Using custom S3 endpoint", zap.String("endpoint", endpoint))
	}

	return NewUploaderWithClient(client, opts, logger)
}

// NewUploaderWithClient wraps an existing client.
func NewUploaderWithClient(client API, opts Options, logger *zap.Logger) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	if partSize < MinPartSize {
		partSize = MinPartSize
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = initialRetryDelay
	}

	return &Uploader{
		client: client,
		manager: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = 3
		}),
		bucket:     opts.Bucket,
		prefix:     strings.Trim(opts.Prefix, "/"),
		partSize:   partSize,
		retryDelay: retryDelay,
		logger:     logger,
	}, nil
}

// Key joins the configured prefix and name.
func (u *Uploader) Key(name string) string {
	if u.prefix == "" {
		return name
	}
	return u.prefix + "/" + name
}

// Bucket returns the target bucket.
func (u *Uploader) Bucket() string {
	return u.bucket
}

// UploadFile uploads a file to S3; the manager switches to multipart for large files.
func (u *Uploader) UploadFile(ctx context.Context, path, key string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	u.logger.Info("Uploading file to S3",
		zap.String("file", path),
		zap.String("s3_key", key),
		zap.Int64("size", fileInfo.Size()))

	_, err = u.manager.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	u.logger.Info("File uploaded successfully",
		zap.String("s3_key", key),
		zap.Int64("size", fileInfo.Size()))
	return nil
}

// UploadFileWithRetry retries UploadFile with exponential backoff.
func (u *Uploader) UploadFileWithRetry(ctx context.Context, path, key string) error {
	var lastErr error
	delay := u.retryDelay

	for attempt := 1; attempt <= maxS3Retries; attempt++ {
		err := u.UploadFile(ctx, path, key)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < maxS3Retries {
			u.logger.Warn("Upload failed, retrying",
				zap.String("file", path),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxS3Retries),
				zap.Error(err))

			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}
	}

	return fmt.Errorf("upload failed after %d attempts: %w", maxS3Retries, lastErr)
}

func (u *Uploader) abortMultipartUpload(ctx context.Context, key string, uploadID *string) error {
	if uploadID == nil {
		return nil
	}

	// The caller's context may already be cancelled; the abort must still go out.
	ctx = context.WithoutCancel(ctx)
	_, err := u.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	if err != nil {
		u.logger.Error("Failed to abort multipart upload",
			zap.String("upload_id", *uploadID),
			zap.Error(err))
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	u.logger.Info("Aborted multipart upload",
		zap.String("upload_id", *uploadID))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const contentType = "text/plain; charset=utf-8"

// MultipartUploadStream uploads everything written to it as one S3 object.
// Data is cut into parts of the uploader's part size; the multipart upload is
// only created once the first full part is ready, so small objects go out
// with a single PutObject on Close.
type MultipartUploadStream struct {
	uploader   *Uploader
	ctx        context.Context
	key        string
	uploadID   *string
	parts      []types.CompletedPart
	partNumber int32
	buf        bytes.Buffer
	closed     bool
	err        error
	logger     *zap.Logger
}

// NewMultipartUploadStream returns a stream writing to key.
func (u *Uploader) NewMultipartUploadStream(ctx context.Context, key string) *MultipartUploadStream {
	return &MultipartUploadStream{
		uploader:   u,
		ctx:        ctx,
		key:        key,
		partNumber: 1,
		logger:     u.logger.With(zap.String("s3_key", key)),
	}
}

// Key returns the object key.
func (m *MultipartUploadStream) Key() string {
	return m.key
}

// Write buffers p and uploads every full part.
func (m *MultipartUploadStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("write to closed upload stream")
	}
	if m.err != nil {
		return 0, m.err
	}
	m.buf.Write(p)
	for int64(m.buf.Len()) >= m.uploader.partSize {
		if err := m.UploadPart(m.buf.Next(int(m.uploader.partSize))); err != nil {
			m.err = err
			return 0, err
		}
	}
	return len(p), nil
}

func (m *MultipartUploadStream) ensureUpload() error {
	if m.uploadID != nil {
		return nil
	}
	out, err := m.uploader.client.CreateMultipartUpload(m.ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(m.uploader.bucket),
		Key:         aws.String(m.key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	m.uploadID = out.UploadId
	m.logger.Info("Initiated multipart upload stream",
		zap.String("upload_id", aws.ToString(out.UploadId)))
	return nil
}

// UploadPart uploads data as the next part, retrying with linear backoff.
func (m *MultipartUploadStream) UploadPart(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := m.ensureUpload(); err != nil {
		return err
	}

	var partOutput *s3.UploadPartOutput
	var err error
	for attempt := 1; attempt <= maxS3Retries; attempt++ {
		partOutput, err = m.uploader.client.UploadPart(m.ctx, &s3.UploadPartInput{
			Bucket:     aws.String(m.uploader.bucket),
			Key:        aws.String(m.key),
			PartNumber: aws.Int32(m.partNumber),
			UploadId:   m.uploadID,
			Body:       bytes.NewReader(data),
		})
		if err == nil {
			break
		}
		if attempt < maxS3Retries {
			m.logger.Warn("Part upload failed, retrying",
				zap.Int32("part", m.partNumber),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if serr := sleep(m.ctx, m.uploader.retryDelay*time.Duration(attempt)); serr != nil {
				err = serr
				break
			}
		}
	}

	if err != nil {
		_ = m.uploader.abortMultipartUpload(m.ctx, m.key, m.uploadID)
		m.uploadID = nil
		return fmt.Errorf("failed to upload part %d: %w", m.partNumber, err)
	}

	m.parts = append(m.parts, types.CompletedPart{
		ETag:       partOutput.ETag,
		PartNumber: aws.Int32(m.partNumber),
	})

	m.logger.Info("Uploaded multipart part",
		zap.Int32("part", m.partNumber),
		zap.Int("size", len(data)))

	m.partNumber++
	return nil
}

// Close uploads the remaining bytes and completes the object.
// Closing twice returns nil.
func (m *MultipartUploadStream) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.err != nil {
		return m.err
	}

	if m.uploadID == nil {
		_, err := m.uploader.client.PutObject(m.ctx, &s3.PutObjectInput{
			Bucket:      aws.String(m.uploader.bucket),
			Key:         aws.String(m.key),
			Body:        bytes.NewReader(m.buf.Bytes()),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("failed to put object: %w", err)
		}
		m.logger.Info("Uploaded object", zap.Int("size", m.buf.Len()))
		m.buf.Reset()
		return nil
	}

	if err := m.UploadPart(m.buf.Bytes()); err != nil {
		return err
	}
	m.buf.Reset()
	return m.complete()
}

func (m *MultipartUploadStream) complete() error {
	_, err := m.uploader.client.CompleteMultipartUpload(m.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(m.uploader.bucket),
		Key:      aws.String(m.key),
		UploadId: m.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: m.parts,
		},
	})
	if err != nil {
		_ = m.uploader.abortMultipartUpload(m.ctx, m.key, m.uploadID)
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	m.logger.Info("Completed multipart upload",
		zap.Int32("parts", m.partNumber-1))
	return nil
}

// Abort discards buffered data and cancels the multipart upload, if any.
func (m *MultipartUploadStream) Abort() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.buf.Reset()
	return m.uploader.abortMultipartUpload(m.ctx, m.key, m.uploadID)
}
