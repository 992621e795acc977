// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/netSkope/ldif-export-tool/internal/config"
	"github.com/netSkope/ldif-export-tool/internal/s3"
	"github.com/netSkope/ldif-export-tool/internal/sink"
	"github.com/netSkope/ldif-export-tool/internal/source"
	"github.com/netSkope/ldif-export-tool/internal/store"
	"github.com/netSkope/ldif-export-tool/internal/util"
)

const defaultJSONLStream = "records"

// openSource returns the configured reader and a cleanup func.
func openSource(ctx context.Context, cfg *config.Config, stdin io.Reader, logger *zap.Logger) (source.Reader, func(), error) {
	noop := func() {}

	switch cfg.Source.Type {
	case "singer", "jsonl":
		in, closeIn, err := openInput(cfg.Source.Path, stdin)
		if err != nil {
			return nil, noop, err
		}
		if cfg.Source.Type == "jsonl" {
			stream := cfg.Source.StreamName
			if stream == "" {
				stream = defaultJSONLStream
			}
			return source.NewJSONLReader(in, stream), closeIn, nil
		}
		return source.NewSingerReader(in, logger), closeIn, nil

	case "mysql":
		my := cfg.Source.MySQL
		region := my.Region
		if region == "" {
			region = cfg.Output.S3.Region
		}
		password, err := util.ResolveDBPassword(ctx, util.PasswordSource{
			Password:     my.Password,
			PasswordFile: my.PasswordFile,
			SecretName:   my.SecretName,
			Region:       region,
		}, nil)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to resolve database password: %w", err)
		}

		client, err := store.NewSQLClient(ctx, store.Options{
			Host:     my.Host,
			User:     my.User,
			Password: password,
			Database: my.Database,
			Flavor:   my.Flavor,
			Timeout:  my.Timeout,
			TLS:      my.TLS,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to %s: %w", my.Host, err)
		}
		closeDB := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}

		stream := cfg.Source.StreamName
		if stream == "" {
			stream = my.Table
		}
		reader, err := source.NewTableReader(client.GetDB(), source.TableOptions{
			Stream:    stream,
			Table:     my.Table,
			KeyColumn: my.KeyColumn,
			Columns:   my.Columns,
			BatchSize: my.BatchSize,
		}, logger)
		if err != nil {
			closeDB()
			return nil, noop, err
		}
		if n, err := reader.CountRows(ctx); err != nil {
			logger.Warn("Failed to count rows", zap.String("table", my.Table), zap.Error(err))
		} else {
			logger.Info("Reading table", zap.String("server", client.Name()), zap.String("table", my.Table), zap.Int64("rows", n))
		}
		return reader, closeDB, nil

	default:
		return nil, noop, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// newSinkFactory builds the configured output.
func newSinkFactory(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *zap.Logger) (sink.Factory, error) {
	out := cfg.Output
	switch out.Type {
	case "file":
		return &sink.File{Dir: out.Path, Pattern: out.FileNamingPattern, Logger: logger}, nil

	case "stdout":
		return sink.NewStdout(stdout, ""), nil

	case "s3":
		uploader, err := s3.NewUploader(ctx, s3.Options{
			Bucket:          out.S3.Bucket,
			Prefix:          out.S3.Prefix,
			Region:          out.S3.Region,
			Endpoint:        out.S3.Endpoint,
			AccessKeyID:     out.S3.AccessKeyID,
			SecretAccessKey: out.S3.SecretAccessKey,
			SessionToken:    out.S3.SessionToken,
			PartSize:        int64(out.S3.PartSizeMB) * 1024 * 1024,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 uploader: %w", err)
		}
		adapter := sink.NewS3UploaderAdapter(uploader)
		if out.S3.Mode == sink.S3ModeUpload {
			return sink.S3Upload{Uploader: adapter, Pattern: out.FileNamingPattern, Logger: logger}, nil
		}
		return sink.S3Stream{Uploader: adapter, Pattern: out.FileNamingPattern}, nil

	default:
		return nil, fmt.Errorf("unknown output type %q", out.Type)
	}
}
