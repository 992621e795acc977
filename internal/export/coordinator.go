// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package export drives records through mapping, DN resolution and entry
// building into an LDIF writer.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/netSkope/ldif-export-tool/internal/dn"
	"github.com/netSkope/ldif-export-tool/internal/ldif"
	"github.com/netSkope/ldif-export-tool/internal/mapping"
	"github.com/netSkope/ldif-export-tool/internal/record"
	"github.com/netSkope/ldif-export-tool/internal/transform"
)

// Config is the resolved, read-only configuration of one run.
type Config struct {
	Stream     string
	Template   *dn.Template
	Mapping    mapping.Mapping
	Transforms *transform.Set
	Builder    *ldif.Builder
	Writer     ldif.WriterOptions
}

// Summary reports what a run produced.
type Summary struct {
	EntriesWritten int64
	EntriesFailed  int64
	BytesWritten   int64
}

// Coordinator runs one export from a Source to a sink.
type Coordinator struct {
	cfg      Config
	sink     io.Writer
	observer Observer
	logger   *zap.Logger
}

// NewCoordinator validates cfg and returns a Coordinator writing to sink.
// A nil observer is replaced by NopObserver.
func NewCoordinator(cfg Config, sink io.Writer, observer Observer, logger *zap.Logger) (*Coordinator, error) {
	if cfg.Template == nil {
		return nil, errors.New("export config: missing DN template")
	}
	if cfg.Builder == nil {
		return nil, errors.New("export config: missing entry builder")
	}
	if sink == nil {
		return nil, errors.New("export config: missing sink")
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		sink:     sink,
		observer: observer,
		logger:   logger.With(zap.String("stream", cfg.Stream)),
	}, nil
}

// Run pulls records from src until it is exhausted, ctx is cancelled or a
// fatal error occurs.
//
// Per-record failures are counted and reported to the observer. Source and
// writer failures abort the sink and return a *FatalError with a zero
// Summary. Cancellation closes the writer and returns the Summary so far
// with an error wrapping ErrCancelled.
func (c *Coordinator) Run(ctx context.Context, src Source) (sum Summary, err error) {
	defer func() {
		c.observer.Finished(c.cfg.Stream, sum, err)
	}()

	w := ldif.NewWriter(c.cfg.Writer)
	if err := w.Open(c.sink); err != nil {
		return Summary{}, c.fatal(WriterFailure, -1, err)
	}

	var index int64
	for ; ; index++ {
		if ctx.Err() != nil {
			return c.cancelled(ctx, w, sum)
		}

		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return c.cancelled(ctx, w, sum)
			}
			return Summary{}, c.abort(w, c.fatal(SourceFailure, index, err))
		}

		entry, err := c.buildEntry(rec)
		if err != nil {
			sum.EntriesFailed++
			c.observer.RecordFailed(c.cfg.Stream, index, err)
			continue
		}

		if err := w.WriteEntry(entry); err != nil {
			return Summary{}, c.abort(w, c.fatal(WriterFailure, index, err))
		}
		sum.EntriesWritten++
		c.observer.EntryWritten(c.cfg.Stream, index, entry.DN())
	}

	stats, err := w.Close()
	if err != nil {
		return Summary{}, c.fatal(WriterFailure, -1, err)
	}
	sum.BytesWritten = stats.Bytes
	return sum, nil
}

func (c *Coordinator) buildEntry(rec *record.Record) (*ldif.Entry, error) {
	if rec == nil {
		return nil, &ldif.EncodingError{Err: errors.New("nil record")}
	}
	pairs := mapping.Map(rec, c.cfg.Mapping)
	if ce := c.logger.Check(zap.DebugLevel, "Excluding unmapped fields"); ce != nil {
		if unmapped := mapping.Unmapped(rec, c.cfg.Mapping); len(unmapped) > 0 {
			ce.Write(zap.Strings("fields", unmapped))
		}
	}
	pairs = c.cfg.Transforms.Apply(pairs)

	dnValue, err := c.cfg.Template.Resolve(rec)
	if err != nil {
		return nil, err
	}
	return c.cfg.Builder.Build(dnValue, pairs)
}

func (c *Coordinator) fatal(kind FatalKind, index int64, err error) *FatalError {
	return &FatalError{Kind: kind, Stream: c.cfg.Stream, RecordIndex: index, Err: err}
}

// abort discards buffered output and reports cleanup failures alongside ferr.
func (c *Coordinator) abort(w *ldif.Writer, ferr *FatalError) error {
	if err := w.Abort(); err != nil {
		c.logger.Warn("Failed to abort sink", zap.Error(err))
		return multierr.Append(ferr, err)
	}
	return ferr
}

func (c *Coordinator) cancelled(ctx context.Context, w *ldif.Writer, sum Summary) (Summary, error) {
	cause := fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	stats, err := w.Close()
	sum.BytesWritten = stats.Bytes
	if err != nil {
		c.logger.Warn("Failed to close writer after cancellation", zap.Error(err))
		return sum, multierr.Append(cause, err)
	}
	return sum, cause
}
