// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package target fans a multi-stream source out to one export per stream.
package target

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/netSkope/ldif-export-tool/internal/export"
	"github.com/netSkope/ldif-export-tool/internal/record"
	"github.com/netSkope/ldif-export-tool/internal/sink"
	"github.com/netSkope/ldif-export-tool/internal/source"
)

// DefaultStreamBuffer is the per-stream channel capacity.
const DefaultStreamBuffer = 256

// Options configures a Target.
type Options struct {
	Planner      Planner
	Sinks        sink.Factory
	Observer     export.Observer
	StreamBuffer int
	// StateOut receives the last Singer STATE message after a successful run.
	StateOut io.Writer
	Logger   *zap.Logger
}

// Result is the outcome of one stream.
type Result struct {
	Stream   string
	Location string
	Summary  export.Summary
	Err      error
}

// Target runs one export.Coordinator per stream.
type Target struct {
	opts   Options
	logger *zap.Logger
}

// stater is implemented by readers that keep Singer state.
type stater interface {
	State() []byte
}

// New returns a Target. Planner and Sinks are required.
func New(opts Options) (*Target, error) {
	if opts.Planner == nil {
		return nil, errors.New("target: missing planner")
	}
	if opts.Sinks == nil {
		return nil, errors.New("target: missing sink factory")
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = DefaultStreamBuffer
	}
	if opts.Observer == nil {
		opts.Observer = export.NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Target{opts: opts, logger: logger}, nil
}

// Run reads r to the end, starting a stream export the first time a stream
// name is seen. Records reach each export through a bounded channel, so a
// slow sink holds back the reader.
//
// A fatal error in any stream, or in the reader, cancels the rest; they
// report ErrCancelled in their Result. Results are in first-seen order.
func (t *Target) Run(ctx context.Context, r source.Reader) ([]Result, error) {
	logger := t.logger.With(zap.String("run_id", uuid.NewString()))
	logger.Info("Starting LDIF export", zap.Int("stream_buffer", t.opts.StreamBuffer))

	g, gctx := errgroup.WithContext(ctx)

	// Only the reader goroutine appends; Wait orders it before the reads below.
	var results []*Result

	g.Go(func() error {
		streams := make(map[string]chan *record.Record)
		defer func() {
			for _, ch := range streams {
				close(ch)
			}
		}()

		for {
			msg, err := r.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return &export.FatalError{Kind: export.SourceFailure, RecordIndex: -1, Err: err}
			}

			ch, ok := streams[msg.Stream]
			if !ok {
				ch = make(chan *record.Record, t.opts.StreamBuffer)
				streams[msg.Stream] = ch
				res := &Result{Stream: msg.Stream}
				results = append(results, res)
				g.Go(func() error {
					return t.runStream(gctx, logger, res, ch)
				})
			}

			select {
			case ch <- msg.Record:
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", export.ErrCancelled, context.Cause(ctx))
	}

	out := make([]Result, len(results))
	for i, res := range results {
		out[i] = *res
	}

	if err != nil {
		logger.Error("LDIF export failed", zap.Int("streams", len(out)), zap.Error(err))
		return out, err
	}

	if err := t.writeState(r); err != nil {
		logger.Warn("Failed to emit Singer state", zap.Error(err))
	}
	total := Totals(out)
	logger.Info("LDIF export completed",
		zap.Int("streams", len(out)),
		zap.Int64("entries_written", total.EntriesWritten),
		zap.Int64("entries_failed", total.EntriesFailed),
		zap.Int64("bytes_written", total.BytesWritten))
	return out, nil
}

func (t *Target) runStream(ctx context.Context, logger *zap.Logger, res *Result, ch <-chan *record.Record) error {
	logger = logger.With(zap.String("stream", res.Stream))

	cfg, err := t.opts.Planner(res.Stream)
	if err != nil {
		res.Err = &export.FatalError{Kind: export.WriterFailure, Stream: res.Stream, RecordIndex: -1, Err: err}
		return res.Err
	}

	s, location, err := t.opts.Sinks.Create(ctx, res.Stream)
	if err != nil {
		res.Err = &export.FatalError{Kind: export.WriterFailure, Stream: res.Stream, RecordIndex: -1, Err: err}
		return res.Err
	}
	res.Location = location
	logger.Info("Stream started", zap.String("location", location))

	coord, err := export.NewCoordinator(cfg, s, t.opts.Observer, logger)
	if err != nil {
		if aerr := s.Abort(); aerr != nil {
			logger.Warn("Failed to abort sink", zap.Error(aerr))
		}
		res.Err = err
		return err
	}

	res.Summary, res.Err = coord.Run(ctx, export.NewChanSource(ch))
	if errors.Is(res.Err, export.ErrCancelled) {
		// The error that cancelled the group is reported by its own stream.
		return nil
	}
	return res.Err
}

func (t *Target) writeState(r source.Reader) error {
	if t.opts.StateOut == nil {
		return nil
	}
	st, ok := r.(stater)
	if !ok {
		return nil
	}
	state := st.State()
	if len(state) == 0 {
		return nil
	}
	_, err := t.opts.StateOut.Write(append(append([]byte(nil), state...), '\n'))
	return err
}

// Totals sums the summaries of all results.
func Totals(results []Result) export.Summary {
	var total export.Summary
	for _, r := range results {
		total = add(total, r.Summary)
	}
	return total
}

func add(a, b export.Summary) export.Summary {
	return export.Summary{
		EntriesWritten: a.EntriesWritten + b.EntriesWritten,
		EntriesFailed:  a.EntriesFailed + b.EntriesFailed,
		BytesWritten:   a.BytesWritten + b.BytesWritten,
	}
}
