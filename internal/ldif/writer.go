// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package ldif

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

const (
	// DefaultFlushCount is the number of buffered entries that triggers a flush.
	DefaultFlushCount = 500
	// DefaultFlushBytes is the buffer size that triggers a flush.
	DefaultFlushBytes = 1 << 20
	// DefaultHeaderComment is written after the timestamp when enabled.
	DefaultHeaderComment = "target-ldif - LDIF export for directory bulk loading"
)

// WriterOptions controls framing and flush behaviour of a Writer.
type WriterOptions struct {
	LineLength            int
	IncludeVersion        bool
	IncludeTimestamp      bool
	IncludeHeaderComment  bool
	IncludeTrailerComment bool
	HeaderComment         string
	FlushCount            int
	FlushBytes            int
	Now                   func() time.Time
}

// DefaultWriterOptions returns the options used by the CLI when nothing is configured.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		LineLength:            DefaultLineLength,
		IncludeVersion:        true,
		IncludeTimestamp:      true,
		IncludeHeaderComment:  true,
		IncludeTrailerComment: true,
		HeaderComment:         DefaultHeaderComment,
		FlushCount:            DefaultFlushCount,
		FlushBytes:            DefaultFlushBytes,
		Now:                   time.Now,
	}
}

// Stats describes what a Writer has emitted.
type Stats struct {
	Entries int64
	Bytes   int64
}

type writerState int

const (
	stateUnopened writerState = iota
	stateOpen
	stateClosed
)

func (s writerState) String() string {
	switch s {
	case stateUnopened:
		return "unopened"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Aborter is implemented by sinks that can discard partially written output.
type Aborter interface {
	Abort() error
}

// Writer frames entries as an LDIF stream on a sink.
//
// A Writer moves from unopened to open to closed. Entries are buffered whole
// and flushed after FlushCount entries or FlushBytes bytes. A Writer is not
// safe for concurrent use.
type Writer struct {
	opts     WriterOptions
	sink     io.Writer
	state    writerState
	buf      []byte
	scratch  []byte
	pending  int
	stats    Stats
	failed   error
	closeErr error
}

// NewWriter returns an unopened Writer. Zero flush thresholds and line
// length fall back to the defaults.
func NewWriter(opts WriterOptions) *Writer {
	opts.LineLength = NormalizeLineLength(opts.LineLength)
	if opts.FlushCount <= 0 {
		opts.FlushCount = DefaultFlushCount
	}
	if opts.FlushBytes <= 0 {
		opts.FlushBytes = DefaultFlushBytes
	}
	if opts.HeaderComment == "" {
		opts.HeaderComment = DefaultHeaderComment
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Writer{opts: opts}
}

// Open attaches the sink and buffers the header block.
func (w *Writer) Open(sink io.Writer) error {
	if w.state != stateUnopened {
		return &WriterStateError{Op: "open", State: w.state.String()}
	}
	if sink == nil {
		return errors.New("ldif writer: nil sink")
	}
	w.sink = sink
	w.state = stateOpen

	if w.opts.IncludeVersion {
		w.buf = append(w.buf, "version: 1\n"...)
	}
	if w.opts.IncludeTimestamp {
		ts := w.opts.Now().UTC().Format(time.RFC3339)
		w.buf = appendFolded(w.buf, "# Generated on: "+ts, w.opts.LineLength)
	}
	if w.opts.IncludeHeaderComment {
		w.buf = appendFolded(w.buf, "# "+w.opts.HeaderComment, w.opts.LineLength)
	}
	return nil
}

// WriteEntry buffers one entry and flushes when a threshold is reached.
func (w *Writer) WriteEntry(e *Entry) error {
	if w.state != stateOpen {
		return &WriterStateError{Op: "write", State: w.state.String()}
	}
	if w.failed != nil {
		return w.failed
	}
	if e == nil {
		return errors.New("ldif writer: nil entry")
	}

	w.scratch = w.scratch[:0]
	if w.stats.Entries > 0 {
		w.scratch = append(w.scratch, '\n')
	}
	w.scratch = e.AppendTo(w.scratch, w.opts.LineLength)

	w.buf = append(w.buf, w.scratch...)
	w.pending++
	w.stats.Entries++

	if w.pending >= w.opts.FlushCount || len(w.buf) >= w.opts.FlushBytes {
		return w.flush()
	}
	return nil
}

// Flush writes the buffered bytes to the sink.
func (w *Writer) Flush() error {
	if w.state != stateOpen {
		return &WriterStateError{Op: "flush", State: w.state.String()}
	}
	if w.failed != nil {
		return w.failed
	}
	return w.flush()
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	n, err := w.sink.Write(w.buf)
	w.stats.Bytes += int64(n)
	if err == nil && n < len(w.buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.failed = &SinkIoError{Op: "write", Err: err}
		return w.failed
	}
	w.buf = w.buf[:0]
	w.pending = 0
	return nil
}

// Close flushes the buffer, writes the trailer and closes the sink when it
// is an io.Closer. Closing again returns the same result.
func (w *Writer) Close() (Stats, error) {
	switch w.state {
	case stateClosed:
		return w.stats, w.closeErr
	case stateUnopened:
		return Stats{}, &WriterStateError{Op: "close", State: w.state.String()}
	}

	if w.failed != nil {
		w.closeErr = multierr.Append(w.failed, w.abortSink())
		w.state = stateClosed
		return w.stats, w.closeErr
	}

	if w.opts.IncludeTrailerComment {
		if w.stats.Entries > 0 {
			w.buf = append(w.buf, '\n')
		}
		w.buf = append(w.buf, "# Total records written: "...)
		w.buf = strconv.AppendInt(w.buf, w.stats.Entries, 10)
		w.buf = append(w.buf, '\n')
	}

	if err := w.flush(); err != nil {
		w.closeErr = multierr.Append(err, w.abortSink())
		w.state = stateClosed
		return w.stats, w.closeErr
	}

	if c, ok := w.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			w.closeErr = &SinkIoError{Op: "close", Err: err}
		}
	}
	w.state = stateClosed
	w.buf = nil
	w.scratch = nil
	return w.stats, w.closeErr
}

// Abort closes the writer without flushing. Sinks implementing Aborter are
// aborted, other io.Closer sinks are closed.
func (w *Writer) Abort() error {
	if w.state != stateOpen {
		return nil
	}
	w.state = stateClosed
	w.buf = nil
	if w.failed != nil {
		w.closeErr = w.failed
	} else {
		w.closeErr = errors.New("ldif writer aborted")
	}
	return w.abortSink()
}

func (w *Writer) abortSink() error {
	if a, ok := w.sink.(Aborter); ok {
		if err := a.Abort(); err != nil {
			return &SinkIoError{Op: "abort", Err: err}
		}
		return nil
	}
	if c, ok := w.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return &SinkIoError{Op: "close", Err: err}
		}
	}
	return nil
}

// Stats returns the counters so far.
func (w *Writer) Stats() Stats {
	return w.stats
}

// String implements fmt.Stringer for log fields.
func (w *Writer) String() string {
	return fmt.Sprintf("ldif.Writer{state=%s entries=%d bytes=%d}", w.state, w.stats.Entries, w.stats.Bytes)
}
