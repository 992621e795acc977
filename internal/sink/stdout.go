// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"
)

// Stdout shares one writer, normally os.Stdout, between streams without
// interleaving them. The first stream to open writes through; later streams
// spool to a temporary file that is copied out when they close.
type Stdout struct {
	W       io.Writer
	TempDir string

	mu sync.Mutex
}

// NewStdout returns a Stdout factory over w.
func NewStdout(w io.Writer, tempDir string) *Stdout {
	return &Stdout{W: w, TempDir: tempDir}
}

func (s *Stdout) Create(_ context.Context, stream string) (Sink, string, error) {
	if s.W == nil {
		return nil, "", fmt.Errorf("stdout sink: nil writer")
	}
	if s.mu.TryLock() {
		return &directSink{w: s.W, release: s.mu.Unlock}, "stdout", nil
	}
	tmp, err := os.CreateTemp(s.TempDir, SafeName(stream)+"-*.ldif")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create spool file: %w", err)
	}
	return &stdoutSpool{File: tmp, out: s}, "stdout", nil
}

// directSink holds the writer until it is closed or aborted.
type directSink struct {
	w       io.Writer
	once    sync.Once
	release func()
}

func (d *directSink) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

func (d *directSink) Close() error {
	d.once.Do(d.release)
	return nil
}

// Abort cannot take back bytes already written; it only releases the writer.
func (d *directSink) Abort() error {
	d.once.Do(d.release)
	return nil
}

type stdoutSpool struct {
	*os.File
	out  *Stdout
	done bool
}

func (s *stdoutSpool) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	defer os.Remove(s.File.Name())

	if _, err := s.File.Seek(0, io.SeekStart); err != nil {
		return multierr.Append(fmt.Errorf("failed to rewind spool file: %w", err), s.File.Close())
	}

	s.out.mu.Lock()
	_, err := io.Copy(s.out.W, s.File)
	s.out.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("failed to copy spool file to stdout: %w", err)
	}
	return multierr.Append(err, s.File.Close())
}

func (s *stdoutSpool) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.File.Close()
	if rerr := os.Remove(s.File.Name()); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, rerr)
	}
	return err
}
