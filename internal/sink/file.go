// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// File writes each stream to a file under Dir named by Pattern. Streams whose
// names render to the same path get a numeric suffix before the extension.
type File struct {
	Dir     string
	Pattern string
	Now     func() time.Time
	Logger  *zap.Logger

	mu     sync.Mutex
	issued map[string]bool
}

func (f *File) Create(_ context.Context, stream string) (Sink, string, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create output directory: %w", err)
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	path := f.claim(filepath.Join(f.Dir, RenderName(f.Pattern, stream, now())))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create output file: %w", err)
	}
	if f.Logger != nil {
		f.Logger.Info("Created output file", zap.String("stream", stream), zap.String("path", path))
	}
	return &fileSink{File: file}, path, nil
}

// claim reserves path for one stream, suffixing it when already handed out.
func (f *File) claim(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issued == nil {
		f.issued = make(map[string]bool)
	}
	candidate := path
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 2; f.issued[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
	f.issued[candidate] = true
	return candidate
}

type fileSink struct {
	*os.File
	done bool
}

func (s *fileSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return multierr.Append(s.File.Sync(), s.File.Close())
}

// Abort closes and removes the partial file.
func (s *fileSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.File.Close()
	if rerr := os.Remove(s.File.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = multierr.Append(err, rerr)
	}
	return err
}
