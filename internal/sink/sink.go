// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package sink creates the per-stream outputs LDIF is written to.
package sink

import (
	"context"
	"io"
	"strings"
	"time"
	"unicode"
)

const (
	// DefaultNamingPattern names output objects when none is configured.
	DefaultNamingPattern = "{stream_name}_{timestamp}.ldif"
	// TimestampLayout renders {timestamp} in names.
	TimestampLayout = "20060102T150405Z"
)

// Sink is one stream's output. Close commits it, Abort discards what it can.
type Sink interface {
	io.WriteCloser
	Abort() error
}

// Factory creates a sink for a stream. The returned location is a path or
// URL for logs and summaries.
type Factory interface {
	Create(ctx context.Context, stream string) (s Sink, location string, err error)
}

// SafeName keeps letters, digits, '-' and '_' of a stream name; an empty
// result becomes "stream".
func SafeName(stream string) string {
	var b strings.Builder
	for _, r := range stream {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "stream"
	}
	return b.String()
}

// RenderName expands {stream_name} and {timestamp} in pattern.
func RenderName(pattern, stream string, now time.Time) string {
	if pattern == "" {
		pattern = DefaultNamingPattern
	}
	return strings.NewReplacer(
		"{stream_name}", SafeName(stream),
		"{timestamp}", now.UTC().Format(TimestampLayout),
	).Replace(pattern)
}
