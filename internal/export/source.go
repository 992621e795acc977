// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package export

import (
	"context"
	"io"

	"github.com/netSkope/ldif-export-tool/internal/record"
)

// Source yields records one at a time. Next returns io.EOF when the input
// is exhausted and may block until a record is available or ctx is done.
type Source interface {
	Next(ctx context.Context) (*record.Record, error)
}

// SliceSource serves records from memory.
type SliceSource struct {
	records []*record.Record
	pos     int
}

// NewSliceSource returns a Source over recs.
func NewSliceSource(recs ...*record.Record) *SliceSource {
	return &SliceSource{records: recs}
}

func (s *SliceSource) Next(ctx context.Context) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

// ChanSource reads records from a channel until it is closed.
type ChanSource struct {
	ch <-chan *record.Record
}

// NewChanSource returns a Source draining ch.
func NewChanSource(ch <-chan *record.Record) *ChanSource {
	return &ChanSource{ch: ch}
}

func (s *ChanSource) Next(ctx context.Context) (*record.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return r, nil
	}
}
