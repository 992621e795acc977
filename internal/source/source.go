// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package source reads records for export from Singer taps, JSON lines
// files and MySQL tables.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/netSkope/ldif-export-tool/internal/record"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 64 * 1024 * 1024

var json = jsoniter.ConfigFastest

// Message is one record tagged with the stream it belongs to.
type Message struct {
	Stream string
	Record *record.Record
}

// Reader yields messages until io.EOF.
type Reader interface {
	Next(ctx context.Context) (Message, error)
}

// LineError reports malformed input at a 1-based line number.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type lineScanner struct {
	scanner *bufio.Scanner
	line    int
}

func newLineScanner(r io.Reader) *lineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &lineScanner{scanner: s}
}

// next returns the next non-blank line, or io.EOF.
func (l *lineScanner) next() ([]byte, error) {
	for l.scanner.Scan() {
		l.line++
		b := l.scanner.Bytes()
		if len(trimSpace(b)) == 0 {
			continue
		}
		return b, nil
	}
	if err := l.scanner.Err(); err != nil {
		return nil, &LineError{Line: l.line + 1, Err: err}
	}
	return nil, io.EOF
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\r') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// DecodeRecord decodes a JSON object into a Record, keeping field order.
// Numbers are kept as json.Number; nested objects are kept as maps.
func DecodeRecord(data []byte) (*record.Record, error) {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, errors.New("record is not a JSON object")
	}
	rec := record.New(8)
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		rec.Set(key, readValue(it))
		return it.Error == nil
	})
	if iter.Error == io.EOF {
		return nil, errors.New("decode record: unexpected end of input")
	}
	if iter.Error != nil {
		return nil, fmt.Errorf("decode record: %w", iter.Error)
	}
	// Only white space may follow the object; at the end WhatIsNext sets io.EOF.
	if iter.WhatIsNext() != jsoniter.InvalidValue || iter.Error != io.EOF {
		return nil, errors.New("decode record: unexpected data after object")
	}
	return rec, nil
}

func readValue(it *jsoniter.Iterator) any {
	switch it.WhatIsNext() {
	case jsoniter.StringValue:
		return it.ReadString()
	case jsoniter.NumberValue:
		return it.ReadNumber()
	case jsoniter.BoolValue:
		return it.ReadBool()
	case jsoniter.NilValue:
		it.ReadNil()
		return nil
	case jsoniter.ArrayValue:
		values := []any{}
		it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			values = append(values, readValue(it))
			return it.Error == nil
		})
		return values
	default:
		return it.Read()
	}
}
