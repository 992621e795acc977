// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package source

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Singer message types.
const (
	TypeRecord          = "RECORD"
	TypeSchema          = "SCHEMA"
	TypeState           = "STATE"
	TypeActivateVersion = "ACTIVATE_VERSION"
)

type singerMessage struct {
	Type          string              `json:"type"`
	Stream        string              `json:"stream"`
	Record        jsoniter.RawMessage `json:"record"`
	Schema        jsoniter.RawMessage `json:"schema"`
	KeyProperties []string            `json:"key_properties"`
	Value         jsoniter.RawMessage `json:"value"`
}

// Schema is what a SCHEMA message announced for a stream.
type Schema struct {
	Stream        string
	KeyProperties []string
	Properties    []string
}

// SingerReader decodes a Singer tap's output.
type SingerReader struct {
	lines   *lineScanner
	logger  *zap.Logger
	schemas map[string]Schema
	order   []string
	state   []byte
}

// NewSingerReader reads Singer messages from r.
func NewSingerReader(r io.Reader, logger *zap.Logger) *SingerReader {
	return &SingerReader{
		lines:   newLineScanner(r),
		logger:  logger,
		schemas: make(map[string]Schema),
	}
}

// Next returns the next RECORD. SCHEMA and STATE messages are consumed on the way.
func (s *SingerReader) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		line, err := s.lines.next()
		if err != nil {
			return Message{}, err
		}

		var msg singerMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, &LineError{Line: s.lines.line, Err: fmt.Errorf("invalid Singer message: %w", err)}
		}

		switch msg.Type {
		case TypeRecord:
			if msg.Stream == "" {
				return Message{}, &LineError{Line: s.lines.line, Err: fmt.Errorf("RECORD without stream")}
			}
			rec, err := DecodeRecord(msg.Record)
			if err != nil {
				return Message{}, &LineError{Line: s.lines.line, Err: err}
			}
			if _, ok := s.schemas[msg.Stream]; !ok {
				s.logger.Warn("RECORD before SCHEMA", zap.String("stream", msg.Stream), zap.Int("line", s.lines.line))
				s.register(Schema{Stream: msg.Stream})
			}
			return Message{Stream: msg.Stream, Record: rec}, nil

		case TypeSchema:
			schema := Schema{Stream: msg.Stream, KeyProperties: msg.KeyProperties}
			if len(msg.Schema) > 0 {
				schema.Properties = schemaProperties(msg.Schema)
			}
			s.register(schema)
			s.logger.Info("Registered stream schema",
				zap.String("stream", msg.Stream),
				zap.Strings("key_properties", msg.KeyProperties),
				zap.Int("properties", len(schema.Properties)))

		case TypeState:
			s.state = append(s.state[:0], msg.Value...)

		case TypeActivateVersion:
			// Versioned full-table syncs do not change how entries are written.

		default:
			s.logger.Warn("Ignoring unknown Singer message", zap.String("type", msg.Type), zap.Int("line", s.lines.line))
		}
	}
}

func (s *SingerReader) register(schema Schema) {
	if _, ok := s.schemas[schema.Stream]; !ok {
		s.order = append(s.order, schema.Stream)
	}
	s.schemas[schema.Stream] = schema
}

// Schemas returns the streams announced so far, in announcement order.
func (s *SingerReader) Schemas() []Schema {
	out := make([]Schema, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.schemas[name])
	}
	return out
}

// State returns the value of the last STATE message, or nil.
func (s *SingerReader) State() []byte {
	if s.state == nil {
		return nil
	}
	return append([]byte(nil), s.state...)
}

// schemaProperties lists the property names of a JSON schema in document order.
func schemaProperties(raw []byte) []string {
	iter := json.BorrowIterator(raw)
	defer json.ReturnIterator(iter)

	var props []string
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		if key != "properties" {
			it.Skip()
			return it.Error == nil
		}
		it.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
			props = append(props, name)
			it.Skip()
			return it.Error == nil
		})
		return it.Error == nil
	})
	return props
}

// JSONLReader reads one JSON object per line into a single stream.
type JSONLReader struct {
	lines  *lineScanner
	stream string
}

// NewJSONLReader reads records for stream from r.
func NewJSONLReader(r io.Reader, stream string) *JSONLReader {
	return &JSONLReader{lines: newLineScanner(r), stream: stream}
}

func (j *JSONLReader) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	line, err := j.lines.next()
	if err != nil {
		return Message{}, err
	}
	rec, err := DecodeRecord(line)
	if err != nil {
		return Message{}, &LineError{Line: j.lines.line, Err: err}
	}
	return Message{Stream: j.stream, Record: rec}, nil
}
