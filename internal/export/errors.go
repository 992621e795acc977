// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package export

import (
	"errors"
	"fmt"

	"github.com/netSkope/ldif-export-tool/internal/dn"
	"github.com/netSkope/ldif-export-tool/internal/ldif"
)

// ErrCancelled is returned, wrapped, when the run's context is cancelled.
// The Summary returned alongside it is valid.
var ErrCancelled = errors.New("export cancelled")

// FatalKind classifies errors that end a run.
type FatalKind int

const (
	// SourceFailure means the record source could not be read.
	SourceFailure FatalKind = iota + 1
	// WriterFailure covers sink I/O and writer state errors.
	WriterFailure
)

func (k FatalKind) String() string {
	switch k {
	case SourceFailure:
		return "source_failure"
	case WriterFailure:
		return "writer_failure"
	default:
		return fmt.Sprintf("fatal_kind(%d)", int(k))
	}
}

// FatalError ends a run. RecordIndex is the zero-based position of the
// record being handled, or -1 when the failure is not tied to a record.
type FatalError struct {
	Kind        FatalKind
	Stream      string
	RecordIndex int64
	Err         error
}

func (e *FatalError) Error() string {
	if e.RecordIndex < 0 {
		return fmt.Sprintf("export %s (stream %q): %v", e.Kind, e.Stream, e.Err)
	}
	return fmt.Sprintf("export %s (stream %q, record %d): %v", e.Kind, e.Stream, e.RecordIndex, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsRecordError reports whether err only affects a single record.
func IsRecordError(err error) bool {
	var (
		te *dn.TemplateError
		ee *ldif.EmptyEntryError
		ne *ldif.EncodingError
	)
	return errors.As(err, &te) || errors.As(err, &ee) || errors.As(err, &ne)
}

// RecordErrorKind returns a short label for a per-record error, used in
// logs and metric labels.
func RecordErrorKind(err error) string {
	var (
		te *dn.TemplateError
		ee *ldif.EmptyEntryError
		ne *ldif.EncodingError
	)
	switch {
	case errors.As(err, &te):
		return te.Kind.String()
	case errors.As(err, &ee):
		return "empty_entry"
	case errors.As(err, &ne):
		if errors.Is(err, ldif.ErrValueTooLarge) {
			return "value_too_large"
		}
		return "encoding"
	default:
		return "other"
	}
}
