// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package ldif

import (
	"errors"
	"fmt"
)

// ErrValueTooLarge is wrapped by EncodingError when a value exceeds the configured cap.
var ErrValueTooLarge = errors.New("value exceeds size limit")

// EncodingError reports a value that cannot be written to LDIF.
type EncodingError struct {
	Attribute string
	Err       error
}

func (e *EncodingError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("ldif encoding: %v", e.Err)
	}
	return fmt.Sprintf("ldif encoding of %q: %v", e.Attribute, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// EmptyEntryError is returned when no attribute survived mapping for a DN.
type EmptyEntryError struct {
	DN string
}

func (e *EmptyEntryError) Error() string {
	return fmt.Sprintf("ldif entry %q has no attributes", e.DN)
}

// WriterStateError reports a Writer call made in the wrong state.
type WriterStateError struct {
	Op    string
	State string
}

func (e *WriterStateError) Error() string {
	return fmt.Sprintf("ldif writer: invalid state for %s: writer is %s", e.Op, e.State)
}

// SinkIoError wraps a failure of the underlying output.
type SinkIoError struct {
	Op  string
	Err error
}

func (e *SinkIoError) Error() string {
	return fmt.Sprintf("ldif sink %s: %v", e.Op, e.Err)
}

func (e *SinkIoError) Unwrap() error {
	return e.Err
}
