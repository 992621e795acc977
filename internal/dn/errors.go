// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package dn

import "fmt"

// ErrorKind classifies DN construction failures.
type ErrorKind int

const (
	// MissingField: a placeholder names a field absent (or nil) in the record.
	MissingField ErrorKind = iota + 1
	// MalformedTemplate: unbalanced or nested braces, an empty placeholder,
	// no placeholder at all, or a static skeleton that is not a DN.
	MalformedTemplate
	// EmptyDn: the rendered DN is empty or every placeholder rendered empty.
	EmptyDn
	// InvalidDn: the rendered DN does not parse as an RFC 4514 DN.
	InvalidDn
)

func (k ErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing_field"
	case MalformedTemplate:
		return "malformed_template"
	case EmptyDn:
		return "empty_dn"
	case InvalidDn:
		return "invalid_dn"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrMissingField      = &TemplateError{Kind: MissingField}
	ErrMalformedTemplate = &TemplateError{Kind: MalformedTemplate}
	ErrEmptyDn           = &TemplateError{Kind: EmptyDn}
	ErrInvalidDn         = &TemplateError{Kind: InvalidDn}
)

// TemplateError reports a failure to compile a template or to resolve it
// against a record.
type TemplateError struct {
	Kind     ErrorKind
	Template string
	Field    string
	Reason   string
	Err      error
}

func (e *TemplateError) Error() string {
	msg := "dn template " + e.Kind.String()
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Is matches any TemplateError of the same kind.
func (e *TemplateError) Is(target error) bool {
	t, ok := target.(*TemplateError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
