// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package ldif

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/netSkope/ldif-export-tool/internal/record"
)

// Encoding is the LDIF representation chosen for a value.
type Encoding uint8

const (
	// Plain values are written as "attr: value".
	Plain Encoding = iota + 1
	// Base64 values are written as "attr:: base64".
	Base64
)

func (e Encoding) String() string {
	switch e {
	case Plain:
		return "plain"
	case Base64:
		return "base64"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// EncodedValue is either Plain(text) or Base64(text). Only an Encoder
// produces them, so the two variants cannot be mixed up.
type EncodedValue struct {
	enc  Encoding
	text string
}

// Encoding returns the variant.
func (v EncodedValue) Encoding() Encoding {
	return v.enc
}

// Text returns the value as it appears after the separator.
func (v EncodedValue) Text() string {
	return v.text
}

// Line renders the unfolded "attr: value" or "attr:: value" line.
func (v EncodedValue) Line(attr string) string {
	if v.enc == Base64 {
		return attr + ":: " + v.text
	}
	if v.text == "" {
		return attr + ":"
	}
	return attr + ": " + v.text
}

// Encoder chooses and applies the LDIF value encoding (RFC 2849 §7).
type Encoder struct {
	// ForceBase64 encodes every value as base64.
	ForceBase64 bool
	// StrictASCII treats any byte >= 0x80 as unsafe.
	StrictASCII bool
	// MaxValueBytes rejects larger raw values; 0 means no limit.
	MaxValueBytes int
}

// Encode renders raw with record.FormatValue and encodes the bytes.
func (e Encoder) Encode(raw any) (EncodedValue, error) {
	b, err := record.FormatValue(raw)
	if err != nil {
		return EncodedValue{}, &EncodingError{Err: err}
	}
	if e.MaxValueBytes > 0 && len(b) > e.MaxValueBytes {
		return EncodedValue{}, &EncodingError{Err: fmt.Errorf("%w: %d > %d bytes", ErrValueTooLarge, len(b), e.MaxValueBytes)}
	}
	return e.EncodeBytes(b), nil
}

// EncodeBytes encodes b without a size check.
func (e Encoder) EncodeBytes(b []byte) EncodedValue {
	if !e.ForceBase64 && IsSafe(b, e.StrictASCII) {
		return EncodedValue{enc: Plain, text: string(b)}
	}
	return EncodedValue{enc: Base64, text: base64.StdEncoding.EncodeToString(b)}
}

// IsSafe reports whether b can be written as a plain LDIF value: no NUL,
// LF or CR, no leading space, ':' or '<', and valid UTF-8. With strictASCII
// set, bytes outside 7-bit ASCII are unsafe as well.
func IsSafe(b []byte, strictASCII bool) bool {
	if len(b) == 0 {
		return true
	}
	switch b[0] {
	case ' ', ':', '<':
		return false
	}
	for _, c := range b {
		switch {
		case c == 0x00 || c == '\n' || c == '\r':
			return false
		case c >= 0x80 && strictASCII:
			return false
		}
	}
	return utf8.Valid(b)
}
