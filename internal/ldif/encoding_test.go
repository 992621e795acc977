// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package ldif

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestIsSafe(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		strict bool
		want   bool
	}{
		{"empty", "", false, true},
		{"plain", "Alice Smith", false, true},
		{"trailing space", "alice ", false, true},
		{"leading space", " alice", false, false},
		{"leading colon", ":alice", false, false},
		{"leading lt", "<alice", false, false},
		{"inner colon", "a:b", false, true},
		{"newline", "a\nb", false, false},
		{"carriage return", "a\rb", false, false},
		{"nul", "a\x00b", false, false},
		{"utf8 relaxed", "José", false, true},
		{"utf8 strict", "José", true, false},
		{"invalid utf8", "a\xffb", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSafe([]byte(tt.in), tt.strict); got != tt.want {
				t.Errorf("IsSafe(%q, %v) = %v, want %v", tt.in, tt.strict, got, tt.want)
			}
		})
	}
}

func TestEncoderEncode(t *testing.T) {
	tests := []struct {
		name     string
		enc      Encoder
		raw      any
		wantEnc  Encoding
		wantText string
	}{
		{"plain string", Encoder{}, "Alice", Plain, "Alice"},
		{"empty string", Encoder{}, "", Plain, ""},
		{"leading space", Encoder{}, " x", Base64, base64.StdEncoding.EncodeToString([]byte(" x"))},
		{"newline", Encoder{}, "line1\nline2", Base64, "bGluZTEKbGluZTI="},
		{"force base64", Encoder{ForceBase64: true}, "Alice", Base64, "QWxpY2U="},
		{"strict non-ascii", Encoder{StrictASCII: true}, "José", Base64, base64.StdEncoding.EncodeToString([]byte("José"))},
		{"integer", Encoder{}, 42, Plain, "42"},
		{"boolean", Encoder{}, true, Plain, "TRUE"},
		{"bytes", Encoder{}, []byte{0x00, 0x01}, Base64, "AAE="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.enc.Encode(tt.raw)
			if err != nil {
				t.Fatalf("Encode(%v) error: %v", tt.raw, err)
			}
			if got.Encoding() != tt.wantEnc {
				t.Errorf("encoding = %v, want %v", got.Encoding(), tt.wantEnc)
			}
			if got.Text() != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text(), tt.wantText)
			}
			if got.Encoding() == Base64 {
				if _, err := base64.StdEncoding.DecodeString(got.Text()); err != nil {
					t.Errorf("base64 text does not decode: %v", err)
				}
			}
		})
	}
}

func TestEncoderErrors(t *testing.T) {
	t.Run("value too large", func(t *testing.T) {
		_, err := Encoder{MaxValueBytes: 4}.Encode("abcdef")
		var ee *EncodingError
		if !errors.As(err, &ee) {
			t.Fatalf("expected EncodingError, got %v", err)
		}
		if !errors.Is(err, ErrValueTooLarge) {
			t.Errorf("expected ErrValueTooLarge in chain, got %v", err)
		}
	})

	t.Run("at the limit", func(t *testing.T) {
		if _, err := (Encoder{MaxValueBytes: 4}).Encode("abcd"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := Encoder{}.Encode(map[string]any{"a": 1})
		var ee *EncodingError
		if !errors.As(err, &ee) {
			t.Fatalf("expected EncodingError, got %v", err)
		}
	})
}

func TestEncodedValueLine(t *testing.T) {
	enc := Encoder{}
	if got := enc.EncodeBytes([]byte("Alice")).Line("cn"); got != "cn: Alice" {
		t.Errorf("plain line = %q", got)
	}
	if got := enc.EncodeBytes(nil).Line("description"); got != "description:" {
		t.Errorf("empty line = %q", got)
	}
	if got := enc.EncodeBytes([]byte(" x")).Line("cn"); got != "cn:: IHg=" {
		t.Errorf("base64 line = %q", got)
	}
}
