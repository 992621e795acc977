// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package ldif

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func unfold(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			l = strings.TrimPrefix(l, " ")
		}
		b.WriteString(l)
	}
	return b.String()
}

func TestFoldRoundTrip(t *testing.T) {
	for _, width := range []int{40, 78, 200} {
		for _, n := range []int{0, 1, width - 1, width, width + 1, 10 * width} {
			t.Run(fmt.Sprintf("w%d_n%d", width, n), func(t *testing.T) {
				line := strings.Repeat("a", n)
				lines := Fold(line, width)
				for i, l := range lines {
					if len(l) > width {
						t.Errorf("line %d has %d bytes, width %d", i, len(l), width)
					}
					if i > 0 && (!strings.HasPrefix(l, " ") || strings.HasPrefix(l, "  ")) {
						t.Errorf("continuation line %d must start with exactly one space: %q", i, l)
					}
				}
				if got := unfold(lines); got != line {
					t.Errorf("unfold mismatch: got %d bytes, want %d", len(got), len(line))
				}
			})
		}
	}
}

func TestFoldShortLineUntouched(t *testing.T) {
	lines := Fold("cn: Alice", 78)
	if len(lines) != 1 || lines[0] != "cn: Alice" {
		t.Errorf("Fold short line = %q", lines)
	}
}

func TestFoldUTF8Boundary(t *testing.T) {
	// 37 ASCII bytes then 2-byte runes, so byte 40 falls inside a rune.
	line := "description: " + strings.Repeat("x", 24) + strings.Repeat("é", 40)
	lines := Fold(line, 40)
	if len(lines) < 2 {
		t.Fatalf("expected folding, got %d lines", len(lines))
	}
	for i, l := range lines {
		body := l
		if i > 0 {
			body = l[1:]
		}
		if !utf8.ValidString(body) {
			t.Errorf("line %d splits a UTF-8 sequence: %q", i, l)
		}
		if len(l) > 40 {
			t.Errorf("line %d too long: %d", i, len(l))
		}
	}
	if got := unfold(lines); got != line {
		t.Errorf("unfold mismatch")
	}
}

func TestNormalizeLineLength(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultLineLength},
		{-5, DefaultLineLength},
		{10, MinLineLength},
		{40, 40},
		{120, 120},
	}
	for _, tt := range tests {
		if got := NormalizeLineLength(tt.in); got != tt.want {
			t.Errorf("NormalizeLineLength(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
