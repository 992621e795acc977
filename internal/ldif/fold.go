// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package ldif

import "unicode/utf8"

const (
	// DefaultLineLength is the folding width used when none is configured.
	DefaultLineLength = 78
	// MinLineLength is the smallest folding width accepted.
	MinLineLength = 40
)

// NormalizeLineLength applies the default and the floor to a configured width.
func NormalizeLineLength(n int) int {
	switch {
	case n <= 0:
		return DefaultLineLength
	case n < MinLineLength:
		return MinLineLength
	default:
		return n
	}
}

// Fold splits line into physical lines of at most width bytes. Continuation
// lines start with a single space. Splits fall on UTF-8 sequence boundaries.
func Fold(line string, width int) []string {
	width = NormalizeLineLength(width)
	if len(line) <= width {
		return []string{line}
	}

	out := make([]string, 0, len(line)/(width-1)+1)
	limit := width
	prefix := ""
	rest := line
	for len(rest) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(rest[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		out = append(out, prefix+rest[:cut])
		rest = rest[cut:]
		limit = width - 1
		prefix = " "
	}
	return append(out, prefix+rest)
}

// appendFolded appends the folded form of line to dst, each physical line
// terminated by a newline.
func appendFolded(dst []byte, line string, width int) []byte {
	for _, l := range Fold(line, width) {
		dst = append(dst, l...)
		dst = append(dst, '\n')
	}
	return dst
}
