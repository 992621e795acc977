// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package transform normalizes mapped attribute values before encoding.
package transform

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/netSkope/ldif-export-tool/internal/mapping"
	"github.com/netSkope/ldif-export-tool/internal/record"
)

// GeneralizedTime is the LDAP GeneralizedTime layout written by the timestamp transform.
const GeneralizedTime = "20060102150405Z"

// Func rewrites one value. ok=false drops the value from the entry.
type Func func(v string) (out string, ok bool)

var builtins = map[string]Func{
	"trim":      Trim,
	"lower":     Lower,
	"upper":     Upper,
	"email":     Email,
	"phone":     Phone,
	"name":      Name,
	"timestamp": Timestamp,
	"boolean":   Boolean,
}

// Names returns the registered transform names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named transform.
func Lookup(name string) (Func, bool) {
	f, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Set applies transforms by attribute name, matched case-insensitively.
type Set struct {
	byAttr map[string]Func
}

// NewSet resolves an attribute -> transform name table.
func NewSet(byAttr map[string]string) (*Set, error) {
	s := &Set{byAttr: make(map[string]Func, len(byAttr))}
	for attr, name := range byAttr {
		f, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown transform %q for attribute %q (known: %s)",
				name, attr, strings.Join(Names(), ", "))
		}
		s.byAttr[strings.ToLower(attr)] = f
	}
	return s, nil
}

// Len returns the number of attributes with a transform.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byAttr)
}

// Apply returns pairs with transforms applied. Values that are not text
// ([]byte included) pass through untouched, as do attributes without a
// transform. The input slice is not modified.
func (s *Set) Apply(pairs []mapping.Pair) []mapping.Pair {
	if s.Len() == 0 {
		return pairs
	}
	out := make([]mapping.Pair, 0, len(pairs))
	for _, p := range pairs {
		f, ok := s.byAttr[strings.ToLower(p.Attribute)]
		if !ok {
			out = append(out, p)
			continue
		}
		text, ok := asText(p.Value)
		if !ok {
			out = append(out, p)
			continue
		}
		if v, keep := f(text); keep {
			out = append(out, mapping.Pair{Attribute: p.Attribute, Value: v})
		}
	}
	return out
}

func asText(v any) (string, bool) {
	switch tv := v.(type) {
	case []byte:
		return "", false
	case string:
		return tv, true
	}
	b, err := record.FormatValue(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Trim removes surrounding white space; empty results are dropped.
func Trim(v string) (string, bool) {
	v = strings.TrimSpace(v)
	return v, v != ""
}

func Lower(v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	return v, v != ""
}

func Upper(v string) (string, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	return v, v != ""
}

// Email lower-cases an address and drops values without '@' or a dot.
func Email(v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if !strings.Contains(v, "@") || !strings.Contains(v, ".") {
		return "", false
	}
	return v, true
}

// Phone keeps digits and the characters "+-() ".
func Phone(v string) (string, bool) {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9', r == '+', r == '-', r == '(', r == ')', r == ' ':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	return out, out != ""
}

// Name title-cases each word and collapses inner white space.
// A Caser keeps state between calls, so each call builds its own.
func Name(v string) (string, bool) {
	v = strings.Join(strings.Fields(v), " ")
	if v == "" {
		return "", false
	}
	return cases.Title(language.Und).String(v), true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp rewrites a recognized date or time as GeneralizedTime in UTC.
// Unrecognized input passes through unchanged.
func Timestamp(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format(GeneralizedTime), true
		}
	}
	return v, true
}

// Boolean maps common spellings to TRUE or FALSE; anything else passes through.
func Boolean(v string) (string, bool) {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "true", "t", "yes", "y", "1", "on":
		return "TRUE", true
	case "false", "f", "no", "n", "0", "off":
		return "FALSE", true
	case "":
		return "", false
	}
	return v, true
}
