// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package dn

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/netSkope/ldif-export-tool/internal/record"
)

// sampleValue stands in for placeholders when checking the static skeleton.
const sampleValue = "sample"

type segment struct {
	text    string
	isField bool
}

// Template is a compiled DN template such as "uid={username},ou=people,dc=example,dc=com".
// Placeholders name source record fields, not mapped attribute names.
// A Template is immutable and safe for concurrent use.
type Template struct {
	raw    string
	segs   []segment
	fields []string
}

// Compile parses a template and checks that it renders to a valid DN.
func Compile(tmpl string) (*Template, error) {
	malformed := func(reason string) error {
		return &TemplateError{Kind: MalformedTemplate, Template: tmpl, Reason: reason}
	}

	var (
		segs   []segment
		fields []string
		lit    strings.Builder
		open   = -1
	)
	for i := 0; i < len(tmpl); i++ {
		switch c := tmpl[i]; c {
		case '{':
			if open >= 0 {
				return nil, malformed(fmt.Sprintf("nested '{' at offset %d", i))
			}
			if lit.Len() > 0 {
				segs = append(segs, segment{text: lit.String()})
				lit.Reset()
			}
			open = i
		case '}':
			if open < 0 {
				return nil, malformed(fmt.Sprintf("unmatched '}' at offset %d", i))
			}
			name := strings.TrimSpace(tmpl[open+1 : i])
			if name == "" {
				return nil, malformed(fmt.Sprintf("empty placeholder at offset %d", open))
			}
			segs = append(segs, segment{text: name, isField: true})
			fields = append(fields, name)
			open = -1
		default:
			if open < 0 {
				lit.WriteByte(c)
			}
		}
	}
	if open >= 0 {
		return nil, malformed(fmt.Sprintf("unclosed '{' at offset %d", open))
	}
	if len(fields) == 0 {
		return nil, malformed("template has no placeholders")
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{text: lit.String()})
	}

	t := &Template{raw: tmpl, segs: segs, fields: fields}

	var sample strings.Builder
	for _, s := range segs {
		if s.isField {
			sample.WriteString(sampleValue)
		} else {
			sample.WriteString(s.text)
		}
	}
	if _, err := ldap.ParseDN(sample.String()); err != nil {
		return nil, &TemplateError{Kind: MalformedTemplate, Template: tmpl, Reason: "skeleton is not a valid DN", Err: err}
	}
	if !strings.Contains(sample.String(), "=") {
		return nil, malformed("template has no attribute=value component")
	}

	return t, nil
}

// MustCompile is Compile for literal templates; it panics on error.
func MustCompile(tmpl string) *Template {
	t, err := Compile(tmpl)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t *Template) String() string {
	return t.raw
}

// Fields returns the placeholder names in template order.
func (t *Template) Fields() []string {
	return append([]string(nil), t.fields...)
}

// Resolve renders the template against rec.
//
// Substituted values are escaped with EscapeValue. A multi-valued field uses
// its first element.
func (t *Template) Resolve(rec *record.Record) (string, error) {
	var (
		b        strings.Builder
		allEmpty = true
	)
	for _, s := range t.segs {
		if !s.isField {
			b.WriteString(s.text)
			continue
		}

		v, ok := rec.Get(s.text)
		if !ok || v == nil {
			return "", &TemplateError{Kind: MissingField, Template: t.raw, Field: s.text, Reason: "field not present in record"}
		}
		values := record.Values(v)
		if len(values) == 0 {
			return "", &TemplateError{Kind: MissingField, Template: t.raw, Field: s.text, Reason: "field has no values"}
		}
		raw, err := record.FormatValue(values[0])
		if err != nil {
			return "", &TemplateError{Kind: InvalidDn, Template: t.raw, Field: s.text, Err: err}
		}
		if len(raw) > 0 {
			allEmpty = false
		}
		b.WriteString(EscapeValue(string(raw)))
	}

	out := b.String()
	if out == "" || allEmpty {
		return "", &TemplateError{Kind: EmptyDn, Template: t.raw, Reason: "all placeholders rendered empty"}
	}
	if _, err := ldap.ParseDN(out); err != nil {
		return "", &TemplateError{Kind: InvalidDn, Template: t.raw, Reason: fmt.Sprintf("rendered %q", out), Err: err}
	}
	return out, nil
}

// EscapeValue escapes an attribute value for use inside a DN (RFC 4514 §2.4).
//
// ',', '+', '"', '\', '<', '>' and ';' are backslash-prefixed anywhere, a space
// at either end and a leading '#' are backslash-prefixed, and control bytes
// are written as \XX so a DN never holds a raw control character.
func EscapeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	last := len(s) - 1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ',' || c == '+' || c == '"' || c == '\\' || c == '<' || c == '>' || c == ';':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == ' ' && (i == 0 || i == last):
			b.WriteString(`\ `)
		case c == '#' && i == 0:
			b.WriteString(`\#`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\%02X`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
