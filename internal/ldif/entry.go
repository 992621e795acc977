// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package ldif

import (
	"errors"
	"strings"

	"github.com/netSkope/ldif-export-tool/internal/mapping"
	"github.com/netSkope/ldif-export-tool/internal/record"
)

// ObjectClassAttr is the attribute that carries static object classes.
const ObjectClassAttr = "objectClass"

// Attribute is one encoded attribute line of an entry.
type Attribute struct {
	Name  string
	Value EncodedValue
}

// Entry is one LDIF record: a DN followed by attribute lines.
type Entry struct {
	dn         string
	dnValue    EncodedValue
	Attributes []Attribute
}

// DN returns the entry's distinguished name.
func (e *Entry) DN() string {
	return e.dn
}

// AppendTo appends the folded text of the entry, without a trailing blank line.
func (e *Entry) AppendTo(dst []byte, width int) []byte {
	dst = appendFolded(dst, e.dnValue.Line("dn"), width)
	for _, a := range e.Attributes {
		dst = appendFolded(dst, a.Value.Line(a.Name), width)
	}
	return dst
}

// String returns the entry text folded at the default width.
func (e *Entry) String() string {
	return string(e.AppendTo(nil, DefaultLineLength))
}

// Builder composes entries from a DN and mapped pairs.
type Builder struct {
	encoder       Encoder
	objectClasses []string
}

// NewBuilder returns a Builder appending objectClasses, deduplicated
// case-insensitively in first-seen order, to every entry.
func NewBuilder(enc Encoder, objectClasses []string) *Builder {
	seen := make(map[string]bool, len(objectClasses))
	classes := make([]string, 0, len(objectClasses))
	for _, oc := range objectClasses {
		oc = strings.TrimSpace(oc)
		key := strings.ToLower(oc)
		if oc == "" || seen[key] {
			continue
		}
		seen[key] = true
		classes = append(classes, oc)
	}
	return &Builder{encoder: enc, objectClasses: classes}
}

// ObjectClasses returns the deduplicated static object classes.
func (b *Builder) ObjectClasses() []string {
	return append([]string(nil), b.objectClasses...)
}

// Build encodes the pairs in order and appends the static object classes.
// Classes already supplied through mapped objectClass values are not repeated.
func (b *Builder) Build(dn string, pairs []mapping.Pair) (*Entry, error) {
	if dn == "" {
		return nil, &EncodingError{Attribute: "dn", Err: errors.New("empty DN")}
	}
	if len(pairs) == 0 {
		return nil, &EmptyEntryError{DN: dn}
	}

	entry := &Entry{
		dn:         dn,
		dnValue:    Encoder{StrictASCII: b.encoder.StrictASCII}.EncodeBytes([]byte(dn)),
		Attributes: make([]Attribute, 0, len(pairs)+len(b.objectClasses)),
	}

	userClasses := make(map[string]bool)
	for _, p := range pairs {
		v, err := b.encoder.Encode(p.Value)
		if err != nil {
			var ee *EncodingError
			if errors.As(err, &ee) {
				ee.Attribute = p.Attribute
			}
			return nil, err
		}
		if strings.EqualFold(p.Attribute, ObjectClassAttr) {
			if raw, err := record.FormatValue(p.Value); err == nil {
				userClasses[strings.ToLower(string(raw))] = true
			}
		}
		entry.Attributes = append(entry.Attributes, Attribute{Name: p.Attribute, Value: v})
	}

	for _, oc := range b.objectClasses {
		if userClasses[strings.ToLower(oc)] {
			continue
		}
		entry.Attributes = append(entry.Attributes, Attribute{
			Name:  ObjectClassAttr,
			Value: b.encoder.EncodeBytes([]byte(oc)),
		})
	}

	return entry, nil
}
