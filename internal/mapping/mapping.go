// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/netSkope/ldif-export-tool/internal/record"
)

// attrNameRe matches an RFC 4512 attribute description: a descr or numericoid,
// optionally followed by ;options.
var attrNameRe = regexp.MustCompile(`^(?:[A-Za-z][A-Za-z0-9-]*|[0-9]+(?:\.[0-9]+)+)(?:;[A-Za-z0-9-]+)*$`)

// ValidAttributeName reports whether name is a usable LDAP attribute description.
func ValidAttributeName(name string) bool {
	return attrNameRe.MatchString(name)
}

// Rule maps one source field to one or more LDAP attributes.
type Rule struct {
	Field      string
	Attributes []string
}

// Mapping is an ordered, read-only mapping table.
type Mapping struct {
	rules []Rule
}

// Pair is one attribute/value produced by Map.
type Pair struct {
	Attribute string
	Value     any
}

// New validates the rules and returns an immutable Mapping.
func New(rules ...Rule) (Mapping, error) {
	seen := make(map[string]bool, len(rules))
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Field == "" {
			return Mapping{}, fmt.Errorf("rule %d: field name is empty", i)
		}
		if seen[r.Field] {
			return Mapping{}, fmt.Errorf("rule %d: field %q mapped twice", i, r.Field)
		}
		seen[r.Field] = true
		if len(r.Attributes) == 0 {
			return Mapping{}, fmt.Errorf("rule %d: field %q has no target attributes", i, r.Field)
		}
		attrs := make([]string, len(r.Attributes))
		for j, a := range r.Attributes {
			a = strings.TrimSpace(a)
			if !ValidAttributeName(a) {
				return Mapping{}, fmt.Errorf("rule %d: invalid attribute name %q for field %q", i, a, r.Field)
			}
			attrs[j] = a
		}
		out = append(out, Rule{Field: r.Field, Attributes: attrs})
	}
	return Mapping{rules: out}, nil
}

// MustNew is New for literal tables; it panics on invalid rules.
func MustNew(rules ...Rule) Mapping {
	m, err := New(rules...)
	if err != nil {
		panic(err)
	}
	return m
}

// Rules returns a copy of the mapping rules in declaration order.
func (m Mapping) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, r := range m.rules {
		out[i] = Rule{Field: r.Field, Attributes: append([]string(nil), r.Attributes...)}
	}
	return out
}

// Len returns the number of rules.
func (m Mapping) Len() int {
	return len(m.rules)
}

// Map applies the mapping to a record.
//
// Rules are applied in declaration order. A field that is absent or nil
// contributes nothing. Record fields without a rule are never emitted: only
// mapped data reaches the directory.
func Map(rec *record.Record, m Mapping) []Pair {
	var pairs []Pair
	for _, r := range m.rules {
		v, ok := rec.Get(r.Field)
		if !ok || v == nil {
			continue
		}
		values := record.Values(v)
		for _, attr := range r.Attributes {
			for _, val := range values {
				pairs = append(pairs, Pair{Attribute: attr, Value: val})
			}
		}
	}
	return pairs
}

// Unmapped returns the record fields that have no rule, in record order.
func Unmapped(rec *record.Record, m Mapping) []string {
	mapped := make(map[string]bool, len(m.rules))
	for _, r := range m.rules {
		mapped[r.Field] = true
	}
	var out []string
	for _, k := range rec.Keys() {
		if !mapped[k] {
			out = append(out, k)
		}
	}
	return out
}
