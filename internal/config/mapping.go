// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/netSkope/ldif-export-tool/internal/mapping"
)

// MappingEntry maps one record field to one or more LDAP attributes.
type MappingEntry struct {
	Field      string   `validate:"required"`
	Attributes []string `validate:"required,min=1,dive,ldapattr"`
}

// AttributeMapping keeps the order in which fields appear in the config file,
// which decides attribute order in the output.
type AttributeMapping []MappingEntry

// UnmarshalYAML accepts a mapping whose values are a single attribute name or
// a list of names.
func (m *AttributeMapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: attribute_mapping must be a mapping", node.Line)
	}
	out := make(AttributeMapping, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		entry := MappingEntry{Field: key.Value}
		switch val.Kind {
		case yaml.ScalarNode:
			entry.Attributes = []string{val.Value}
		case yaml.SequenceNode:
			if err := val.Decode(&entry.Attributes); err != nil {
				return fmt.Errorf("line %d: %w", val.Line, err)
			}
		default:
			return fmt.Errorf("line %d: field %q must map to an attribute name or a list of names", val.Line, key.Value)
		}
		out = append(out, entry)
	}
	*m = out
	return nil
}

// Rules converts the entries into mapping rules.
func (m AttributeMapping) Rules() []mapping.Rule {
	rules := make([]mapping.Rule, len(m))
	for i, e := range m {
		rules[i] = mapping.Rule{Field: e.Field, Attributes: e.Attributes}
	}
	return rules
}
