// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package target

import (
	"fmt"

	"github.com/netSkope/ldif-export-tool/internal/config"
	"github.com/netSkope/ldif-export-tool/internal/dn"
	"github.com/netSkope/ldif-export-tool/internal/export"
	"github.com/netSkope/ldif-export-tool/internal/ldif"
	"github.com/netSkope/ldif-export-tool/internal/mapping"
	"github.com/netSkope/ldif-export-tool/internal/transform"
)

// Planner returns the export configuration for a stream.
type Planner func(stream string) (export.Config, error)

// NewPlanner plans streams from cfg, applying per-stream overrides.
func NewPlanner(cfg *config.Config) Planner {
	return func(stream string) (export.Config, error) {
		return BuildExportConfig(cfg, stream)
	}
}

// BuildExportConfig compiles the template, mapping and transforms for stream.
func BuildExportConfig(cfg *config.Config, stream string) (export.Config, error) {
	sc := cfg.ForStream(stream)

	tmpl, err := dn.Compile(sc.DNTemplate)
	if err != nil {
		return export.Config{}, fmt.Errorf("stream %q: %w", stream, err)
	}
	m, err := mapping.New(sc.AttributeMapping.Rules()...)
	if err != nil {
		return export.Config{}, fmt.Errorf("stream %q: attribute mapping: %w", stream, err)
	}
	transforms, err := transform.NewSet(sc.ValueTransforms)
	if err != nil {
		return export.Config{}, fmt.Errorf("stream %q: %w", stream, err)
	}

	enc := ldif.Encoder{
		ForceBase64:   cfg.ForceBase64,
		StrictASCII:   cfg.StrictASCII,
		MaxValueBytes: cfg.MaxValueBytes,
	}
	return export.Config{
		Stream:     stream,
		Template:   tmpl,
		Mapping:    m,
		Transforms: transforms,
		Builder:    ldif.NewBuilder(enc, sc.StaticObjectClasses),
		Writer: ldif.WriterOptions{
			LineLength:            cfg.LineLength,
			IncludeVersion:        cfg.IncludeVersion,
			IncludeTimestamp:      cfg.IncludeTimestamp,
			IncludeHeaderComment:  cfg.IncludeHeaderComment,
			IncludeTrailerComment: cfg.IncludeTrailerComment,
			HeaderComment:         cfg.HeaderComment,
			FlushCount:            cfg.BatchFlushCount,
			FlushBytes:            cfg.BatchFlushBytes,
		},
	}, nil
}
