// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package metrics counts export outcomes with Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/netSkope/ldif-export-tool/internal/export"
)

// Observer is an export.Observer backed by Prometheus counters on a private registry.
type Observer struct {
	registry *prometheus.Registry

	EntriesWritten *prometheus.CounterVec
	EntriesFailed  *prometheus.CounterVec
	BytesWritten   *prometheus.CounterVec
	RunsFinished   *prometheus.CounterVec
}

// New registers the export counters on a fresh registry.
func New() *Observer {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Observer{
		registry: reg,
		EntriesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldif_entries_written_total",
			Help: "LDIF entries written, by stream.",
		}, []string{"stream"}),
		EntriesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldif_entries_failed_total",
			Help: "Records skipped because of per-record errors, by stream and kind.",
		}, []string{"stream", "kind"}),
		BytesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldif_bytes_written_total",
			Help: "Bytes of LDIF written to sinks, by stream.",
		}, []string{"stream"}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldif_export_runs_total",
			Help: "Finished export runs, by stream and result.",
		}, []string{"stream", "result"}),
	}
}

// Registry exposes the private registry, for tests and textfile output.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

func (o *Observer) RecordFailed(stream string, _ int64, err error) {
	o.EntriesFailed.WithLabelValues(stream, export.RecordErrorKind(err)).Inc()
}

func (o *Observer) EntryWritten(stream string, _ int64, _ string) {
	o.EntriesWritten.WithLabelValues(stream).Inc()
}

func (o *Observer) Finished(stream string, summary export.Summary, err error) {
	o.BytesWritten.WithLabelValues(stream).Add(float64(summary.BytesWritten))
	o.RunsFinished.WithLabelValues(stream, result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, export.ErrCancelled):
		return "cancelled"
	default:
		return "fatal"
	}
}

// WriteTextfile writes all metrics in the node_exporter textfile format.
func (o *Observer) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, o.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
