// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/netSkope/ldif-export-tool/internal/config"
	"github.com/netSkope/ldif-export-tool/internal/export"
	ldiflog "github.com/netSkope/ldif-export-tool/internal/log"
	"github.com/netSkope/ldif-export-tool/internal/metrics"
	"github.com/netSkope/ldif-export-tool/internal/target"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailed      = 1
	exitConfig      = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// Load configuration
	cfg, err := config.LoadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitConfig
	}

	// Initialize logger
	logger, err := ldiflog.NewLogger(cfg.Log.Dir, cfg.Log.Name, cfg.Log.Debug, cfg.Log.Console)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting LDIF target",
		zap.String("source", cfg.Source.Type),
		zap.String("output", cfg.Output.Type),
		zap.String("dn_template", cfg.DNTemplate))

	reader, closeSource, err := openSource(ctx, cfg, stdin, logger)
	if err != nil {
		logger.Error("Failed to open source", zap.Error(err))
		fmt.Fprintf(stderr, "Failed to open source: %v\n", err)
		return exitFailed
	}
	defer closeSource()

	sinks, err := newSinkFactory(ctx, cfg, stdout, logger)
	if err != nil {
		logger.Error("Failed to set up output", zap.Error(err))
		fmt.Fprintf(stderr, "Failed to set up output: %v\n", err)
		return exitFailed
	}

	m := metrics.New()
	opts := target.Options{
		Planner:      target.NewPlanner(cfg),
		Sinks:        sinks,
		Observer:     export.Observers{export.LogObserver{Logger: logger}, m},
		StreamBuffer: cfg.StreamBuffer,
		Logger:       logger,
	}
	// Singer state goes to stdout, which LDIF output would corrupt.
	if cfg.Output.Type != "stdout" {
		opts.StateOut = stdout
	}
	tgt, err := target.New(opts)
	if err != nil {
		logger.Error("Failed to create target", zap.Error(err))
		return exitFailed
	}

	results, runErr := tgt.Run(ctx, reader)

	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("Failed to write metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
		}
	}

	if !cfg.Quiet {
		printSummary(stderr, results, runErr)
	}

	switch {
	case runErr == nil:
		return exitOK
	case errors.Is(runErr, export.ErrCancelled):
		return exitInterrupted
	default:
		return exitFailed
	}
}

func printSummary(w io.Writer, results []target.Result, runErr error) {
	total := target.Totals(results)

	fmt.Fprintf(w, "\n=== LDIF Export Summary ===\n")
	for _, r := range results {
		status := "ok"
		var fe *export.FatalError
		switch {
		case r.Err == nil:
		case errors.Is(r.Err, export.ErrCancelled):
			status = "cancelled"
		case errors.As(r.Err, &fe):
			status = "failed: " + fe.Kind.String()
		default:
			status = "failed"
		}
		fmt.Fprintf(w, "Stream %s: %d written, %d failed, %d bytes -> %s (%s)\n",
			r.Stream, r.Summary.EntriesWritten, r.Summary.EntriesFailed, r.Summary.BytesWritten, r.Location, status)
	}
	fmt.Fprintf(w, "Total entries written: %d\n", total.EntriesWritten)
	fmt.Fprintf(w, "Total entries failed: %d\n", total.EntriesFailed)
	fmt.Fprintf(w, "Total bytes written: %d\n", total.BytesWritten)
	if runErr != nil {
		fmt.Fprintf(w, "Error: %v\n", runErr)
	}
}
