// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package export

import (
	"go.uber.org/zap"
)

// Observer is notified of per-record outcomes. Calls come from the
// coordinator's goroutine, one run at a time.
type Observer interface {
	RecordFailed(stream string, index int64, err error)
	EntryWritten(stream string, index int64, dn string)
	Finished(stream string, summary Summary, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) RecordFailed(string, int64, error) {}
func (NopObserver) EntryWritten(string, int64, string) {}
func (NopObserver) Finished(string, Summary, error) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) RecordFailed(stream string, index int64, err error) {
	for _, ob := range o {
		ob.RecordFailed(stream, index, err)
	}
}

func (o Observers) EntryWritten(stream string, index int64, dn string) {
	for _, ob := range o {
		ob.EntryWritten(stream, index, dn)
	}
}

func (o Observers) Finished(stream string, summary Summary, err error) {
	for _, ob := range o {
		ob.Finished(stream, summary, err)
	}
}

// LogObserver logs failed records at warn level and written entries at debug.
type LogObserver struct {
	Logger *zap.Logger
}

func (l LogObserver) RecordFailed(stream string, index int64, err error) {
	l.Logger.Warn("Skipping record",
		zap.String("stream", stream),
		zap.Int64("record", index),
		zap.String("kind", RecordErrorKind(err)),
		zap.Error(err))
}

func (l LogObserver) EntryWritten(stream string, index int64, dn string) {
	if ce := l.Logger.Check(zap.DebugLevel, "Wrote entry"); ce != nil {
		ce.Write(zap.String("stream", stream), zap.Int64("record", index), zap.String("dn", dn))
	}
}

func (l LogObserver) Finished(stream string, summary Summary, err error) {
	fields := []zap.Field{
		zap.String("stream", stream),
		zap.Int64("entries_written", summary.EntriesWritten),
		zap.Int64("entries_failed", summary.EntriesFailed),
		zap.Int64("bytes_written", summary.BytesWritten),
	}
	if err != nil {
		l.Logger.Error("Export finished with error", append(fields, zap.Error(err))...)
		return
	}
	l.Logger.Info("Export finished", fields...)
}
