// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a logger using the Zap structured logger.
// Stdout carries LDIF and Singer state, so console logs go to stderr. When
// logDir is set a JSON log file is written as well; with neither a console
// nor a directory, logs go to stderr anyway.
func NewLogger(logDir, logName string, debug, console bool) (*zap.Logger, error) {
	return newLogger(logDir, logName, debug, console, zapcore.Lock(os.Stderr))
}

func newLogger(logDir, logName string, debug, console bool, consoleOut zapcore.WriteSyncer) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.LevelKey = "lv"
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(l.CapitalString()[:2])
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.CallerKey = "call"
	}

	var cores []zapcore.Core
	if console || logDir == "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), consoleOut, level))
	}
	if logDir != "" {
		if logName == "" {
			logName = filepath.Base(os.Args[0])
		}
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, err
		}

		logFile := filepath.Join(logDir, logName+".log")
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}

		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg),
			zapcore.AddSync(file), level))
	}

	core := zapcore.NewTee(cores...)

	var logger *zap.Logger
	if debug {
		logger = zap.New(core, zap.AddCaller())
	} else {
		logger = zap.New(core)
	}

	return logger, nil
}
