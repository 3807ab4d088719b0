// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"

	"github.com/Thermoquad/argonctl/pkg/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loggerEncoderConfig matches zap's development config without stack traces
// and with coloured levels.
func loggerEncoderConfig(format string) zapcore.EncoderConfig {
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		enc.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc.EncodeDuration = zapcore.MillisDurationEncoder
	}
	return enc
}

// newLogger returns a sugared logger writing to w.
func newLogger(c config.LogConfig, w io.Writer) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	var encoder zapcore.Encoder
	switch c.Format {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(loggerEncoderConfig("console"))
	case "json":
		encoder = zapcore.NewJSONEncoder(loggerEncoderConfig("json"))
	default:
		return nil, errors.Errorf("unknown log format %q", c.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	return zap.New(core).Sugar(), nil
}
