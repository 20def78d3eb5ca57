// Copyright 2024 The cartfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is the driver's diagnostic log sink: human-readable lines
// at configurable severity, emitted through log/slog, with an optional
// rotating file backend. Severities below slog's own floor (TRACE) are
// added for the bus protocol's per-request tracing.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names accepted in configuration, ordered least to most verbose
// suppression.
const (
	SeverityOff     = "OFF"
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
	SeverityInfo    = "INFO"
	SeverityDebug   = "DEBUG"
	SeverityTrace   = "TRACE"
)

// LevelTrace sits below slog.LevelDebug so it can be suppressed
// independently of DEBUG; LevelOff sits above any real message so nothing
// is ever emitted at that level.
const (
	LevelTrace = slog.Level(-8)
	LevelOff   = slog.Level(64)
)

type factory struct {
	format string
	mu     sync.Mutex
	writer io.Writer
}

// textTimeFormat is the timestamp layout used by the text handler.
const textTimeFormat = "2006/01/02 15:04:05.000000"

func (f *factory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	opts := getHandlerOptions(level, prefix, f.format)
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func getHandlerOptions(level *slog.LevelVar, prefix string, format string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch {
			case a.Key == slog.LevelKey:
				a.Key = "severity"
				lvl := a.Value.Any().(slog.Level)
				a.Value = slog.StringValue(severityName(lvl))
			case a.Key == slog.MessageKey:
				a.Key = "message"
				a.Value = slog.StringValue(prefix + a.Value.String())
			case a.Key == slog.TimeKey && format == "json":
				a.Key = "timestamp"
				t := a.Value.Time().Round(0)
				a.Value = slog.GroupValue(
					slog.Attr{Key: "seconds", Value: slog.Int64Value(t.Unix())},
					slog.Attr{Key: "nanos", Value: slog.Int64Value(int64(t.Nanosecond()))},
				)
			case a.Key == slog.TimeKey:
				a.Value = slog.StringValue(a.Value.Time().Round(0).Format(textTimeFormat))
			}
			return a
		},
	}
}

func severityName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func levelFor(severity string) slog.Level {
	switch severity {
	case SeverityTrace:
		return LevelTrace
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return LevelOff
	}
}

func setLoggingLevel(severity string, programLevel *slog.LevelVar) {
	programLevel.Set(levelFor(severity))
}

var (
	defaultLoggerFactory = &factory{format: "text", writer: os.Stderr}
	defaultProgramLevel  = new(slog.LevelVar)
	defaultLogger        = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultProgramLevel, ""))
	defaultMu            sync.Mutex
)

// Config describes how to initialize the default logger. Format is "text"
// or "json"; Severity is one of the Severity* constants; Path, if non-empty,
// routes output through a rotating file (lumberjack) instead of stderr.
type Config struct {
	Format     string
	Severity   string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init (re)configures the default logger used by the package-level
// Tracef/Debugf/... functions. Safe to call more than once; the most recent
// call wins.
func Init(cfg Config) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	var w io.Writer = os.Stderr
	if cfg.Path != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	format := cfg.Format
	if format == "" {
		format = "text"
	}
	defaultLoggerFactory = &factory{format: format, writer: w}
	setLoggingLevel(cfg.Severity, defaultProgramLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, defaultProgramLevel, ""))
}

func logf(level slog.Level, format string, args ...interface{}) {
	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

// Tracef logs at TRACE, the most verbose level — used for per-bus-request
// tracing in internal/bus.
func Tracef(format string, args ...interface{}) { logf(LevelTrace, format, args...) }

// Debugf logs at DEBUG.
func Debugf(format string, args ...interface{}) { logf(slog.LevelDebug, format, args...) }

// Infof logs at INFO.
func Infof(format string, args ...interface{}) { logf(slog.LevelInfo, format, args...) }

// Warnf logs at WARNING.
func Warnf(format string, args ...interface{}) { logf(slog.LevelWarn, format, args...) }

// Errorf logs at ERROR. Every error kind the driver surfaces to a caller is
// logged once here, at the site that detects it.
func Errorf(format string, args ...interface{}) { logf(slog.LevelError, format, args...) }
