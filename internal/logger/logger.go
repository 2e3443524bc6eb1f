// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger is the leveled logger used throughout the capture and
// metadata codec packages. Warnings and diagnostics go through here
// rather than through fmt.Println, so severity and format are
// configurable without threading a logger value through every call.
// Per-dentry progress events ("ok"/"excluded"/"unsupported") are not
// logged here; capture reports them through its Params.Progress
// callback.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ant04x/wimlib/cfg"
	"github.com/ant04x/wimlib/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Custom levels, spaced like slog's own builtin levels so Trace sits
// below Debug and Off sits above Error.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig cfg.LogRotateConfig
}

var defaultLoggerFactory = &loggerFactory{
	level:           config.INFO,
	format:          string(cfg.JSONLogFormat),
	logRotateConfig: cfg.DefaultLogRotateConfig(),
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel(config.INFO), ""))

// programLevel returns a fresh slog.LevelVar preset to the given
// severity string, used both at init time and by tests.
func programLevel(severity string) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(severity, v)
	return v
}

func setLoggingLevel(severity string, level *slog.LevelVar) {
	switch severity {
	case config.TRACE:
		level.Set(LevelTrace)
	case config.DEBUG:
		level.Set(LevelDebug)
	case config.INFO:
		level.Set(LevelInfo)
	case config.WARNING:
		level.Set(LevelWarn)
	case config.ERROR:
		level.Set(LevelError)
	case config.OFF:
		level.Set(LevelOff)
	default:
		level.Set(LevelInfo)
	}
}

// createJsonOrTextHandler builds a slog.Handler that writes either
// "time=... severity=... message=..." text lines or
// {"timestamp":{...},"severity":...,"message":...} JSON lines,
// optionally prefixing every message (used by tests to tag output).
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &severityHandler{w: w, level: level, prefix: prefix, json: f.format != string(cfg.TextLogFormat)}
}

// severityHandler renders log records the way gcsfuse's own logger
// does: a single flat line per record, not slog's default key=value
// attribute dump, because the fixed (time, severity, message) shape is
// what downstream log collectors expect.
type severityHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
	json   bool
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	msg := h.prefix + r.Message

	if h.json {
		type ts struct {
			Seconds int64 `json:"seconds"`
			Nanos   int   `json:"nanos"`
		}
		payload := struct {
			Timestamp ts     `json:"timestamp"`
			Severity  string `json:"severity"`
			Message   string `json:"message"`
		}{
			Timestamp: ts{Seconds: r.Time.Unix(), Nanos: r.Time.Nanosecond()},
			Severity:  sev,
			Message:   msg,
		}
		enc := json.NewEncoder(h.w)
		return enc.Encode(payload)
	}

	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n", r.Time.Format("2006/01/02 15:04:05.000000"), sev, msg)
	return err
}

func (h *severityHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *severityHandler) WithGroup(_ string) slog.Handler      { return h }

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	case l < LevelOff:
		return "ERROR"
	default:
		return "ERROR"
	}
}

// InitLogFile points the default logger at a rotating file sink
// configured by c, or leaves it on stderr when c.FilePath is empty.
func InitLogFile(c cfg.LoggingConfig) error {
	level := string(c.Severity)
	if level == "" {
		level = config.INFO
	}
	format := string(c.Format)
	if format == "" {
		format = string(cfg.JSONLogFormat)
	}

	defaultLoggerFactory = &loggerFactory{
		format:          format,
		level:           level,
		logRotateConfig: c.LogRotate,
	}

	var w io.Writer = os.Stderr
	if c.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(c.FilePath),
			MaxSize:    c.LogRotate.MaxFileSizeMB,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
		f, err := os.OpenFile(string(c.FilePath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defaultLoggerFactory.file = f
		w = NewAsyncLogger(lj, 256)
	}

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel(level), ""))
	return nil
}

// SetLogFormat switches the default logger's output format at runtime.
// The format is stored as given; any value other than "text" (including
// "") produces JSON output.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format

	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	} else if defaultLoggerFactory.sysWriter != nil {
		w = defaultLoggerFactory.sysWriter
	}

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel(defaultLoggerFactory.level), ""))
}

func Tracef(format string, v ...any) { defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...)) }
func Debugf(format string, v ...any) { defaultLogger.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { defaultLogger.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { defaultLogger.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { defaultLogger.Error(fmt.Sprintf(format, v...)) }
