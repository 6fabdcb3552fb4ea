// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

var logLevel = new(slog.LevelVar)

// stderr only: stdout is reserved for machine-readable output.
var avdLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: logLevel,
}))

// SetLogLevel adjusts the minimum level of the session logger.
func SetLogLevel(level slog.Level) { logLevel.Set(level) }

func logEvent(env Env, message string, fields ...any) {
	logAt(env, slog.LevelInfo, message, fields...)
}

func logError(env Env, message string, fields ...any) {
	logAt(env, slog.LevelError, message, fields...)
}

func logDebug(env Env, message string, fields ...any) {
	logAt(env, slog.LevelDebug, message, fields...)
}

func logAt(env Env, level slog.Level, message string, fields ...any) {
	ctx := spanContext(env)
	if !avdLogger.Enabled(ctx, level) {
		return
	}
	baseFields := []any{"timestamp_ns", time.Now().UTC().UnixNano()}
	if env.CorrelationID != "" {
		baseFields = append(baseFields, "correlation_id", env.CorrelationID)
	}
	allFields := append(baseFields, fields...)
	avdLogger.Log(ctx, level, message, allFields...)
	mirrorLog(ctx, level, message, allFields)
}

// mirrorLog forwards the record to the OpenTelemetry logs API; a no-op unless
// a logger provider has been installed.
func mirrorLog(ctx context.Context, level slog.Level, message string, fields []any) {
	var rec otellog.Record
	rec.SetTimestamp(time.Now())
	rec.SetBody(otellog.StringValue(message))
	rec.SetSeverityText(level.String())
	switch {
	case level >= slog.LevelError:
		rec.SetSeverity(otellog.SeverityError)
	case level >= slog.LevelWarn:
		rec.SetSeverity(otellog.SeverityWarn)
	case level >= slog.LevelInfo:
		rec.SetSeverity(otellog.SeverityInfo)
	default:
		rec.SetSeverity(otellog.SeverityDebug)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		rec.AddAttributes(otellog.String(key, fmt.Sprint(fields[i+1])))
	}
	global.GetLoggerProvider().Logger("avdsmoke").Emit(ctx, rec)
}

type lineLogWriter struct {
	env    Env
	fields []any
	buffer []byte
	msg    string
	level  slog.Level
}

func (writer *lineLogWriter) Write(payload []byte) (int, error) {
	writer.buffer = append(writer.buffer, payload...)
	for {
		newlineIndex := bytes.IndexByte(writer.buffer, '\n')
		if newlineIndex == -1 {
			break
		}
		line := strings.TrimSpace(string(writer.buffer[:newlineIndex]))
		writer.buffer = writer.buffer[newlineIndex+1:]
		if line != "" {
			logAt(writer.env, writer.level, writer.msg, append(writer.fields, "line", line)...)
		}
	}
	return len(payload), nil
}

func newLineLogWriterWithMessage(env Env, level slog.Level, message string, fields ...any) io.Writer {
	return &lineLogWriter{
		env:    env,
		fields: fields,
		msg:    message,
		level:  level,
	}
}

func newEmulatorLogWriter(env Env, fields ...any) io.Writer {
	return newLineLogWriterWithMessage(env, slog.LevelDebug, "emulator output", fields...)
}

func newCommandLogWriter(env Env, command string, args []string, stream string) io.Writer {
	fields := []any{"command", command, "stream", stream}
	if len(args) > 0 {
		fields = append(fields, "args", strings.Join(args, " "))
	}
	return newLineLogWriterWithMessage(env, slog.LevelInfo, "command "+stream, fields...)
}
