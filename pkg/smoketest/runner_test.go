// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package smoketest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return recorder
}

func TestRunnerStartSpanAttributes(t *testing.T) {
	recorder := recordSpans(t)

	runner := NewWithContextAndCorrelationID(context.Background(), "corr-123")
	_, span := runner.startSpan(
		context.Background(),
		"smoketest.Run",
		attribute.String("avd_name", "api-33"),
		attribute.Int("port", 5580),
	)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := map[string]any{}
	for _, attr := range spans[0].Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	assert.Equal(t, "corr-123", attrs["correlation_id"])
	assert.Equal(t, "api-33", attrs["avd_name"])
	assert.Equal(t, int64(5580), attrs["port"])
}

func TestRunOptionsDefaults(t *testing.T) {
	opts := RunOptions{}.options()
	assert.Equal(t, "api-33", opts.AVDName)
	assert.Equal(t, "com.bentley.imodeljs_test_app/.MainActivity", opts.Activity)
	assert.Equal(t, time.Minute, opts.FirstWait)
	assert.Equal(t, 3*time.Minute, opts.RetryWait)
	assert.Zero(t, opts.Port)

	opts = RunOptions{AVDName: "pixel", Port: 5560, FirstWait: time.Second, Marker: "done"}.options()
	assert.Equal(t, "pixel", opts.AVDName)
	assert.Equal(t, 5560, opts.Port)
	assert.Equal(t, time.Second, opts.FirstWait)
	assert.Equal(t, 3*time.Minute, opts.RetryWait)
	assert.Equal(t, "done", opts.Marker)
}

func TestRunRejectsMissingSDK(t *testing.T) {
	runner := NewWithEnv(Environment{AVDHome: t.TempDir()})
	result, err := runner.Run(context.Background(), RunOptions{Config: map[string]string{}})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.False(t, result.Succeeded)
}

// newStubSDK lays out an SDK whose adb appends its arguments to calls.log.
func newStubSDK(t *testing.T) (Environment, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub adb is a shell script")
	}
	sdk := t.TempDir()
	emulatorDir := filepath.Join(sdk, "emulator")
	adb := filepath.Join(sdk, "platform-tools", "adb")
	calls := filepath.Join(sdk, "calls.log")
	require.NoError(t, os.MkdirAll(emulatorDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(adb), 0o755))
	script := "#!/bin/sh\necho \"$@\" >> '" + calls + "'\nexit 0\n"
	require.NoError(t, os.WriteFile(adb, []byte(script), 0o755))
	return Environment{
		SDKRoot:       sdk,
		AVDHome:       t.TempDir(),
		EmulatorBin:   filepath.Join(emulatorDir, "emulator"),
		ADBBin:        adb,
		CorrelationID: "corr-run",
	}, calls
}

func TestRunRejectsUnconfiguredSession(t *testing.T) {
	env, _ := newStubSDK(t)
	recorder := recordSpans(t)

	runner := NewWithEnv(env)
	result, err := runner.Run(context.Background(), RunOptions{
		Config: map[string]string{"IMJS_OIDC_CLIENT_ID": "only-one"},
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.False(t, result.Succeeded)
	assert.Equal(t, "idle", result.Stage)
	assert.Equal(t, "unknown", result.Mode)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() == "smoketest.Run" {
			found = true
			assert.NotEmpty(t, span.Events(), "expected the configuration error to be recorded")
		}
	}
	assert.True(t, found)
}

func TestRunMissingEnvJSONStillStopsDaemon(t *testing.T) {
	env, calls := newStubSDK(t)

	runner := NewWithEnv(env)
	result, err := runner.Run(context.Background(), RunOptions{
		EnvJSON: filepath.Join(t.TempDir(), "missing-env.json"),
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.False(t, result.Succeeded)

	b, err := os.ReadFile(calls)
	require.NoError(t, err)
	assert.Equal(t, "kill-server", strings.TrimSpace(string(b)))
}
