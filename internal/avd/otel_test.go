// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDeviceAndEmulatorSpansNestUnderCaller(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})

	env, _ := newStubADB(t)
	emuEnv := newEmulatorEnv(t, sleepyEmulator)
	env.AVDHome, env.EmulatorDir, env.Emulator = emuEnv.AVDHome, emuEnv.EmulatorDir, emuEnv.Emulator
	env.CorrelationID = "corr-span"

	// components built before the run context exists, as NewSession does
	emu := NewEmulator(env, "api-33", 5580)
	emu.stopGrace = 5 * time.Second
	bridge := NewBridge(env, emu.Serial())

	ctx, parent := startSpan(env, "avd.Session.Run")
	require.NoError(t, emu.Start(ctx))
	require.NoError(t, bridge.WaitForBoot(ctx))
	require.NoError(t, emu.Stop(ctx))
	parent.End()

	want := parent.SpanContext().SpanID()
	children := map[string]bool{}
	for _, span := range recorder.Ended() {
		if span.Name() == "avd.Session.Run" {
			continue
		}
		assert.Equal(t, want, span.Parent().SpanID(), "span %s", span.Name())
		children[span.Name()] = true
	}
	assert.True(t, children["avd.Emulator.Start"])
	assert.True(t, children["avd.Bridge.WaitForBoot"])
	assert.True(t, children["avd.Emulator.Stop"])
}
