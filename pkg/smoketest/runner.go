// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package smoketest runs an Android app smoke test against a headless emulator.
package smoketest

import (
	"context"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forkbombeu/avdsmoke/internal/avd"
)

// Runner runs smoke-test sessions.
type Runner struct {
	env avd.Env
}

// New creates a Runner with auto-detected environment.
func New() *Runner {
	return &Runner{
		env: avd.Detect(),
	}
}

// NewWithCorrelationID creates a Runner with a correlation ID for structured logs.
func NewWithCorrelationID(correlationID string) *Runner {
	return NewWithContextAndCorrelationID(context.Background(), correlationID)
}

// NewWithContextAndCorrelationID creates a Runner with a parent context for
// tracing and a correlation ID.
func NewWithContextAndCorrelationID(ctx context.Context, correlationID string) *Runner {
	env := avd.Detect()
	if ctx == nil {
		ctx = context.Background()
	}
	env.Context = ctx
	env.CorrelationID = correlationID
	return &Runner{
		env: env,
	}
}

// NewWithEnv creates a Runner with custom environment configuration.
func NewWithEnv(env Environment) *Runner {
	ctx := env.Context
	if ctx == nil {
		ctx = context.Background()
	}
	emulatorDir := ""
	if env.EmulatorBin != "" {
		emulatorDir = filepath.Dir(env.EmulatorBin)
	}
	return &Runner{
		env: avd.Env{
			SDKRoot:       env.SDKRoot,
			AVDHome:       env.AVDHome,
			EmulatorDir:   emulatorDir,
			Emulator:      env.EmulatorBin,
			ADB:           env.ADBBin,
			CorrelationID: env.CorrelationID,
			Context:       ctx,
		},
	}
}

// Environment holds configuration for SDK tools and paths.
type Environment struct {
	SDKRoot       string          // ANDROID_HOME
	AVDHome       string          // ANDROID_AVD_HOME (default ~/.android/avd)
	EmulatorBin   string          // Path to emulator binary
	ADBBin        string          // Path to adb binary
	CorrelationID string          // Correlation ID for log enrichment
	Context       context.Context // Context for tracing
}

// RunOptions contains options for one session. Zero fields take the defaults
// of the avdsmoke CLI.
type RunOptions struct {
	AVDName   string            // AVD name (default "api-33")
	APKPath   string            // APK to install
	DataDir   string            // Directory holding the standalone data file
	EnvJSON   string            // Session configuration file
	Config    map[string]string // Session configuration; overrides EnvJSON when non-nil
	Activity  string            // Activity to launch
	Marker    string            // Completion marker in the device log
	Port      int               // Console port (0 = auto-assign)
	FirstWait time.Duration     // Budget for the first launch (default 1m)
	RetryWait time.Duration     // Budget for the relaunch (default 3m)
}

// Result summarises a finished session.
type Result struct {
	Succeeded bool          // Completion marker observed
	Mode      string        // "standalone" or "download"
	Stage     string        // Furthest stage reached
	Attempts  int           // Launches performed (1 or 2)
	APKDigest string        // BLAKE2b-256 of the installed APK
	Elapsed   time.Duration // Wall time including teardown
}

func (o RunOptions) options() avd.Options {
	opts := avd.DefaultOptions()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&opts.AVDName, o.AVDName)
	set(&opts.APKPath, o.APKPath)
	set(&opts.DataDir, o.DataDir)
	set(&opts.SessionConfigPath, o.EnvJSON)
	set(&opts.Activity, o.Activity)
	set(&opts.Marker, o.Marker)
	if o.Port != 0 {
		opts.Port = o.Port
	}
	if o.FirstWait > 0 {
		opts.FirstWait = o.FirstWait
	}
	if o.RetryWait > 0 {
		opts.RetryWait = o.RetryWait
	}
	return opts
}

// Run executes one session. The error is nil only if the completion marker
// was observed; the emulator and adb daemon are stopped either way.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Result, error) {
	ctx, span := r.startSpan(ctx, "smoketest.Run", attribute.String("avd_name", opts.AVDName))
	defer span.End()

	options := opts.options()
	source := avd.ConfigFile(options.SessionConfigPath)
	if opts.Config != nil {
		source = avd.StaticConfig(avd.NewSessionConfig(opts.Config))
	}
	env := r.env
	env.Context = ctx
	session, err := avd.NewSession(env, options, source)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	report, err := session.Run(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return Result{
		Succeeded: report.Succeeded,
		Mode:      report.Mode.String(),
		Stage:     report.Stage.String(),
		Attempts:  report.Attempts,
		APKDigest: report.Artifact.Digest,
		Elapsed:   report.Elapsed,
	}, err
}

// FixINIPath rewrites the path= line of an AVD's .ini file to point into
// the configured AVD home.
func (r *Runner) FixINIPath(name string) error {
	return avd.NewEmulator(r.env, name, 0).FixINIPath()
}

// FindFreePort finds a free even port pair for the emulator (port and port+1).
func (r *Runner) FindFreePort(start, end int) (int, error) {
	return avd.FindFreeEvenPort(start, end)
}

func (r *Runner) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = r.env.Context
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if r.env.CorrelationID != "" {
		attrs = append(attrs, attribute.String("correlation_id", r.env.CorrelationID))
	}
	return otel.Tracer("avdsmoke").Start(ctx, name, trace.WithAttributes(attrs...))
}
