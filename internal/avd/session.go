// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"go.opentelemetry.io/otel/attribute"
)

// Process is the emulator lifecycle a Session drives.
type Process interface {
	FixINIPath() error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Device is the adb command vocabulary a Session drives.
type Device interface {
	WaitForBoot(ctx context.Context) error
	InstallPackage(ctx context.Context, path string) error
	ClearLog(ctx context.Context) error
	StartActivity(ctx context.Context, activity string) error
	DumpLog(ctx context.Context) (string, error)
	Push(ctx context.Context, src, dst, failure string) error
	Shell(ctx context.Context, script, failure string) error
	StopDaemon(ctx context.Context)
}

// Stage is the furthest point a session reached.
type Stage int

const (
	StageIdle Stage = iota
	StageBooting
	StageInstalling
	StageStaging
	StageLaunching
	StagePolling
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageBooting:
		return "booting"
	case StageInstalling:
		return "installing"
	case StageStaging:
		return "staging"
	case StageLaunching:
		return "launching"
	case StagePolling:
		return "polling"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Report is the outcome of one session.
type Report struct {
	Succeeded      bool          `json:"succeeded"`
	Mode           StagingMode   `json:"mode"`
	Stage          Stage         `json:"stage"`
	Attempts       int           `json:"attempts"`
	Artifact       Artifact      `json:"artifact"`
	Elapsed        time.Duration `json:"elapsed"`
	TornDown       bool          `json:"torn_down"`
	TeardownErrors []error       `json:"-"`
}

// ConfigSource yields the session configuration once the session starts, so
// that a configuration failure still goes through teardown.
type ConfigSource func() (SessionConfig, error)

// ConfigFile reads the session configuration from a flat JSON file.
func ConfigFile(path string) ConfigSource {
	return func() (SessionConfig, error) { return LoadSessionConfig(path) }
}

func StaticConfig(config SessionConfig) ConfigSource {
	return func() (SessionConfig, error) { return config, nil }
}

// Session runs one boot, install, launch and wait cycle against one freshly
// started emulator. A Session is single-use.
type Session struct {
	env      Env
	opts     Options
	verify   func() error
	source   ConfigSource
	config   SessionConfig
	emulator Process
	device   Device

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSession wires an Emulator and a Bridge for opts. When opts.Port is zero a
// free console port is picked so every adb command can target its serial.
// The SDK layout is verified and source is read when Run starts.
func NewSession(env Env, opts Options, source ConfigSource) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	port := opts.Port
	if port == 0 {
		p, err := FindFreeEvenPort(minConsolePort, maxConsolePort+1)
		if err != nil {
			return nil, err
		}
		port = p
	}
	emu := NewEmulator(env, opts.AVDName, port, opts.EmulatorArgs...)
	return &Session{
		env:      env,
		opts:     opts,
		verify:   env.Verify,
		source:   source,
		emulator: emu,
		device:   NewBridge(env, emu.Serial()),
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the session to an outcome. The emulator and the adb daemon are
// stopped on every return path, exactly once. A nil error means the app
// logged the completion marker.
func (s *Session) Run(ctx context.Context) (report Report, err error) {
	started := s.now()
	ctx, span := startSpan(withContext(s.env, ctx), "avd.Session.Run",
		attribute.String("avd", s.opts.AVDName),
		attribute.String("activity", s.opts.Activity),
	)
	defer span.End()
	s.env = withContext(s.env, ctx)

	defer func() {
		s.teardown(context.WithoutCancel(ctx), &report)
		report.Succeeded = err == nil
		report.Elapsed = s.now().Sub(started)
		span.SetAttributes(
			attribute.Bool("succeeded", report.Succeeded),
			attribute.Int("attempts", report.Attempts),
			attribute.String("stage", report.Stage.String()),
		)
		recordSpanError(span, err)
		logEvent(s.env, "session finished",
			"succeeded", report.Succeeded,
			"mode", report.Mode.String(),
			"stage", report.Stage.String(),
			"attempts", report.Attempts,
			"elapsed", units.HumanDuration(report.Elapsed),
		)
	}()

	if err = s.run(ctx, &report); err != nil {
		logError(s.env, "session failed", "stage", report.Stage.String(), "error", err.Error())
	}
	return report, err
}

func (s *Session) run(ctx context.Context, report *Report) error {
	report.Stage = StageIdle
	if s.verify != nil {
		if err := s.verify(); err != nil {
			return err
		}
	}
	config, err := s.source()
	if err != nil {
		return err
	}
	s.config = config
	mode, err := config.Mode()
	if err != nil {
		return err
	}
	report.Mode = mode
	artifact, err := InspectArtifact(s.opts.APKPath)
	if err != nil {
		return err
	}
	report.Artifact = artifact
	logEvent(s.env, "build artifact found",
		"apk", artifact.Path,
		"size", units.HumanSize(float64(artifact.SizeBytes)),
		"blake2b", artifact.Digest,
	)

	report.Stage = StageBooting
	logEvent(s.env, "fixing emulator ini path", "avd", s.opts.AVDName)
	if err := s.emulator.FixINIPath(); err != nil {
		return &LaunchError{Name: s.opts.AVDName, Err: err}
	}
	logEvent(s.env, "starting emulator", "avd", s.opts.AVDName)
	if err := s.emulator.Start(ctx); err != nil {
		return err
	}
	if err := s.device.WaitForBoot(ctx); err != nil {
		return err
	}
	logEvent(s.env, "emulator booted", "avd", s.opts.AVDName)

	report.Stage = StageInstalling
	logEvent(s.env, "installing apk", "apk", artifact.Path)
	if err := s.device.InstallPackage(ctx, artifact.Path); err != nil {
		return err
	}
	logEvent(s.env, "apk installed", "apk", artifact.Path)

	if file, ok := s.config.StandaloneFile(); ok && mode == ModeStandalone {
		report.Stage = StageStaging
		if err := s.stageData(ctx, file); err != nil {
			return err
		}
	}

	return s.launchAndWait(ctx, report)
}

// launchAndWait starts the app and polls for the marker; one timeout is
// retried with the longer RetryWait budget, a second one is final.
func (s *Session) launchAndWait(ctx context.Context, report *Report) error {
	budgets := []time.Duration{s.opts.FirstWait, s.opts.RetryWait}
	var lastErr error
	for i, budget := range budgets {
		report.Attempts = i + 1
		report.Stage = StageLaunching
		if err := s.launch(ctx); err != nil {
			return err
		}
		report.Stage = StagePolling
		err := s.waitForMarker(ctx, budget)
		if err == nil {
			return nil
		}
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			return err
		}
		lastErr = err
		if i < len(budgets)-1 {
			logEvent(s.env, "completion marker not seen, relaunching",
				"attempt", i+1,
				"next_wait", units.HumanDuration(budgets[i+1]),
			)
		}
	}
	return lastErr
}

// launch clears the log right before starting the activity so the marker
// cannot match a previous run.
func (s *Session) launch(ctx context.Context) error {
	logEvent(s.env, "starting app", "activity", s.opts.Activity)
	if err := s.device.ClearLog(ctx); err != nil {
		return err
	}
	if err := s.device.StartActivity(ctx, s.opts.Activity); err != nil {
		return err
	}
	logEvent(s.env, "app started", "activity", s.opts.Activity)
	return nil
}

func (s *Session) waitForMarker(ctx context.Context, budget time.Duration) error {
	_, span := startSpan(s.env, "avd.Session.WaitForMarker", attribute.String("budget", budget.String()))
	defer span.End()
	logEvent(s.env, "waiting for completion marker", "budget", budget.String())

	start := s.now()
	polls := 0
	for {
		polls++
		out, err := s.device.DumpLog(ctx)
		if err != nil {
			// snapshot reads are retried until the budget runs out
			logDebug(s.env, "log snapshot failed", "error", err.Error())
		} else if strings.Contains(out, s.opts.Marker) {
			elapsed := s.now().Sub(start)
			span.SetAttributes(attribute.Int("polls", polls), attribute.Bool("found", true))
			logEvent(s.env, "completion marker found", "elapsed", elapsed.String(), "polls", polls)
			return nil
		}
		if s.now().Sub(start) >= budget {
			err := &TimeoutError{Marker: s.opts.Marker, Budget: budget}
			span.SetAttributes(attribute.Int("polls", polls), attribute.Bool("found", false))
			recordSpanError(span, err)
			logError(s.env, "timed out waiting for completion marker", "budget", budget.String(), "polls", polls)
			return err
		}
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			return err
		}
	}
}

// teardown never fails the session; errors are logged and kept on the report.
func (s *Session) teardown(ctx context.Context, report *Report) {
	logEvent(s.env, "stopping emulator", "avd", s.opts.AVDName)
	if err := s.emulator.Stop(ctx); err != nil {
		logError(s.env, "emulator stop failed", "error", err.Error())
		report.TeardownErrors = append(report.TeardownErrors, err)
	}
	s.device.StopDaemon(ctx)
	report.TornDown = true
}
