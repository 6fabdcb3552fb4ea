// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// bootScript spins inside the device shell until Android reports boot completion.
const bootScript = "while [[ -z $(getprop sys.boot_completed) ]]; do sleep 1; done;"

// Bridge issues adb commands against one emulator.
type Bridge struct {
	env    Env
	serial string
}

// NewBridge targets serial, or the only running emulator (-e) when serial is empty.
func NewBridge(env Env, serial string) *Bridge {
	return &Bridge{env: env, serial: serial}
}

func (b *Bridge) target() []string {
	if b.serial != "" {
		return []string{"-s", b.serial}
	}
	return []string{"-e"}
}

func (b *Bridge) adbArgs(args ...string) []string {
	return append(b.target(), args...)
}

// RunCommand runs adb with args; a non-zero exit becomes a *CommandError
// whose message is failure.
func (b *Bridge) RunCommand(ctx context.Context, failure string, args ...string) error {
	return run(ctx, b.env, failure, nil, nil, b.env.ADB, b.adbArgs(args...)...)
}

// WaitForBoot blocks until the device reports sys.boot_completed. There is no
// timeout here: adb itself retries until the device shows up.
func (b *Bridge) WaitForBoot(ctx context.Context) error {
	_, span := startSpan(withContext(b.env, ctx), "avd.Bridge.WaitForBoot", attribute.String("serial", b.serial))
	defer span.End()
	err := b.RunCommand(ctx, "Error waiting for emulator to boot!", "wait-for-device", "shell", bootScript)
	recordSpanError(span, err)
	return err
}

func (b *Bridge) InstallPackage(ctx context.Context, path string) error {
	_, span := startSpan(withContext(b.env, ctx), "avd.Bridge.InstallPackage", attribute.String("apk", path))
	defer span.End()
	err := b.RunCommand(ctx, "Error installing APK!", "install", "-r", "-g", path)
	recordSpanError(span, err)
	return err
}

func (b *Bridge) ClearLog(ctx context.Context) error {
	return b.RunCommand(ctx, "Error clearing adb logcat!", "logcat", "-c")
}

// StartActivity (re)starts the activity; -S force-stops a previous instance.
func (b *Bridge) StartActivity(ctx context.Context, activity string) error {
	_, span := startSpan(withContext(b.env, ctx), "avd.Bridge.StartActivity", attribute.String("activity", activity))
	defer span.End()
	err := b.RunCommand(ctx, "Error starting "+activity+"!",
		"shell", "am", "start", "-S", "-n", activity, "-a", "android.intent.action.MAIN")
	recordSpanError(span, err)
	return err
}

// DumpLog returns a snapshot of the log buffer; it never waits for new lines.
func (b *Bridge) DumpLog(ctx context.Context) (string, error) {
	return output(ctx, b.env, "Error dumping adb logcat!", b.env.ADB, b.adbArgs("logcat", "-d")...)
}

// Push copies a host file to the device.
func (b *Bridge) Push(ctx context.Context, src, dst, failure string) error {
	return b.RunCommand(ctx, failure, "push", src, dst)
}

// Shell feeds script to an interactive device shell on stdin. Commands that
// need su have to be sent this way; su does not accept them as arguments.
func (b *Bridge) Shell(ctx context.Context, script, failure string) error {
	return run(ctx, b.env, failure, strings.NewReader(script), nil, b.env.ADB, b.adbArgs("shell")...)
}

// StopDaemon kills the adb server. Failure only means it was not running.
func (b *Bridge) StopDaemon(ctx context.Context) {
	logEvent(b.env, "stopping adb daemon")
	if err := run(ctx, b.env, "adb daemon not running", nil, nil, b.env.ADB, "kill-server"); err != nil {
		logEvent(b.env, "adb daemon not running", "error", err.Error())
		return
	}
	logEvent(b.env, "adb daemon stopped")
}
