// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"
)

// ConfigError reports a session that cannot run with the configuration it was given.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{errdefs.ErrInvalidArgument, e.Err}
	}
	return []error{errdefs.ErrInvalidArgument}
}

// LaunchError is the error captured by the emulator's background launcher.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("emulator %s failed to launch: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{errdefs.ErrUnavailable, e.Err} }

// CommandError is a device command that exited non-zero. Message is the
// human-readable cause supplied by the caller.
type CommandError struct {
	Message string
	Command []string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s (%s: %v)", e.Message, strings.Join(e.Command, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// TimeoutError is returned when the completion marker is not seen within the budget.
type TimeoutError struct {
	Marker string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("marker %q not observed within %s", e.Marker, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
