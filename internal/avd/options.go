// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"fmt"
	"time"
)

// Emulator console ports are even and limited to this range; adb uses port+1.
const (
	minConsolePort = 5554
	maxConsolePort = 5682
)

// Options are the per-run settings of a Session.
type Options struct {
	AVDName           string
	APKPath           string
	DataDir           string // host directory holding standalone data files
	SessionConfigPath string // env.json
	Activity          string
	Marker            string
	DeviceDataDir     string // app-private directory staged files end up in
	Port              int    // emulator console port; 0 picks a free one
	EmulatorArgs      []string
	FirstWait         time.Duration
	RetryWait         time.Duration
	PollInterval      time.Duration
}

func DefaultOptions() Options {
	return Options{
		AVDName:           "api-33",
		APKPath:           "android/imodeljs-test-app/app/build/outputs/apk/debug/app-debug.apk",
		DataDir:           "test-models",
		SessionConfigPath: "lib/mobile/env.json",
		Activity:          "com.bentley.imodeljs_test_app/.MainActivity",
		Marker:            "com.bentley.display_test_app: First render finished.",
		DeviceDataDir:     "/storage/emulated/0/Android/data/com.bentley.imodeljs_test_app/files/bim_cache",
		FirstWait:         1 * time.Minute,
		RetryWait:         3 * time.Minute,
		PollInterval:      1 * time.Second,
	}
}

func (o Options) Validate() error {
	var errs []error
	req := func(v, name string) {
		if v == "" {
			errs = append(errs, &ConfigError{Reason: name + " is required"})
		}
	}
	req(o.AVDName, "AVD name")
	req(o.APKPath, "APK path")
	req(o.Activity, "activity")
	req(o.Marker, "completion marker")
	req(o.DeviceDataDir, "device data directory")
	if o.Port != 0 && (o.Port%2 != 0 || o.Port < minConsolePort || o.Port > maxConsolePort) {
		errs = append(errs, &ConfigError{Reason: fmt.Sprintf("port must be even and within %d-%d", minConsolePort, maxConsolePort)})
	}
	if o.FirstWait <= 0 || o.RetryWait <= 0 {
		errs = append(errs, &ConfigError{Reason: "wait budgets must be positive"})
	}
	if o.PollInterval <= 0 {
		errs = append(errs, &ConfigError{Reason: "poll interval must be positive"})
	}
	return errors.Join(errs...)
}
