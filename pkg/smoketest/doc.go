// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

/*
Package smoketest runs an Android app smoke test against a headless emulator.

# Overview

One run boots a named AVD, installs a debug APK, optionally stages a data file
into the app's private storage, launches the app's main activity and watches
the device log for a completion marker. The first launch gets one minute, a
single relaunch gets three more. The emulator and the adb daemon are stopped
whatever the outcome.

# Quick Start

	import "github.com/forkbombeu/avdsmoke/pkg/smoketest"

	func main() {
		runner := smoketest.New()
		result, err := runner.Run(context.Background(), smoketest.RunOptions{
			AVDName: "api-33",
			APKPath: "app/build/outputs/apk/debug/app-debug.apk",
			EnvJSON: "lib/mobile/env.json",
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(result.Attempts)
	}

# Data modes

The session configuration (a flat JSON object, usually env.json) selects how
the app gets its data:
  - IMJS_STANDALONE_FILENAME names a file under DataDir that is pushed to the
    device and moved into the app sandbox before launch.
  - IMJS_OIDC_CLIENT_ID, IMJS_OIDC_SCOPE, IMJS_OIDC_CLIENT_SECRET,
    IMJS_ITWIN_ID and IMJS_IMODEL_ID together let the app download its data.

A configuration with neither is rejected before the emulator is started.

# Environment Configuration

Paths are detected from ANDROID_HOME (or ANDROID_SDK_ROOT) and
ANDROID_AVD_HOME. Use NewWithEnv() to override them.

# Thread Safety

A Runner holds no per-run state; each Run drives its own emulator on its own
console port.
*/
package smoketest
