// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

type Env struct {
	SDKRoot     string // ANDROID_HOME or ANDROID_SDK_ROOT
	AVDHome     string // ANDROID_AVD_HOME (default: upack sibling of the SDK, else ~/.android/avd)
	EmulatorDir string // <sdk>/emulator
	Emulator    string // emulator
	ADB         string // adb
	JDKHome     string // JAVA_HOME for the emulator (default: upack openjdk_ sibling of the SDK)
	// CorrelationID is used to tie logs to a specific CI run.
	CorrelationID string
	// Context is used to parent OpenTelemetry spans.
	Context context.Context
}

func Detect() Env {
	home, _ := homedir.Dir()

	sdk := getenv("ANDROID_HOME", os.Getenv("ANDROID_SDK_ROOT"))
	// upack layout: <dir>/androidsdk_<platform> next to <dir>/androidavd_<platform>
	// and <dir>/openjdk_<platform>
	upack := strings.Contains(sdk, "/androidsdk_")
	avd := os.Getenv("ANDROID_AVD_HOME")
	if avd == "" {
		if upack {
			avd = strings.Replace(sdk, "/androidsdk_", "/androidavd_", 1)
		} else {
			avd = filepath.Join(home, ".android", "avd")
		}
	}
	jdk := os.Getenv("JAVA_HOME")
	if jdk == "" && upack {
		jdk = strings.Replace(sdk, "/androidsdk_", "/openjdk_", 1)
	}

	env := Env{
		SDKRoot:       sdk,
		AVDHome:       avd,
		JDKHome:       jdk,
		Emulator:      "emulator",
		ADB:           "adb",
		CorrelationID: getenv("AVDSMOKE_CORRELATION_ID", ""),
		Context:       context.Background(),
	}
	if sdk != "" {
		env.EmulatorDir = filepath.Join(sdk, "emulator")
		env.Emulator = filepath.Join(env.EmulatorDir, "emulator")
		env.ADB = filepath.Join(sdk, "platform-tools", "adb")
	}
	return env
}

// Verify checks that the SDK layout the session depends on is present.
func (env Env) Verify() error {
	if env.SDKRoot == "" {
		return &ConfigError{Reason: "ANDROID_HOME or ANDROID_SDK_ROOT must be set in the environment"}
	}
	dirs := []struct{ label, path string }{
		{"Android SDK", env.SDKRoot},
		{"Android emulator", env.EmulatorDir},
		{"Android virtual device", env.AVDHome},
	}
	for _, d := range dirs {
		if st, err := os.Stat(d.path); err != nil || !st.IsDir() {
			return &ConfigError{Reason: fmt.Sprintf("%s directory (%s) does not exist", d.label, d.path)}
		}
	}
	if _, err := os.Stat(env.ADB); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("Android debugger (%s) does not exist", env.ADB)}
	}
	return nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
