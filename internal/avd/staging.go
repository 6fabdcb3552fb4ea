// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	units "github.com/docker/go-units"
	"go.opentelemetry.io/otel/attribute"
)

const deviceScratchDir = "/sdcard"

// stagingScript moves a pushed file into the app sandbox as root and makes it
// readable and writable by the app user, which does not own it after the move.
func stagingScript(tmp, dstDir, dst string) string {
	return fmt.Sprintf("su\nmkdir -p %s\nmv %s %s\nchmod 666 %s\n", dstDir, tmp, dst, dst)
}

// stageData copies the standalone data file onto the device and relocates it
// into the app's private storage. adb cannot push there directly.
func (s *Session) stageData(ctx context.Context, file string) error {
	_, span := startSpan(s.env, "avd.Session.StageData", attribute.String("file", file))
	defer span.End()

	src := filepath.Join(s.opts.DataDir, file)
	st, err := os.Stat(src)
	if err != nil {
		err = &ConfigError{Reason: fmt.Sprintf("data file %s not found", src), Err: err}
		recordSpanError(span, err)
		return err
	}
	tmp := path.Join(deviceScratchDir, file)
	dst := path.Join(s.opts.DeviceDataDir, file)

	logEvent(s.env, "staging data file", "file", file, "size", units.HumanSize(float64(st.Size())), "dst", dst)
	if err := s.device.Push(ctx, src, tmp, fmt.Sprintf("Error copying %s to emulator!", file)); err != nil {
		recordSpanError(span, err)
		return err
	}
	script := stagingScript(tmp, s.opts.DeviceDataDir, dst)
	if err := s.device.Shell(ctx, script, fmt.Sprintf("Error moving %s to app sandbox!", file)); err != nil {
		recordSpanError(span, err)
		return err
	}
	logEvent(s.env, "data file staged", "file", file, "dst", dst)
	return nil
}
