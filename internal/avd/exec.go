// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"context"
	"io"
	"os/exec"
)

// run executes bin and maps a non-zero exit to a CommandError carrying failure.
// Output goes to the log unless stdout is given; stdin is optional.
func run(ctx context.Context, env Env, failure string, stdin io.Reader, stdout io.Writer, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = stdin
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = newCommandLogWriter(env, bin, args, "stdout")
	}
	cmd.Stderr = newCommandLogWriter(env, bin, args, "stderr")
	if err := cmd.Run(); err != nil {
		return &CommandError{
			Message: failure,
			Command: append([]string{bin}, args...),
			Err:     err,
		}
	}
	return nil
}

// output runs bin and returns its stdout.
func output(ctx context.Context, env Env, failure string, bin string, args ...string) (string, error) {
	var buf bytes.Buffer
	if err := run(ctx, env, failure, nil, &buf, bin, args...); err != nil {
		return "", err
	}
	return buf.String(), nil
}
