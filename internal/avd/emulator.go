// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// EmulatorState is the lifecycle position of an Emulator.
type EmulatorState int

const (
	EmulatorNotStarted EmulatorState = iota
	EmulatorStarting
	EmulatorRunning
	EmulatorFailed
	EmulatorStopped
)

func (s EmulatorState) String() string {
	switch s {
	case EmulatorNotStarted:
		return "not started"
	case EmulatorStarting:
		return "starting"
	case EmulatorRunning:
		return "running"
	case EmulatorFailed:
		return "failed"
	case EmulatorStopped:
		return "stopped"
	}
	return fmt.Sprintf("EmulatorState(%d)", int(s))
}

const defaultStopGrace = 10 * time.Second

// Emulator owns exactly one emulator process for one AVD.
type Emulator struct {
	env       Env
	name      string
	home      string
	port      int
	extraArgs []string
	stopGrace time.Duration

	mu        sync.Mutex
	state     EmulatorState
	cmd       *exec.Cmd
	exited    chan struct{}
	waitErr   error
	launchErr error
}

// NewEmulator prepares (but does not start) the AVD name under env.AVDHome.
// A zero port lets the emulator pick its own console port.
func NewEmulator(env Env, name string, port int, extraArgs ...string) *Emulator {
	return &Emulator{
		env:       env,
		name:      name,
		home:      env.AVDHome,
		port:      port,
		extraArgs: extraArgs,
		stopGrace: defaultStopGrace,
	}
}

func (e *Emulator) Name() string { return e.name }

// Serial is the adb serial of the emulator, or "" when the port is not pinned.
func (e *Emulator) Serial() string {
	if e.port == 0 {
		return ""
	}
	return fmt.Sprintf("emulator-%d", e.port)
}

func (e *Emulator) State() EmulatorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PID returns the emulator process id, or 0 when no process exists.
func (e *Emulator) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

func (e *Emulator) iniPath() string { return filepath.Join(e.home, e.name+".ini") }

// FixINIPath rewrites the path= line of <home>/<name>.ini to point at
// <home>/<name>.avd. Every other line is preserved.
func (e *Emulator) FixINIPath() error {
	ini := e.iniPath()
	b, err := os.ReadFile(ini)
	if err != nil {
		return fmt.Errorf("read ini: %w", err)
	}
	want := "path=" + filepath.Join(e.home, e.name+".avd")
	lines := strings.Split(string(b), "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "path=") {
			lines[i] = want
			if strings.HasSuffix(l, "\r") {
				lines[i] += "\r"
			}
		}
	}
	fixed := strings.Join(lines, "\n")
	if fixed == string(b) {
		return nil
	}
	st, err := os.Stat(ini)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ini, []byte(fixed), st.Mode().Perm()); err != nil {
		return fmt.Errorf("write ini: %w", err)
	}
	logEvent(e.env, "emulator ini path fixed", "ini", ini, "path", want)
	return nil
}

func (e *Emulator) args() []string {
	args := []string{
		"-avd", e.name,
		"-no-snapshot",
		"-no-window",
		"-no-boot-anim",
		"-no-audio",
		"-no-metrics",
		"-gpu", "swiftshader_indirect",
	}
	if e.port > 0 {
		args = append(args, "-port", fmt.Sprint(e.port))
	}
	return append(args, e.extraArgs...)
}

type launchResult struct {
	cmd *exec.Cmd
	err error
}

// Start launches the emulator on a background goroutine and returns once the
// process exists (nil) or the launch failed (*LaunchError). It does not wait
// for Android to boot.
func (e *Emulator) Start(ctx context.Context) error {
	_, span := startSpan(withContext(e.env, ctx), "avd.Emulator.Start",
		attribute.String("name", e.name),
		attribute.Int("port", e.port),
	)
	defer span.End()

	// held through the handshake so Stop cannot slip in mid-launch
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EmulatorNotStarted {
		err := fmt.Errorf("emulator %s already %s", e.name, e.state)
		recordSpanError(span, err)
		return err
	}
	e.state = EmulatorStarting

	logEvent(e.env, "emulator start requested", "name", e.name, "port", e.port)

	// One-shot handoff: the launcher sends exactly one result, then keeps
	// waiting on the process until it exits.
	ready := make(chan launchResult, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		cmd := exec.Command(e.env.Emulator, e.args()...)
		cmd.Dir = e.env.EmulatorDir
		cmd.Env = append(os.Environ(), "ANDROID_AVD_HOME="+e.home, "QEMU_FILE_LOCKING=off")
		if e.env.JDKHome != "" {
			cmd.Env = append(cmd.Env, "JAVA_HOME="+e.env.JDKHome)
		}
		out := newEmulatorLogWriter(e.env, "name", e.name, "port", e.port)
		cmd.Stdout = out
		cmd.Stderr = out
		cmd.WaitDelay = 5 * time.Second
		if err := cmd.Start(); err != nil {
			ready <- launchResult{err: err}
			return
		}
		ready <- launchResult{cmd: cmd}
		// read only after exited is closed
		e.waitErr = cmd.Wait()
	}()

	res := <-ready
	e.exited = exited
	if res.err != nil {
		e.state = EmulatorFailed
		e.launchErr = &LaunchError{Name: e.name, Err: res.err}
		recordSpanError(span, e.launchErr)
		logError(e.env, "emulator start failed", "name", e.name, "error", res.err)
		return e.launchErr
	}
	e.cmd = res.cmd
	e.state = EmulatorRunning
	span.SetAttributes(attribute.Int("pid", res.cmd.Process.Pid))
	logEvent(e.env, "emulator started", "name", e.name, "pid", res.cmd.Process.Pid, "serial", e.Serial())
	return nil
}

func (e *Emulator) alive() bool {
	if e.exited == nil {
		return false
	}
	select {
	case <-e.exited:
		return false
	default:
		return true
	}
}

// Stop terminates a running emulator and waits for the process to exit.
// It is a no-op unless the emulator is running, so it is safe to call before
// Start, after a failed Start, or twice.
func (e *Emulator) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EmulatorRunning {
		return nil
	}
	_, span := startSpan(withContext(e.env, ctx), "avd.Emulator.Stop",
		attribute.String("name", e.name),
		attribute.Int("pid", e.cmd.Process.Pid),
	)
	defer span.End()
	logEvent(e.env, "emulator stop requested", "name", e.name, "pid", e.cmd.Process.Pid)

	e.state = EmulatorStopped
	if !e.alive() {
		logEvent(e.env, "emulator already exited", "name", e.name)
		return nil
	}

	proc := e.cmd.Process
	forced := false
	if err := proc.Signal(syscall.SIGTERM); err == nil {
		select {
		case <-e.exited:
		case <-time.After(e.stopGrace):
			forced = true
		}
	} else {
		forced = true
	}
	if forced {
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			err = fmt.Errorf("kill emulator %s: %w", e.name, err)
			recordSpanError(span, err)
			return err
		}
	}
	<-e.exited

	span.SetAttributes(attribute.Bool("forced", forced))
	logEvent(e.env, "emulator stopped", "name", e.name, "forced", forced, "exit", fmt.Sprint(e.waitErr))
	return nil
}

// FindFreeEvenPort returns the first free even port in [start, end) (emulator uses port and port+1).
func FindFreeEvenPort(start, end int) (int, error) {
	if start%2 != 0 {
		start++
	}
	for p := start; p < end; p += 2 {
		l1, err1 := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err1 != nil {
			continue
		}
		l2, err2 := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p+1))
		if err2 != nil {
			_ = l1.Close()
			continue
		}
		_ = l1.Close()
		_ = l2.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free even port found in %d..%d", start, end)
}
