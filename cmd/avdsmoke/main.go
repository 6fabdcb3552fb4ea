// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	core "github.com/forkbombeu/avdsmoke/internal/avd"
)

func main() {
	ctx := context.Background()
	shutdown, err := setupTracing(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracing disabled:", err)
	}
	code := 0
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	if err := shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tracing shutdown:", err)
	}
	os.Exit(code)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var debug bool

	root := &cobra.Command{
		Use:           "avdsmoke",
		Short:         "Boot an AVD, install and launch an app, and wait for it to report completion (CI-friendly)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				core.SetLogLevel(slog.LevelDebug)
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "options file (yaml, toml or json); flags and AVDSMOKE_* env vars override it")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output, including emulator console output")

	// run
	var printReport bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one smoke-test session; exit status 0 only if the completion marker was seen",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			env := detectEnv(cmd.Context())
			session, err := core.NewSession(env, opts, core.ConfigFile(opts.SessionConfigPath))
			if err != nil {
				return err
			}
			report, runErr := session.Run(cmd.Context())
			if printReport {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return errors.Join(runErr, err)
				}
			}
			return runErr
		},
	}
	bindRunFlags(runCmd.Flags())
	runCmd.Flags().BoolVar(&printReport, "report", false, "print the session report as JSON on stdout")
	root.AddCommand(runCmd)

	// fix-ini
	var fixName string
	fixCmd := &cobra.Command{
		Use:   "fix-ini",
		Short: "Point the AVD's .ini path at ANDROID_AVD_HOME (for relocated AVD directories)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixName == "" {
				return errors.New("--avd is required")
			}
			env := detectEnv(cmd.Context())
			return core.NewEmulator(env, fixName, 0).FixINIPath()
		},
	}
	fixCmd.Flags().StringVar(&fixName, "avd", core.DefaultOptions().AVDName, "AVD name")
	root.AddCommand(fixCmd)

	// env
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Print the resolved Android SDK environment as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := core.Detect()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{
				"sdk_root":     env.SDKRoot,
				"avd_home":     env.AVDHome,
				"emulator_dir": env.EmulatorDir,
				"emulator":     env.Emulator,
				"adb":          env.ADB,
			})
		},
	}
	root.AddCommand(envCmd)

	return root
}

func detectEnv(ctx context.Context) core.Env {
	env := core.Detect()
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	if ctx != nil {
		env.Context = ctx
	}
	return env
}
