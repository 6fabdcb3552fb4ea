// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	core "github.com/forkbombeu/avdsmoke/internal/avd"
)

func bindRunFlags(fs *pflag.FlagSet) {
	def := core.DefaultOptions()
	fs.String("avd", def.AVDName, "AVD name")
	fs.String("apk", def.APKPath, "APK to install")
	fs.String("data-dir", def.DataDir, "directory holding the standalone data file")
	fs.String("env-json", def.SessionConfigPath, "session configuration (flat JSON object)")
	fs.String("activity", def.Activity, "activity to launch")
	fs.String("marker", def.Marker, "log line that signals the app finished its first work")
	fs.String("device-data-dir", def.DeviceDataDir, "app-private directory on the device for staged data")
	fs.Int("port", def.Port, "even emulator console port (auto if 0)")
	fs.StringSlice("emulator-arg", nil, "extra emulator argument (repeatable)")
	fs.Duration("first-wait", def.FirstWait, "wait for the marker on the first launch")
	fs.Duration("retry-wait", def.RetryWait, "wait for the marker on the single relaunch")
	fs.Duration("poll-interval", def.PollInterval, "pause between log snapshots")
}

// loadOptions layers flags over AVDSMOKE_* env vars over the optional config file.
func loadOptions(fs *pflag.FlagSet, cfgFile string) (core.Options, error) {
	v := viper.New()
	v.SetEnvPrefix("AVDSMOKE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return core.Options{}, err
	}
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return core.Options{}, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return core.Options{}, fmt.Errorf("read options %s: %w", path, err)
		}
	}

	opts := core.Options{
		AVDName:       v.GetString("avd"),
		Activity:      v.GetString("activity"),
		Marker:        v.GetString("marker"),
		DeviceDataDir: v.GetString("device-data-dir"),
		Port:          v.GetInt("port"),
		EmulatorArgs:  v.GetStringSlice("emulator-arg"),
		FirstWait:     v.GetDuration("first-wait"),
		RetryWait:     v.GetDuration("retry-wait"),
		PollInterval:  v.GetDuration("poll-interval"),
	}
	paths := []struct {
		dst *string
		key string
	}{
		{&opts.APKPath, "apk"},
		{&opts.DataDir, "data-dir"},
		{&opts.SessionConfigPath, "env-json"},
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(v.GetString(p.key))
		if err != nil {
			return core.Options{}, fmt.Errorf("%s: %w", p.key, err)
		}
		*p.dst = expanded
	}
	return opts, opts.Validate()
}
