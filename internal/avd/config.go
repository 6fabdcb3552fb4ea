// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Keys recognized in the session configuration (env.json).
const (
	KeyStandaloneFilename = "IMJS_STANDALONE_FILENAME"
	KeyOIDCClientID       = "IMJS_OIDC_CLIENT_ID"
	KeyOIDCScope          = "IMJS_OIDC_SCOPE"
	KeyOIDCClientSecret   = "IMJS_OIDC_CLIENT_SECRET"
	KeyITwinID            = "IMJS_ITWIN_ID"
	KeyIModelID           = "IMJS_IMODEL_ID"
)

// DownloadKeys must all be present for the app to fetch its model itself.
var DownloadKeys = []string{
	KeyOIDCClientID,
	KeyOIDCScope,
	KeyOIDCClientSecret,
	KeyITwinID,
	KeyIModelID,
}

// StagingMode says where the app under test gets its data from.
type StagingMode int

const (
	ModeUnknown StagingMode = iota
	// ModeStandalone stages a local data file on the device.
	ModeStandalone
	// ModeDownload lets the app download its data; nothing is staged.
	ModeDownload
)

func (m StagingMode) String() string {
	switch m {
	case ModeStandalone:
		return "standalone"
	case ModeDownload:
		return "download"
	}
	return "unknown"
}

func (m StagingMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// SessionConfig is an immutable, case-insensitive string map.
type SessionConfig struct {
	values map[string]string
}

func NewSessionConfig(values map[string]string) SessionConfig {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[strings.ToLower(k)] = v
	}
	return SessionConfig{values: cp}
}

// keyDelimiter replaces viper's default "." so dotted env.json keys stay flat.
const keyDelimiter = "::"

// LoadSessionConfig reads a flat JSON object. Anything else is a *ConfigError.
func LoadSessionConfig(path string) (SessionConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return SessionConfig{}, &ConfigError{Reason: fmt.Sprintf("load %s", path), Err: err}
	}
	values := make(map[string]string)
	for _, k := range v.AllKeys() {
		if parent, _, nested := strings.Cut(k, keyDelimiter); nested {
			return SessionConfig{}, &ConfigError{Reason: fmt.Sprintf("%s: nested object under %q, expected a flat object", path, parent)}
		}
		values[k] = v.GetString(k)
	}
	return NewSessionConfig(values), nil
}

func (c SessionConfig) Get(key string) (string, bool) {
	v, ok := c.values[strings.ToLower(key)]
	return v, ok
}

func (c SessionConfig) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StandaloneFile is the data file to stage, if the config names one.
func (c SessionConfig) StandaloneFile() (string, bool) {
	v, ok := c.Get(KeyStandaloneFilename)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (c SessionConfig) ShouldDownload() bool {
	for _, k := range DownloadKeys {
		if _, ok := c.Get(k); !ok {
			return false
		}
	}
	return true
}

// Mode selects standalone staging first, then download mode.
func (c SessionConfig) Mode() (StagingMode, error) {
	if _, ok := c.StandaloneFile(); ok {
		return ModeStandalone, nil
	}
	if c.ShouldDownload() {
		return ModeDownload, nil
	}
	return ModeUnknown, &ConfigError{Reason: "environment not configured for standalone or download mode"}
}
