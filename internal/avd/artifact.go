// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"golang.org/x/crypto/blake2b"
)

// Artifact describes the installable package produced by the build.
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Digest    string `json:"digest"` // blake2b-256, hex
}

// InspectArtifact confirms the build produced path and fingerprints it.
func InspectArtifact(path string) (Artifact, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Artifact{}, &ConfigError{
			Reason: fmt.Sprintf("build artifact %s not found", path),
			Err:    fmt.Errorf("%w: %w", errdefs.ErrNotFound, err),
		}
	}
	if !st.Mode().IsRegular() {
		return Artifact{}, &ConfigError{Reason: fmt.Sprintf("build artifact %s is not a regular file", path)}
	}
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return Artifact{}, err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return Artifact{}, fmt.Errorf("hash artifact: %w", err)
	}
	return Artifact{Path: path, SizeBytes: n, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}
