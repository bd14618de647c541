// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory paths for gatehouse.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "gatehouse"

// ConfigFileName is the name of the config file inside ConfigDir.
const ConfigFileName = "config.yaml"

func resolve(envVar string, fallback ...string) (string, error) {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", oops.Code("XDG_HOME_UNSET").With("env", envVar).Errorf("neither %s nor HOME is set", envVar)
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/gatehouse, falling back to ~/.config.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// DataDir returns $XDG_DATA_HOME/gatehouse, falling back to ~/.local/share.
func DataDir() (string, error) {
	return resolve("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns $XDG_STATE_HOME/gatehouse, falling back to ~/.local/state.
func StateDir() (string, error) {
	return resolve("XDG_STATE_HOME", ".local", "state")
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
